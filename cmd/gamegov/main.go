// Command gamegov is the workload optimizer's entrypoint: it wires the
// orchestrator, config store and stats registry together and exposes a
// thin cobra CLI (run / status / config), grounded on the teacher's
// cmd/consumption/main.go cobra-root style.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/gamegov/optimizer/internal/config"
	"github.com/gamegov/optimizer/internal/extreme"
	"github.com/gamegov/optimizer/internal/foreground"
	"github.com/gamegov/optimizer/internal/grouplimit"
	"github.com/gamegov/optimizer/internal/logging"
	"github.com/gamegov/optimizer/internal/orchestrator"
	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/oserr"
	"github.com/gamegov/optimizer/internal/stats"
	"github.com/gamegov/optimizer/internal/sysprobe"
	"github.com/gamegov/optimizer/internal/types"
)

// Exit codes, spec §6.
const (
	exitOK                     = 0
	exitInsufficientPrivileges = 2
	exitConfigError            = 3
	exitFatalOSFacade          = 4
)

type rootOpts struct {
	configPath  string
	cacheDir    string
	debounceMs  int
	logLevel    string
	metricsAddr string
}

func main() {
	var o rootOpts

	root := &cobra.Command{
		Use:   "gamegov",
		Short: "Host-resident workload optimizer for the foreground process",
		Long: `gamegov observes which application holds the user's attention and
continuously re-tunes scheduling, memory, I/O and network parameters so the
foreground workload — especially a tagged game — gets maximum
responsiveness while the rest of the system is throttled.`,
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", defaultConfigPath(), "path to the JSON configuration document")
	root.PersistentFlags().StringVar(&o.cacheDir, "cache-dir", defaultCacheDir(), "directory for the CPU-topology cache")
	root.PersistentFlags().IntVar(&o.debounceMs, "debounce-ms", 300, "foreground-change debounce window in milliseconds")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "minimum log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&o.metricsAddr, "metrics-addr", "127.0.0.1:9091", "address to serve Prometheus metrics on")

	root.AddCommand(newRunCmd(&o), newStatusCmd(&o), newConfigCmd(&o))

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(exitCodeFor(err))
	}
}

func newRunCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the orchestrator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), o)
		},
	}
}

func runDaemon(ctx context.Context, o *rootOpts) error {
	log := logging.New(os.Stderr, parseLevel(o.logLevel))

	facade := osfacade.New()
	privResults := osfacade.BootstrapPrivileges(facade)
	for name, ok := range privResults {
		if !ok {
			log.Warn("privilege not granted", "privilege", name)
		}
	}
	if !privResults[osfacade.PrivilegeIncreasePriority] {
		log.Warn("extreme mode disabled: missing SeIncreaseBasePriorityPrivilege")
	}

	cfgStore, err := config.Load(o.configPath)
	if err != nil {
		log.Error("config load failed", "err", err)
		return oserr.New(oserr.Config, "main_run", err)
	}
	if err := cfgStore.Watch(func(doc config.Document) {
		log.Info("config reloaded from disk", "last_mode", doc.LastMode)
	}); err != nil {
		log.Warn("config watch failed, external edits will not be picked up live", "err", err)
	}
	defer cfgStore.Close()

	probe := sysprobe.New(o.cacheDir)
	groups := grouplimit.New(facade)
	statsReg := stats.New()
	if o.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(statsReg.Gatherer(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(o.metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", "err", err)
			}
		}()
	}
	var txn *extreme.Transaction
	if privResults[osfacade.PrivilegeIncreasePriority] {
		txn = extreme.New(facade, probe, nil, nil, nil, nil)
	}

	hook := foreground.NewHook()

	orch, err := orchestrator.New(orchestrator.Deps{
		Facade:     facade,
		Probe:      probe,
		Config:     cfgStore,
		Groups:     groups,
		Extreme:    txn,
		Stats:      statsReg,
		Log:        log,
		Hook:       hook,
		DebounceMs: time.Duration(o.debounceMs) * time.Millisecond,
	})
	if err != nil {
		log.Error("orchestrator init failed", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("orchestrator starting", "config", o.configPath)
	return orch.Run(ctx)
}

func newStatusCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the stored configuration document and available memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgStore, err := config.Load(o.configPath)
			if err != nil {
				return oserr.New(oserr.Config, "status", err)
			}
			doc := cfgStore.Get()

			probe := sysprobe.New(o.cacheDir)
			load, err := probe.SystemLoad()
			if err != nil {
				return oserr.New(oserr.Transient, "status_load", err)
			}

			type statusReport struct {
				config.Document
				MemAvailable string `json:"mem_available"`
			}
			report := statusReport{
				Document:     doc,
				MemAvailable: types.Bytes(load.MemAvailBytes).Humanized(),
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newConfigCmd(o *rootOpts) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Get or set configuration values",
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current configuration document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgStore, err := config.Load(o.configPath)
			if err != nil {
				return oserr.New(oserr.Config, "config_get", err)
			}
			b, err := json.MarshalIndent(cfgStore.Get(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		},
	})

	var soft, hard, shutdown int
	thermalCmd := &cobra.Command{
		Use:   "set-thermal",
		Short: "Set thermal thresholds in degrees Celsius",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgStore, err := config.Load(o.configPath)
			if err != nil {
				return oserr.New(oserr.Config, "config_set_thermal", err)
			}
			return cfgStore.SetThermalThresholds(config.ThermalThresholds{Soft: soft, Hard: hard, Shutdown: shutdown})
		},
	}
	thermalCmd.Flags().IntVar(&soft, "soft", 80, "soft threshold in °C")
	thermalCmd.Flags().IntVar(&hard, "hard", 90, "hard threshold in °C")
	thermalCmd.Flags().IntVar(&shutdown, "shutdown", 100, "shutdown threshold in °C")
	cfgCmd.AddCommand(thermalCmd)

	var gameUser string
	addGameCmd := &cobra.Command{
		Use:   "add-game",
		Short: "Add a process name to the user gamelist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgStore, err := config.Load(o.configPath)
			if err != nil {
				return oserr.New(oserr.Config, "config_add_game", err)
			}
			return cfgStore.AddGamelistUser(gameUser)
		},
	}
	addGameCmd.Flags().StringVar(&gameUser, "name", "", "process name, e.g. game.exe")
	cfgCmd.AddCommand(addGameCmd)

	return cfgCmd
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gamegov.json"
	}
	return filepath.Join(dir, "gamegov", "config.json")
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".gamegov-cache"
	}
	return filepath.Join(dir, "gamegov")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func exitCodeFor(err error) int {
	switch oserr.KindOf(err) {
	case oserr.Denied:
		return exitInsufficientPrivileges
	case oserr.Config:
		return exitConfigError
	case oserr.Fatal:
		return exitFatalOSFacade
	default:
		return 1
	}
}
