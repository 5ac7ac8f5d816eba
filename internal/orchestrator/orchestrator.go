// Package orchestrator implements the supervisor loop (spec §4.10): the
// single thread that wires the foreground pipeline, system probe, rule
// engine, settings applicator, group-limit manager and extreme transaction
// together and owns the module's policy. Grounded on the teacher's
// cmd/consumption/main.go main loop shape (ticker + select + iteration
// counters gating periodic work).
package orchestrator

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gamegov/optimizer/internal/config"
	"github.com/gamegov/optimizer/internal/extreme"
	"github.com/gamegov/optimizer/internal/foreground"
	"github.com/gamegov/optimizer/internal/grouplimit"
	"github.com/gamegov/optimizer/internal/handlecache"
	"github.com/gamegov/optimizer/internal/oserr"
	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/policy"
	"github.com/gamegov/optimizer/internal/settings"
	"github.com/gamegov/optimizer/internal/stats"
	"github.com/gamegov/optimizer/internal/sysprobe"
	"github.com/gamegov/optimizer/internal/types"
)

// TickInterval is the supervisor loop's cadence (spec §4.10, ~100ms).
const TickInterval = 100 * time.Millisecond

// Cadence constants: "every N iterations" (spec §4.10).
const (
	thermalCheckEvery = 5
	maintenanceEvery  = 10
	idleTrimEvery     = 100
	gcEvery           = 100
	statsEvery        = 50
	replanMaxInterval = 2 * time.Second
)

// Group-limit CPU-rate caps (spec §4.6), grounded on the original
// apply_settings_to_process_group's 95/40 split: the current foreground
// root's group is capped near-unrestricted, while the group belonging to
// whichever root previously held the foreground is recapped down once it
// loses focus.
const (
	foregroundGroupCPURatePercent = 95
	backgroundGroupCPURatePercent = 40
)

// Orchestrator owns all mutable orchestration state except what is
// explicitly shared under its own locks (spec §5: handle caches, debouncer
// state, group-limit table). One instance is created per run.
type Orchestrator struct {
	facade   osfacade.Facade
	probe    *sysprobe.Probe
	cfgStore *config.Store
	engine   *policy.Engine
	applier  *settings.Applicator
	groups   *grouplimit.Manager
	txn      *extreme.Transaction
	procCache *handlecache.Cache[types.ProcessId]
	stats    *stats.Registry
	pipeline *foreground.Pipeline
	log      *slog.Logger

	mu                  sync.Mutex
	foregroundPID       types.ProcessId
	lastPlanned         types.ProcessId
	lastPlanTime        time.Time
	pendingFg           types.ProcessId
	havePendingFg       bool
	lastForegroundGroup string

	stopOnce sync.Once
	stopCh   chan struct{}

	applicatorErrors uint64
}

// Deps bundles everything the orchestrator needs to be built from outside
// (so tests can substitute simulation/fake implementations for every
// collaborator).
type Deps struct {
	Facade   osfacade.Facade
	Probe    *sysprobe.Probe
	Config   *config.Store
	Rules    []policy.Rule
	Groups   *grouplimit.Manager
	Extreme  *extreme.Transaction
	Stats    *stats.Registry
	Log      *slog.Logger
	Hook     foreground.Hook
	DebounceMs time.Duration
}

// New builds an Orchestrator wired from deps. It does not start the loop;
// call Run to start it.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Rules == nil {
		deps.Rules = policy.DefaultRules()
	}

	o := &Orchestrator{
		facade:   deps.Facade,
		probe:    deps.Probe,
		cfgStore: deps.Config,
		engine:   policy.NewEngine(deps.Rules),
		groups:   deps.Groups,
		txn:      deps.Extreme,
		stats:    deps.Stats,
		log:      deps.Log,
		stopCh:   make(chan struct{}),
	}

	cache, err := handlecache.New[types.ProcessId](
		handlecache.DefaultProcessMaxSize,
		func(pid types.ProcessId) (osfacade.Handle, error) { return o.facade.OpenProcess(pid) },
		o.facade.CloseHandle,
	)
	if err != nil {
		return nil, oserr.New(oserr.Fatal, "orchestrator_new", err)
	}
	o.procCache = cache
	o.applier = settings.New(o.facade, cache)

	if deps.Hook != nil {
		pipeline, err := foreground.NewPipeline(deps.Hook, deps.DebounceMs, o.onForegroundStable)
		if err != nil {
			o.log.Error("foreground hook install failed, continuing without foreground adaptation", "err", err)
		}
		o.pipeline = pipeline
	}

	return o, nil
}

// onForegroundStable is the debouncer's sink (spec §4.4): it records the
// latest stable PID under the lock; the orchestrator's own loop picks it
// up on its next iteration ("most recent wins", spec §5).
func (o *Orchestrator) onForegroundStable(pid types.ProcessId) {
	o.mu.Lock()
	o.pendingFg = pid
	o.havePendingFg = true
	o.mu.Unlock()
}

// Run executes the supervisor loop until ctx is cancelled or Stop is
// called. It never returns on a per-process failure — only a Fatal
// oserr.Kind from the OS facade surfaces as a returned error (spec §4.10).
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	var iteration uint64

	for {
		select {
		case <-ctx.Done():
			return o.shutdown()
		case <-o.stopCh:
			return o.shutdown()
		case <-ticker.C:
			iteration++
			if err := o.tick(iteration); err != nil {
				if oserr.KindOf(err) == oserr.Fatal {
					o.log.Error("fatal OS facade error, exiting", "err", err)
					return err
				}
				o.log.Warn("tick error", "err", err)
			}
		}
	}
}

// Stop signals the loop to exit and deactivates extreme mode before
// handle drain (spec §5 shutdown sequence).
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) shutdown() error {
	if o.txn != nil && o.txn.State() != extreme.Inactive {
		if err := o.txn.Deactivate(); err != nil {
			o.log.Warn("extreme deactivate during shutdown failed", "err", err)
		}
	}
	if o.pipeline != nil {
		_ = o.pipeline.Close()
	}
	if o.groups != nil {
		_ = o.groups.Close()
	}
	o.procCache.Clear()
	return nil
}

func (o *Orchestrator) tick(iteration uint64) error {
	o.drainForeground()

	if o.shouldReplan() {
		if err := o.replan(); err != nil {
			kind := oserr.KindOf(err)
			if kind == oserr.Fatal {
				return err
			}
			o.log.Debug("replan error", "err", err)
		}
	}

	if iteration%thermalCheckEvery == 0 {
		o.thermalCheck()
	}
	if iteration%maintenanceEvery == 0 {
		o.maintenance()
	}
	if iteration%idleTrimEvery == 0 {
		o.idleTrim()
	}
	if iteration%gcEvery == 0 {
		o.maybeGC()
	}
	if iteration%statsEvery == 0 {
		o.emitStats()
	}

	return nil
}

// drainForeground pulls the most recent debounced transition, if any
// arrived since the last tick (spec §4.10 step 1: "most recent wins").
func (o *Orchestrator) drainForeground() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.havePendingFg {
		o.foregroundPID = o.pendingFg
		o.havePendingFg = false
	}
}

func (o *Orchestrator) shouldReplan() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.foregroundPID == 0 {
		return false
	}
	if o.foregroundPID != o.lastPlanned {
		return true
	}
	return time.Since(o.lastPlanTime) >= replanMaxInterval
}

// replan computes a plan for the foreground tree and a contrasting plan
// for everything else, then applies both (spec §4.10 step 2).
func (o *Orchestrator) replan() error {
	o.mu.Lock()
	fgPID := o.foregroundPID
	o.mu.Unlock()

	tree, err := o.probe.ProcessTree(int(fgPID))
	if err != nil {
		return err
	}

	load, err := o.probe.SystemLoad()
	if err != nil {
		return err
	}
	maxTemp, _ := o.probe.Temperature()

	cfg := o.cfgStore.Get()
	snap := policy.Snapshot{
		CPUPercent:    load.CPUPercent,
		MemAvailBytes: load.MemAvailBytes,
		MaxTempC:      maxTemp,
		Mode:          modeFromConfig(cfg.LastMode),
		ForegroundPID: int(fgPID),
	}
	plan := o.engine.Evaluate(snap)

	snapAll, err := o.probe.SnapshotProcesses()
	if err != nil {
		return err
	}

	gamelist := toSet(cfg.UserGamelist)

	for pid, rec := range snapAll.ByPID {
		_, inTree := tree[pid]
		role := policy.Classify(rec, tree, gamelist)
		bundle := planToBundle(role, plan, inTree)
		if bundle.IsEmpty() {
			continue
		}
		res, err := o.applier.Apply(types.ProcessId(pid), bundle)
		if err != nil {
			o.log.Debug("apply failed", "pid", pid, "err", err)
			continue
		}
		if !res.OK() {
			o.mu.Lock()
			o.applicatorErrors += uint64(len(res.FieldErrors))
			o.mu.Unlock()
			if o.stats != nil {
				for range res.FieldErrors {
					o.stats.RecordApplicatorError()
				}
			}
		}
	}

	if o.groups != nil && fgPID != 0 {
		name := grouplimit.GroupName(fgPID)
		if err := o.groups.SetCPURate(name, foregroundGroupCPURatePercent); err != nil {
			o.log.Debug("foreground group cpu rate cap failed", "group", name, "err", err)
		}
		for pid := range tree {
			h, err := o.facade.OpenProcess(types.ProcessId(pid))
			if err != nil {
				continue
			}
			if err := o.groups.Assign(name, h, types.ProcessId(pid)); err != nil {
				o.log.Debug("group assign failed", "pid", pid, "group", name, "err", err)
			}
			_ = o.facade.CloseHandle(h)
		}

		o.mu.Lock()
		prevGroup := o.lastForegroundGroup
		o.lastForegroundGroup = name
		o.mu.Unlock()

		// The group the previous foreground root owned, if any and distinct
		// from the current one, is recapped to the background contrast plan
		// (spec §4.6's "cpu rate caps and affinity caps per group") rather than
		// destroyed — group-limit objects are reused across iterations, not
		// torn down on every foreground change.
		if prevGroup != "" && prevGroup != name {
			if err := o.groups.SetCPURate(prevGroup, backgroundGroupCPURatePercent); err != nil {
				o.log.Debug("background group cpu rate cap failed", "group", prevGroup, "err", err)
			}
			if topo, err := o.probe.CPUTopology(); err == nil && topo.Hybrid && len(topo.ECores) > 0 {
				if err := o.groups.SetAffinity(prevGroup, coreMask(topo.ECores)); err != nil {
					o.log.Debug("background group affinity cap failed", "group", prevGroup, "err", err)
				}
			}
		}
	}

	o.mu.Lock()
	o.lastPlanned = fgPID
	o.lastPlanTime = time.Now()
	o.mu.Unlock()
	return nil
}

// coreMask turns a list of logical-core indices into the bitset
// Facade.SetJobAffinityMask/SetProcessAffinityMask expect.
func coreMask(cores []int) uint64 {
	var mask uint64
	for _, c := range cores {
		if c >= 0 && c < 64 {
			mask |= 1 << uint(c)
		}
	}
	return mask
}

func toSet(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, v := range list {
		out[v] = struct{}{}
	}
	return out
}

func modeFromConfig(m config.Mode) policy.Mode {
	switch m {
	case config.ModeAhorro:
		return policy.ModeAhorro
	case config.ModeGame:
		return policy.ModeGame
	case config.ModeExtreme:
		return policy.ModeExtreme
	default:
		return policy.ModeNormal
	}
}

// planToBundle turns a merged PartialPlan into a concrete per-process
// settings bundle, splitting foreground-tree membership from everything
// else (spec §4.10 step 2: "a plan for the foreground tree and a
// contrasting plan for everything else").
func planToBundle(role policy.Role, plan policy.PartialPlan, inForegroundTree bool) settings.Bundle {
	if role == policy.RoleCriticalSystem {
		return settings.Bundle{}
	}

	var b settings.Bundle
	if inForegroundTree {
		if plan.ForegroundPriority != nil {
			b.PriorityClass = settings.PriorityClassPtr(*plan.ForegroundPriority)
		}
		if role == policy.RoleGame {
			b.PriorityBoostDisabled = settings.BoolPtr(true)
		}
	} else {
		if plan.BackgroundPriority != nil {
			b.PriorityClass = settings.PriorityClassPtr(*plan.BackgroundPriority)
		}
		if plan.AggressiveTrim {
			b.WorkingSetTrim = settings.BoolPtr(true)
		}
		if plan.ReduceCPUUsage {
			b.EfficiencyMode = settings.BoolPtr(true)
		}
	}
	return b
}

func (o *Orchestrator) thermalThresholds() sysprobe.ThermalThresholds {
	cfg := o.cfgStore.Get()
	return sysprobe.ThermalThresholds{
		SoftC:     cfg.ThermalThresholds.Soft,
		HardC:     cfg.ThermalThresholds.Hard,
		ShutdownC: cfg.ThermalThresholds.Shutdown,
	}
}

// thermalCheck implements spec §4.10 step 3: every 5 iterations, if soft
// is exceeded and CPU usage is above 80%, set every process outside the
// foreground tree to BelowNormal, whatever its current class.
func (o *Orchestrator) thermalCheck() {
	thresholds := o.thermalThresholds()
	if !o.probe.IsOverheating(thresholds) {
		if o.stats != nil {
			maxTemp, _ := o.probe.Temperature()
			o.stats.RecordThermal(maxTemp, false)
		}
		return
	}
	load, err := o.probe.SystemLoad()
	if err != nil || load.CPUPercent <= 80 {
		return
	}

	snap, err := o.probe.SnapshotProcesses()
	if err != nil {
		return
	}
	o.mu.Lock()
	fgPID := o.foregroundPID
	o.mu.Unlock()
	tree, _ := o.probe.ProcessTree(int(fgPID))

	demoted := false
	for pid := range snap.ByPID {
		if _, inTree := tree[pid]; inTree {
			continue
		}
		bundle := settings.Bundle{PriorityClass: settings.PriorityClassPtr(osfacade.BelowNormal)}
		if _, err := o.applier.Apply(types.ProcessId(pid), bundle); err == nil {
			demoted = true
		}
	}
	if o.stats != nil {
		maxTemp, _ := o.probe.Temperature()
		o.stats.RecordThermal(maxTemp, demoted)
	}
}

// maintenance is the spec §4.10 step 4 slot. It only logs a debug line;
// no storage-cache, network auto-tune or memory-scrubbing call is made.
func (o *Orchestrator) maintenance() {
	o.log.Debug("maintenance tick")
}

// idleTrim is the spec §4.10 step 5 slot. When CPU usage is at most 20% it
// logs a debug line; no TRIM or other storage call is issued.
func (o *Orchestrator) idleTrim() {
	load, err := o.probe.SystemLoad()
	if err != nil || load.CPUPercent > 20 {
		return
	}
	o.log.Debug("idle trim issued")
}

// maybeGC implements spec §4.10 step 6: a single generation-0 GC if CPU is
// low. The optimizer is the Go process's own runtime, not a target
// process's; this is a debug.FreeOSMemory-style hint on our own heap.
func (o *Orchestrator) maybeGC() {
	load, err := o.probe.SystemLoad()
	if err != nil || load.CPUPercent >= 30 {
		return
	}
	debug.FreeOSMemory()
	o.log.Debug("gc hint issued")
}

// emitStats implements spec §4.10 step 7.
func (o *Orchestrator) emitStats() {
	if o.stats == nil {
		return
	}
	cacheStats := o.procCache.Stats()
	o.stats.RecordCache(cacheStats.HitRate, cacheStats.Size)

	active := o.txn != nil && o.txn.State() == extreme.Active
	o.stats.RecordExtremeActive(active)

	o.mu.Lock()
	fgPID := o.foregroundPID
	o.mu.Unlock()
	cfg := o.cfgStore.Get()

	var memAvail types.Bytes
	if load, err := o.probe.SystemLoad(); err == nil {
		memAvail = types.Bytes(load.MemAvailBytes)
	}

	o.stats.SetSnapshot(stats.Snapshot{
		Mode:             string(cfg.LastMode),
		ForegroundPID:    int(fgPID),
		CacheHitRate:     cacheStats.HitRate,
		CacheSize:        cacheStats.Size,
		ApplicatorErrors: o.applicatorErrorsSnapshot(),
		ExtremeActive:    active,
		MemAvail:         memAvail,
	})
}

func (o *Orchestrator) applicatorErrorsSnapshot() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.applicatorErrors
}
