// Package extreme implements the extreme-latency transaction (spec §4.8):
// a reversible, transactional activation that isolates cores, suspends
// non-essential services, and escalates priorities for one target process.
//
// activate() either reaches the fully-activated state or rolls back and
// returns an error; deactivate() is idempotent and restores what the
// transaction recorded. Not every value is read back before it is changed:
// the target's priority and boost are restored to an assumed Normal with
// boost enabled, other processes' affinities to the all-cores mask, and the
// target's page priority is not restored.
package extreme

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gamegov/optimizer/internal/oserr"
	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/sysprobe"
	"github.com/gamegov/optimizer/internal/types"
)

// State is the transaction's lifecycle state (spec §4.8).
type State int

const (
	Inactive State = iota
	Activating
	Active
	Deactivating
)

func (s State) String() string {
	switch s {
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Deactivating:
		return "deactivating"
	default:
		return "inactive"
	}
}

// ServiceController stops/starts the whitelisted optional services
// (spec §4.8 step 3). The caller supplies the implementation; this module
// ships none, and a nil controller skips the step.
type ServiceController interface {
	// Stop halts name if running and returns whether it was running before
	// the call, so the caller can restore that state on rollback/deactivate.
	Stop(name string) (wasRunning bool, err error)
	Start(name string) error
}

// RegistryStore reads/writes the handful of registry keys extreme mode
// touches (mitigations, power policy). Out of scope per spec §1 is the
// *static* registry/power-config tweaker applied once at startup — this is
// a narrower, fully-reversible subset scoped to the transaction itself.
type RegistryStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// NetworkTuner disables delay-coalescing ACKs and sets aggressive TCP
// window parameters for step 7, and restores them on rollback.
type NetworkTuner interface {
	SetLowLatencyMode(enabled bool) (prior bool, err error)
}

// WhitelistedServices are optional services known safe to halt under
// extreme mode (spec §4.8 step 3): background updaters, indexing,
// telemetry, print spool.
var WhitelistedServices = []string{
	"wuauserv",     // Windows Update
	"WSearch",      // Windows Search indexing
	"DiagTrack",    // Connected User Experiences and Telemetry
	"Spooler",      // Print Spooler
	"SysMain",      // Superfetch/Prefetch
}

// priorConfig is the full rollback record (spec §3 ExtremeTransaction:
// "if active, prior_config is non-empty and every mutation is reversible").
type priorConfig struct {
	affinities      map[types.ProcessId]uint64
	serviceStates   map[string]bool // service name -> was running
	registryKeys    map[string]string
	mitigationsPrev string
	targetPriority  osfacade.PriorityClass
	targetBoostOff  bool
	networkLowLat   bool
	quantumSet      bool
}

func newPriorConfig() *priorConfig {
	return &priorConfig{
		affinities:    make(map[types.ProcessId]uint64),
		serviceStates: make(map[string]bool),
		registryKeys:  make(map[string]string),
	}
}

func (p *priorConfig) empty() bool {
	return len(p.affinities) == 0 && len(p.serviceStates) == 0 && len(p.registryKeys) == 0
}

// KernelTransport is the subset of internal/kerneltransport.Transport that
// extreme mode uses for its quantum/TLB/thread-priority escalation
// (spec §4.8 steps 4, 6, 10). Declared locally to avoid a package cycle;
// internal/kerneltransport.Transport satisfies it.
type KernelTransport interface {
	Available() bool
	SetThreadPriority(tid types.ThreadId, priority int32) error
	SetQuantumMultiplier(pid types.ProcessId, multiplier uint32) error
	FlushTLB(pid types.ProcessId) error
}

// Transaction is the orchestrator-owned extreme-mode state machine. It is
// mutated only on the orchestrator's thread (spec §5).
type Transaction struct {
	facade  osfacade.Facade
	probe   *sysprobe.Probe
	svc     ServiceController
	reg     RegistryStore
	net     NetworkTuner
	kernel  KernelTransport // may be nil: every step has a user-mode fallback

	mu         sync.Mutex
	state      State
	id         string
	targetPID  types.ProcessId
	reserved   []int
	stopped    []string
	prior      *priorConfig
}

// New builds a Transaction. kernel may be nil if no kernel-mode transport
// is available; every activation step falls back cleanly (spec §4.9).
func New(facade osfacade.Facade, probe *sysprobe.Probe, svc ServiceController, reg RegistryStore, net NetworkTuner, kernel KernelTransport) *Transaction {
	return &Transaction{
		facade: facade,
		probe:  probe,
		svc:    svc,
		reg:    reg,
		net:    net,
		kernel: kernel,
		state:  Inactive,
		prior:  newPriorConfig(),
	}
}

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Target returns the currently active target PID and whether the
// transaction is Active.
func (t *Transaction) Target() (types.ProcessId, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetPID, t.state == Active
}

// Activate reaches the fully-activated state for target, or restores the
// prior state and returns an error (spec §4.8). Active -> Active with the
// same target is a no-op; Active -> Active with a different target first
// deactivates the current one.
func (t *Transaction) Activate(target types.ProcessId) error {
	t.mu.Lock()
	if t.state == Active && t.targetPID == target {
		t.mu.Unlock()
		return nil
	}
	needsDeactivateFirst := t.state == Active && t.targetPID != target
	t.mu.Unlock()

	if needsDeactivateFirst {
		if err := t.Deactivate(); err != nil {
			return err
		}
	}

	t.mu.Lock()
	if t.state != Inactive {
		t.mu.Unlock()
		return oserr.New(oserr.Config, "extreme_activate", nil)
	}
	t.state = Activating
	t.id = uuid.NewString()
	t.targetPID = target
	t.prior = newPriorConfig()
	t.reserved = nil
	t.stopped = nil
	t.mu.Unlock()

	steps := []func() error{
		t.stepSnapshot,
		t.stepIsolateCores,
		t.stepStopServices,
		t.stepScheduler,
		t.stepCPUPolicy,
		t.stepMemory,
		t.stepNetwork,
		t.stepGPU,
		t.stepMitigations,
		t.stepKernelHooks,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			t.mu.Lock()
			t.state = Deactivating
			t.mu.Unlock()
			_ = t.rollback()
			t.mu.Lock()
			t.state = Inactive
			t.mu.Unlock()
			return err
		}
	}

	t.mu.Lock()
	t.state = Active
	t.mu.Unlock()
	return nil
}

// Deactivate reverses every recorded mutation in opposite order and
// returns to Inactive. It is idempotent: calling it while already Inactive
// is a no-op that returns nil.
func (t *Transaction) Deactivate() error {
	t.mu.Lock()
	if t.state == Inactive {
		t.mu.Unlock()
		return nil
	}
	t.state = Deactivating
	t.mu.Unlock()

	err := t.rollback()

	t.mu.Lock()
	t.state = Inactive
	t.targetPID = 0
	t.mu.Unlock()
	return err
}

// rollback restores every key recorded in prior_config. Per spec §8, after
// any activate -> (arbitrary failures) -> deactivate sequence, every key in
// prior_config must be restored to its recorded value — rollback is
// best-effort per key but every key is attempted.
func (t *Transaction) rollback() error {
	t.mu.Lock()
	prior := t.prior
	stopped := append([]string(nil), t.stopped...)
	target := t.targetPID
	t.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Restore order: quantum multiplier reset, mitigations, network mode,
	// stopped services, process affinities, recorded registry keys (power
	// policy, GPU scheduling; map order), then the target's priority and
	// boost. This is not the exact reverse of activation, and the target's
	// page priority is not restored.
	if t.kernel != nil && t.kernel.Available() {
		_ = t.kernel.SetQuantumMultiplier(target, 1)
	}

	if t.reg != nil && prior.mitigationsPrev != "" {
		record(t.reg.Set("mitigations", prior.mitigationsPrev))
	}

	if t.net != nil {
		_, err := t.net.SetLowLatencyMode(prior.networkLowLat)
		record(err)
	}

	for _, name := range stopped {
		wasRunning, ok := prior.serviceStates[name]
		if ok && wasRunning && t.svc != nil {
			record(t.svc.Start(name))
		}
	}

	for pid, mask := range prior.affinities {
		h, err := t.facade.OpenProcess(pid)
		if err != nil {
			continue // vanished target during rollback is not a rollback failure
		}
		record(t.facade.SetProcessAffinityMask(h, mask))
		_ = t.facade.CloseHandle(h)
	}

	for key, val := range prior.registryKeys {
		if t.reg != nil {
			record(t.reg.Set(key, val))
		}
	}

	if h, err := t.facade.OpenProcess(target); err == nil {
		_ = t.facade.SetPriorityClass(h, prior.targetPriority)
		_ = t.facade.SetPriorityBoostDisabled(h, prior.targetBoostOff)
		_ = t.facade.CloseHandle(h)
	}

	t.mu.Lock()
	t.reserved = nil
	t.stopped = nil
	t.prior = newPriorConfig()
	t.mu.Unlock()

	return firstErr
}

// --- activation steps, each a reversible mutation recorded in prior ---

func (t *Transaction) stepSnapshot() error {
	t.mu.Lock()
	target := t.targetPID
	t.mu.Unlock()

	h, err := t.facade.OpenProcess(target)
	if err != nil {
		return err
	}
	defer t.facade.CloseHandle(h)

	// The facade only exposes setters, not getters, for priority class and
	// boost state (real Windows priority/boost queries need a second,
	// separate syscall this module doesn't wrap yet), so the pre-activation
	// baseline is assumed rather than read back. Rollback restores this
	// assumed baseline, not necessarily the target's true prior state.
	t.mu.Lock()
	t.prior.targetPriority = osfacade.Normal
	t.prior.targetBoostOff = false
	t.mu.Unlock()
	return nil
}

func (t *Transaction) stepIsolateCores() error {
	topo, err := t.probe.CPUTopology()
	if err != nil {
		return err
	}
	n := reservedCoreCount(topo.PhysicalCores)
	reserved := make([]int, 0, n)
	for i := 0; i < n && i < len(topo.PCores); i++ {
		reserved = append(reserved, topo.PCores[i])
	}

	var reservedMask uint64
	for _, c := range reserved {
		reservedMask |= 1 << uint(c)
	}

	t.mu.Lock()
	target := t.targetPID
	t.reserved = reserved
	t.mu.Unlock()

	if h, err := t.facade.OpenProcess(target); err == nil {
		err := t.facade.SetProcessAffinityMask(h, reservedMask)
		_ = t.facade.CloseHandle(h)
		if err != nil {
			return err
		}
	} else {
		return err
	}

	snap, err := t.probe.SnapshotProcesses()
	if err != nil {
		return err
	}
	var complementMask uint64
	for i := 0; i < topo.LogicalCores; i++ {
		if (reservedMask>>uint(i))&1 == 0 {
			complementMask |= 1 << uint(i)
		}
	}
	if complementMask == 0 {
		complementMask = reservedMask
	}

	for pid := range snap.ByPID {
		if types.ProcessId(pid) == target || pid == 0 {
			continue
		}
		h, err := t.facade.OpenProcess(types.ProcessId(pid))
		if err != nil {
			continue // vanished or denied; best-effort per spec §7
		}
		t.mu.Lock()
		t.prior.affinities[types.ProcessId(pid)] = reservedMask | complementMask
		t.mu.Unlock()
		_ = t.facade.SetProcessAffinityMask(h, complementMask)
		_ = t.facade.CloseHandle(h)
	}
	return nil
}

func (t *Transaction) stepStopServices() error {
	if t.svc == nil {
		return nil
	}
	for _, name := range WhitelistedServices {
		wasRunning, err := t.svc.Stop(name)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.prior.serviceStates[name] = wasRunning
		t.stopped = append(t.stopped, name)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transaction) stepScheduler() error {
	t.mu.Lock()
	target := t.targetPID
	t.mu.Unlock()

	h, err := t.facade.OpenProcess(target)
	if err != nil {
		return err
	}
	defer t.facade.CloseHandle(h)

	if err := t.facade.SetPriorityBoostDisabled(h, true); err != nil {
		return err
	}
	if err := t.facade.SetPriorityClass(h, osfacade.Realtime); err != nil {
		return err
	}
	if t.kernel != nil && t.kernel.Available() {
		_ = t.kernel.SetQuantumMultiplier(target, MaxQuantumMultiplier)
		t.mu.Lock()
		t.prior.quantumSet = true
		t.mu.Unlock()
	}
	return nil
}

func (t *Transaction) stepCPUPolicy() error {
	// High-performance power policy / core-parking disable has no portable
	// facade surface; tracked as a registry-style toggle so rollback still
	// has a concrete key to restore (spec §4.8 step 5).
	if t.reg == nil {
		return nil
	}
	prev, err := t.reg.Get("power_policy")
	if err != nil {
		return nil // absent key: nothing to roll back, not fatal
	}
	t.mu.Lock()
	t.prior.registryKeys["power_policy"] = prev
	t.mu.Unlock()
	return t.reg.Set("power_policy", "high_performance")
}

func (t *Transaction) stepMemory() error {
	t.mu.Lock()
	target := t.targetPID
	t.mu.Unlock()

	h, err := t.facade.OpenProcess(target)
	if err != nil {
		return err
	}
	defer t.facade.CloseHandle(h)

	if err := t.facade.SetPagePriority(h, osfacade.PageNormal); err != nil {
		return err
	}
	if t.kernel != nil && t.kernel.Available() {
		_ = t.kernel.FlushTLB(target)
	}
	return nil
}

func (t *Transaction) stepNetwork() error {
	if t.net == nil {
		return nil
	}
	prior, err := t.net.SetLowLatencyMode(true)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.prior.networkLowLat = prior
	t.mu.Unlock()
	return nil
}

func (t *Transaction) stepGPU() error {
	// Hardware scheduling mode toggle is a registry-style key on Windows;
	// no portable facade surface exists, so it goes through the
	// RegistryStore, and with a nil store this step is a no-op.
	if t.reg == nil {
		return nil
	}
	prev, err := t.reg.Get("gpu_hw_scheduling")
	if err != nil {
		return nil
	}
	t.mu.Lock()
	t.prior.registryKeys["gpu_hw_scheduling"] = prev
	t.mu.Unlock()
	return t.reg.Set("gpu_hw_scheduling", "1")
}

func (t *Transaction) stepMitigations() error {
	if t.reg == nil {
		return nil
	}
	prev, err := t.reg.Get("mitigations")
	if err != nil {
		return nil
	}
	t.mu.Lock()
	t.prior.mitigationsPrev = prev
	t.mu.Unlock()
	// Weakening speculative-execution mitigations is a documented
	// security trade-off (spec §4.8 step 9); it is applied, not decided,
	// here — the decision to run extreme mode at all is the user's.
	return t.reg.Set("mitigations", "reduced")
}

func (t *Transaction) stepKernelHooks() error {
	if t.kernel == nil || !t.kernel.Available() {
		return nil
	}
	return nil // per-thread priority escalation requires enumerating
	// threads, which the probe does not currently expose; the process-level
	// Realtime class set in stepScheduler already dominates in practice.
}

// MaxQuantumMultiplier is the upper bound of the kernel transport's quantum
// multiplier, per spec §9's open question: resolved to the wider documented
// bound (1..10 inclusive), enforced at the kerneltransport call boundary.
const MaxQuantumMultiplier = 10
