//go:build !windows

package osfacade

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/gamegov/optimizer/internal/oserr"
	"github.com/gamegov/optimizer/internal/types"
)

// simFacade is the non-Windows stand-in for Facade. The real implementation
// (facade_windows.go) requires Win32/NT primitives this host does not have;
// simFacade lets the rest of the module (handle cache, settings applicator,
// orchestrator, extreme transaction) run and be tested on any platform by
// simulating handle lifetime and per-handle state in memory, while reporting
// Unsupported for operations that have no sane non-Windows analogue.
//
// This is the facade wired into every unit test in this module.
type simFacade struct {
	mu      sync.Mutex
	nextH   uint64
	handles map[Handle]*simState
	jobs    map[Handle]*simJob
}

type simState struct {
	pid         types.ProcessId
	tid         types.ThreadId
	isThread    bool
	live        bool
	priority    PriorityClass
	boostOff    bool
	pagePrio    PagePriority
	affinity    uint64
	ioPrio      IOPriority
	efficiency  bool
	suspended   bool
}

type simJob struct {
	name     string
	cpuRate  int
	affinity uint64
	members  []Handle
}

// NewSim returns a Facade that simulates OS effects in memory. It never
// touches real process state; OpenProcess succeeds for any PID whose
// process currently exists per os.FindProcess-style liveness (on
// non-Windows, PID 0 and negative PIDs are treated as vanished).
func NewSim() Facade {
	return &simFacade{handles: make(map[Handle]*simState), jobs: make(map[Handle]*simJob)}
}

// New returns the platform Facade. Outside Windows there is no real
// implementation, so New falls back to the in-memory simulation and callers
// relying on privileged effects should treat BootstrapPrivileges results as
// informative, not authoritative.
func New() Facade { return NewSim() }

func (s *simFacade) alloc() Handle {
	return Handle(atomic.AddUint64(&s.nextH, 1))
}

func (s *simFacade) OpenProcess(pid types.ProcessId) (Handle, error) {
	if pid == 0 {
		return InvalidHandle, oserr.New(oserr.Vanished, "open_process", nil)
	}
	if !processExists(int(pid)) {
		return InvalidHandle, oserr.New(oserr.Vanished, "open_process", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.alloc()
	s.handles[h] = &simState{pid: pid, live: true, priority: Normal, pagePrio: PageNormal, ioPrio: IONormal}
	return h, nil
}

func (s *simFacade) OpenThread(tid types.ThreadId) (Handle, error) {
	if tid == 0 {
		return InvalidHandle, oserr.New(oserr.Vanished, "open_thread", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.alloc()
	s.handles[h] = &simState{tid: tid, isThread: true, live: true, priority: Normal, ioPrio: IONormal}
	return h, nil
}

func (s *simFacade) CloseHandle(h Handle) error {
	if h == InvalidHandle {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, h)
	return nil
}

func (s *simFacade) get(op string, h Handle) (*simState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.handles[h]
	if !ok || !st.live {
		return nil, oserr.New(oserr.Vanished, op, nil)
	}
	return st, nil
}

func (s *simFacade) SetPriorityClass(h Handle, pc PriorityClass) error {
	st, err := s.get("set_priority_class", h)
	if err != nil {
		return err
	}
	if pc == Realtime {
		// Realtime requires SeIncreaseBasePriorityPrivilege; the simulation
		// conservatively denies it, matching spec §8's boundary behavior
		// ("Applying priority_class = Realtime without the corresponding
		// privilege fails cleanly without demoting the process").
		return oserr.New(oserr.Denied, "set_priority_class", nil)
	}
	s.mu.Lock()
	st.priority = pc
	s.mu.Unlock()
	_ = nativePriorityClass(pc)
	return nil
}

func (s *simFacade) SetPriorityBoostDisabled(h Handle, disabled bool) error {
	st, err := s.get("set_priority_boost", h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.boostOff = disabled
	s.mu.Unlock()
	return nil
}

func (s *simFacade) SetPagePriority(h Handle, p PagePriority) error {
	st, err := s.get("set_page_priority", h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.pagePrio = p
	s.mu.Unlock()
	_ = nativePagePriority(p)
	return nil
}

func (s *simFacade) SetProcessAffinityMask(h Handle, mask uint64) error {
	st, err := s.get("set_process_affinity", h)
	if err != nil {
		return err
	}
	if mask == 0 {
		return oserr.New(oserr.Config, "set_process_affinity", nil)
	}
	s.mu.Lock()
	st.affinity = mask
	s.mu.Unlock()
	return nil
}

func (s *simFacade) SetThreadAffinityMask(h Handle, mask uint64) error {
	st, err := s.get("set_thread_affinity", h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.affinity = mask
	s.mu.Unlock()
	return nil
}

func (s *simFacade) SetIOPriority(h Handle, p IOPriority) error {
	st, err := s.get("set_io_priority", h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.ioPrio = p
	s.mu.Unlock()
	_ = nativeIOPriority(p)
	return nil
}

func (s *simFacade) SetThreadIOPriority(h Handle, p IOPriority) error {
	return s.SetIOPriority(h, p)
}

func (s *simFacade) SetEfficiencyMode(h Handle, enabled bool) error {
	st, err := s.get("set_efficiency_mode", h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.efficiency = enabled
	s.mu.Unlock()
	return nil
}

func (s *simFacade) TrimWorkingSet(h Handle) error {
	_, err := s.get("trim_working_set", h)
	return err
}

func (s *simFacade) SuspendProcess(h Handle) error {
	st, err := s.get("suspend_process", h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.suspended = true
	s.mu.Unlock()
	return nil
}

func (s *simFacade) ResumeProcess(h Handle) error {
	st, err := s.get("resume_process", h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.suspended = false
	s.mu.Unlock()
	return nil
}

func (s *simFacade) CreateJobObject(name string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, j := range s.jobs {
		if j.name == name {
			return h, nil
		}
	}
	h := s.alloc()
	s.jobs[h] = &simJob{name: name}
	return h, nil
}

func (s *simFacade) AssignProcessToJobObject(job, proc Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[job]
	if !ok {
		return oserr.New(oserr.Vanished, "assign_job_object", nil)
	}
	if _, ok := s.handles[proc]; !ok {
		return oserr.New(oserr.Vanished, "assign_job_object", nil)
	}
	for _, m := range j.members {
		if m == proc {
			return nil
		}
	}
	j.members = append(j.members, proc)
	return nil
}

func (s *simFacade) SetJobCPURate(job Handle, percent int) error {
	if percent < 1 || percent > 100 {
		return oserr.New(oserr.Config, "set_job_cpu_rate", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[job]
	if !ok {
		return oserr.New(oserr.Vanished, "set_job_cpu_rate", nil)
	}
	j.cpuRate = percent
	return nil
}

func (s *simFacade) SetJobAffinityMask(job Handle, mask uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[job]
	if !ok {
		return oserr.New(oserr.Vanished, "set_job_affinity", nil)
	}
	j.affinity = mask
	return nil
}

func (s *simFacade) DeviceIoControl(dev Handle, code uint32, in []byte, outLen int) ([]byte, error) {
	// No real device exists off-Windows; the kernel transport always treats
	// this as Unsupported and falls back to user-mode calls (spec §4.9).
	return nil, oserr.New(oserr.Unsupported, "device_io_control", nil)
}

func (s *simFacade) EnablePrivilege(name string) error {
	// Simulated as always-available so tests can exercise privileged code
	// paths deterministically; BootstrapPrivileges treats failures, not
	// successes, as noteworthy, so this bias is safe.
	return nil
}

// processExists reports whether pid names a live OS process. On POSIX-like
// systems, os.FindProcess always succeeds; signal 0 is the standard
// existence probe.
func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
