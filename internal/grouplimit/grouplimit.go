// Package grouplimit implements the group-limit manager (spec §4.6):
// kernel group-limit objects (Windows Job Objects) are created lazily,
// reused across iterations, and destroyed at shutdown. A PID reassigned
// from one group to another keeps the union of both groups' constraints,
// per OS semantics — this package documents that rather than fighting it.
package grouplimit

import (
	"strconv"
	"sync"

	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/types"
)

// Limit records the caps currently requested for one group, independent of
// whatever the OS facade actually enforces — useful for tests and stats.
type Limit struct {
	Name           string
	Handle         osfacade.Handle
	CPURatePercent int
	AffinityMask   uint64
	Members        map[types.ProcessId]struct{}
}

// Manager owns every group-limit object created during one run. Grounded on
// spec §3: "Created lazily, reused across iterations, destroyed at
// shutdown." Concurrency: a single mutex guards the name→handle table,
// constant-time get-or-create (spec §5).
type Manager struct {
	facade osfacade.Facade

	mu     sync.Mutex
	groups map[string]*Limit
}

// New builds a Manager bound to facade.
func New(facade osfacade.Facade) *Manager {
	return &Manager{facade: facade, groups: make(map[string]*Limit)}
}

// GroupName derives a stable, deterministic group name for a foreground root
// PID, per spec §3 ("group names are chosen per foreground root, e.g.
// group_<pid>") and §4.6's "created lazily, reused across iterations": the
// same root PID must map to the same name across replans within one run so
// Ensure hands back the existing Job Object instead of fabricating a new one
// every tick.
func GroupName(root types.ProcessId) string {
	return "group_" + strconv.FormatUint(uint64(root), 10)
}

// Ensure returns the group-limit object for name, creating it the first
// time and reusing it thereafter (spec §4.6).
func (m *Manager) Ensure(name string) (*Limit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.groups[name]; ok {
		return g, nil
	}

	h, err := m.facade.CreateJobObject(name)
	if err != nil {
		return nil, err
	}
	g := &Limit{Name: name, Handle: h, Members: make(map[types.ProcessId]struct{})}
	m.groups[name] = g
	return g, nil
}

// SetCPURate installs a proportional CPU-time cap of percent (1-100) on
// the named group.
func (m *Manager) SetCPURate(name string, percent int) error {
	g, err := m.Ensure(name)
	if err != nil {
		return err
	}
	if err := m.facade.SetJobCPURate(g.Handle, percent); err != nil {
		return err
	}
	m.mu.Lock()
	g.CPURatePercent = percent
	m.mu.Unlock()
	return nil
}

// SetAffinity installs an affinity cap mask on the named group.
func (m *Manager) SetAffinity(name string, mask uint64) error {
	g, err := m.Ensure(name)
	if err != nil {
		return err
	}
	if err := m.facade.SetJobAffinityMask(g.Handle, mask); err != nil {
		return err
	}
	m.mu.Lock()
	g.AffinityMask = mask
	m.mu.Unlock()
	return nil
}

// Assign adds pid to the named group. Per spec §4.6, a PID assigned to
// group A and later assigned to group B ends up under the union of both
// groups' constraints — this is OS Job Object semantics (a process may
// belong to multiple nested/sibling jobs) and is not fought here; Assign
// never removes pid from any other group it already belongs to.
func (m *Manager) Assign(name string, h osfacade.Handle, pid types.ProcessId) error {
	g, err := m.Ensure(name)
	if err != nil {
		return err
	}
	if err := m.facade.AssignProcessToJobObject(g.Handle, h); err != nil {
		return err
	}
	m.mu.Lock()
	g.Members[pid] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Groups returns a snapshot of every group currently tracked, for stats.
func (m *Manager) Groups() []Limit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Limit, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, *g)
	}
	return out
}

// Close destroys every tracked group-limit object (spec §3: "destroyed at
// shutdown").
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for name, g := range m.groups {
		if err := m.facade.CloseHandle(g.Handle); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.groups, name)
	}
	return firstErr
}
