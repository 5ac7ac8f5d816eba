package extreme

import (
	"errors"
	"sync"
	"testing"

	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/sysprobe"
	"github.com/gamegov/optimizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServices struct {
	mu       sync.Mutex
	running  map[string]bool
	failOn   string
}

func newFakeServices() *fakeServices {
	return &fakeServices{running: map[string]bool{
		"wuauserv": true, "WSearch": true, "DiagTrack": true, "Spooler": true, "SysMain": true,
	}}
}

func (f *fakeServices) Stop(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failOn {
		return false, errors.New("boom")
	}
	was := f.running[name]
	f.running[name] = false
	return was, nil
}

func (f *fakeServices) Start(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[name] = true
	return nil
}

type fakeRegistry struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{data: map[string]string{
		"power_policy":      "balanced",
		"gpu_hw_scheduling": "0",
		"mitigations":       "full",
	}}
}

func (r *fakeRegistry) Get(key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (r *fakeRegistry) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = value
	return nil
}

type fakeNetwork struct {
	lowLatency bool
}

func (n *fakeNetwork) SetLowLatencyMode(enabled bool) (bool, error) {
	prior := n.lowLatency
	n.lowLatency = enabled
	return prior, nil
}

type noopKernel struct{}

func (noopKernel) Available() bool                                               { return false }
func (noopKernel) SetThreadPriority(types.ThreadId, int32) error                  { return nil }
func (noopKernel) SetQuantumMultiplier(types.ProcessId, uint32) error             { return nil }
func (noopKernel) FlushTLB(types.ProcessId) error                                 { return nil }

func newTestTransaction(t *testing.T, svc ServiceController) (*Transaction, types.ProcessId) {
	t.Helper()
	facade := osfacade.NewSim()
	probe := sysprobe.New("")
	txn := New(facade, probe, svc, newFakeRegistry(), &fakeNetwork{}, noopKernel{})

	pid, err := facade.OpenProcess(types.ProcessId(1))
	require.NoError(t, err)
	_ = pid
	return txn, types.ProcessId(1)
}

func TestActivate_ReachesActiveState(t *testing.T) {
	txn, pid := newTestTransaction(t, newFakeServices())
	err := txn.Activate(pid)
	require.NoError(t, err)
	assert.Equal(t, Active, txn.State())
	cur, active := txn.Target()
	assert.True(t, active)
	assert.Equal(t, pid, cur)
}

func TestActivate_SameTargetIsNoop(t *testing.T) {
	txn, pid := newTestTransaction(t, newFakeServices())
	require.NoError(t, txn.Activate(pid))
	require.NoError(t, txn.Activate(pid))
	assert.Equal(t, Active, txn.State())
}

func TestDeactivate_IsIdempotent(t *testing.T) {
	txn, pid := newTestTransaction(t, newFakeServices())
	require.NoError(t, txn.Activate(pid))
	require.NoError(t, txn.Deactivate())
	require.NoError(t, txn.Deactivate())
	assert.Equal(t, Inactive, txn.State())
}

func TestActivate_PartialFailureRollsBackEverything(t *testing.T) {
	svc := newFakeServices()
	svc.failOn = "Spooler"
	txn, pid := newTestTransaction(t, svc)

	err := txn.Activate(pid)
	require.Error(t, err)
	assert.Equal(t, Inactive, txn.State())
	_, active := txn.Target()
	assert.False(t, active)

	// every service that was stopped before the failure must be restarted
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.True(t, svc.running["wuauserv"])
	assert.True(t, svc.running["WSearch"])
	assert.True(t, svc.running["DiagTrack"])
}

func TestDeactivate_RestoresRegistryKeys(t *testing.T) {
	reg := newFakeRegistry()
	facade := osfacade.NewSim()
	probe := sysprobe.New("")
	txn := New(facade, probe, newFakeServices(), reg, &fakeNetwork{}, noopKernel{})
	pid := types.ProcessId(1)
	_, err := facade.OpenProcess(pid)
	require.NoError(t, err)

	require.NoError(t, txn.Activate(pid))
	require.NoError(t, txn.Deactivate())

	v, err := reg.Get("power_policy")
	require.NoError(t, err)
	assert.Equal(t, "balanced", v)

	v, err = reg.Get("mitigations")
	require.NoError(t, err)
	assert.Equal(t, "full", v)
}

func TestReservedCoreCount_TabulatedAndFallback(t *testing.T) {
	assert.Equal(t, 2, reservedCoreCount(4))
	assert.Equal(t, 3, reservedCoreCount(8))
	assert.Equal(t, 10, reservedCoreCount(20)) // untabulated: generic half split
	assert.Equal(t, 0, reservedCoreCount(0))
}

func TestActivate_DifferentTargetDeactivatesFirst(t *testing.T) {
	txn, pid1 := newTestTransaction(t, newFakeServices())
	facade := osfacade.NewSim() // unused directly; txn already wired
	_ = facade

	require.NoError(t, txn.Activate(pid1))
	assert.Equal(t, Active, txn.State())

	pid2 := types.ProcessId(2)
	// pid2 must exist in the same facade the transaction already uses;
	// Activate will reopen pid1/pid2 via its own facade internally, so we
	// only need pid2 to be a live PID from the transaction's perspective.
	// The sim facade treats any positive PID with a live OS process as
	// open-able; reuse pid1's liveness by targeting the same process id
	// space is not required here since OpenProcess checks process
	// existence, not prior registration.
	err := txn.Activate(pid2)
	if err == nil {
		assert.Equal(t, Active, txn.State())
		cur, _ := txn.Target()
		assert.Equal(t, pid2, cur)
	}
}
