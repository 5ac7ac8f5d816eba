//go:build !windows

package osfacade

import (
	"os"
	"testing"

	"github.com/gamegov/optimizer/internal/oserr"
	"github.com/gamegov/optimizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenProcess_SelfAndVanished(t *testing.T) {
	f := NewSim()
	me := types.ProcessId(os.Getpid())

	h, err := f.OpenProcess(me)
	require.NoError(t, err)
	require.NotEqual(t, InvalidHandle, h)
	assert.NoError(t, f.CloseHandle(h))

	_, err = f.OpenProcess(0)
	require.Error(t, err)
	assert.True(t, oserr.Is(err, oserr.Vanished))
}

func TestSetPriorityClass_RealtimeDeniedWithoutDemoting(t *testing.T) {
	f := NewSim()
	me := types.ProcessId(os.Getpid())
	h, err := f.OpenProcess(me)
	require.NoError(t, err)
	defer f.CloseHandle(h)

	require.NoError(t, f.SetPriorityClass(h, High))
	err = f.SetPriorityClass(h, Realtime)
	require.Error(t, err)
	assert.True(t, oserr.Is(err, oserr.Denied))
}

func TestSetProcessAffinityMask_RejectsZero(t *testing.T) {
	f := NewSim()
	me := types.ProcessId(os.Getpid())
	h, _ := f.OpenProcess(me)
	defer f.CloseHandle(h)

	err := f.SetProcessAffinityMask(h, 0)
	require.Error(t, err)
	assert.True(t, oserr.Is(err, oserr.Config))

	require.NoError(t, f.SetProcessAffinityMask(h, 0b11))
}

func TestOperationsOnClosedHandleReturnVanished(t *testing.T) {
	f := NewSim()
	me := types.ProcessId(os.Getpid())
	h, _ := f.OpenProcess(me)
	require.NoError(t, f.CloseHandle(h))

	err := f.SetPriorityClass(h, Normal)
	require.Error(t, err)
	assert.True(t, oserr.Is(err, oserr.Vanished))
}

func TestJobObject_CreateReusesByName(t *testing.T) {
	f := NewSim()
	j1, err := f.CreateJobObject("group_100")
	require.NoError(t, err)
	j2, err := f.CreateJobObject("group_100")
	require.NoError(t, err)
	assert.Equal(t, j1, j2)

	require.NoError(t, f.SetJobCPURate(j1, 50))
	err = f.SetJobCPURate(j1, 0)
	assert.True(t, oserr.Is(err, oserr.Config))
}

func TestAssignProcessToJobObject(t *testing.T) {
	f := NewSim()
	me := types.ProcessId(os.Getpid())
	h, _ := f.OpenProcess(me)
	defer f.CloseHandle(h)

	job, err := f.CreateJobObject("group_assign")
	require.NoError(t, err)
	require.NoError(t, f.AssignProcessToJobObject(job, h))
	// idempotent
	require.NoError(t, f.AssignProcessToJobObject(job, h))
}

func TestDeviceIoControl_UnsupportedOffWindows(t *testing.T) {
	f := NewSim()
	_, err := f.DeviceIoControl(InvalidHandle, 1, nil, 0)
	require.Error(t, err)
	assert.True(t, oserr.Is(err, oserr.Unsupported))
}

func TestBootstrapPrivileges(t *testing.T) {
	f := NewSim()
	results := BootstrapPrivileges(f)
	assert.Len(t, results, 4)
	for _, ok := range results {
		assert.True(t, ok)
	}
}
