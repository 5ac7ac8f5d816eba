package kerneltransport

import (
	"testing"

	"github.com/gamegov/optimizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UnavailableWhenNoServiceOrImage(t *testing.T) {
	facade := newIOCTLFacade()
	d := &fakeDiscoverer{serviceRunning: false, imageExists: false}
	tr := New(facade, d, "gamegov_drv", "C:\\drivers\\gamegov.sys", "\\\\.\\GameGov")
	assert.False(t, tr.Available())
}

func TestNew_AvailableWhenServiceAlreadyRunning(t *testing.T) {
	facade := newIOCTLFacade()
	d := &fakeDiscoverer{serviceRunning: true}
	tr := New(facade, d, "gamegov_drv", "", "\\\\.\\GameGov")
	assert.True(t, tr.Available())
}

func TestNew_InstallsFromImageWhenServiceNotRunning(t *testing.T) {
	facade := newIOCTLFacade()
	d := &fakeDiscoverer{serviceRunning: false, imageExists: true}
	tr := New(facade, d, "gamegov_drv", "C:\\drivers\\gamegov.sys", "\\\\.\\GameGov")
	assert.True(t, tr.Available())
}

func TestSetQuantumMultiplier_RejectsOutOfRange(t *testing.T) {
	facade := newIOCTLFacade()
	tr := New(facade, &fakeDiscoverer{serviceRunning: true}, "d", "", "p")
	require.Error(t, tr.SetQuantumMultiplier(types.ProcessId(1), 0))
	require.Error(t, tr.SetQuantumMultiplier(types.ProcessId(1), 11))
	require.NoError(t, tr.SetQuantumMultiplier(types.ProcessId(1), 10))
}

func TestIOCTL_MarksUnavailableAfterRepeatedFailures(t *testing.T) {
	facade := newIOCTLFacade()
	facade.fail = true
	tr := New(facade, &fakeDiscoverer{serviceRunning: true}, "d", "", "p")
	tr.maxFailures = 1

	err := tr.FlushTLB(types.ProcessId(1))
	require.Error(t, err)
	assert.False(t, tr.Available())

	// once unavailable, further calls fail fast with Unsupported rather
	// than retrying.
	err = tr.FlushTLB(types.ProcessId(1))
	require.Error(t, err)
}

func TestFlushTLB_SucceedsWhenIOCTLSucceeds(t *testing.T) {
	facade := newIOCTLFacade()
	tr := New(facade, &fakeDiscoverer{serviceRunning: true}, "d", "", "p")
	require.NoError(t, tr.FlushTLB(types.ProcessId(1)))
}

func TestClose_MarksUnavailable(t *testing.T) {
	facade := newIOCTLFacade()
	tr := New(facade, &fakeDiscoverer{serviceRunning: true}, "d", "", "p")
	require.NoError(t, tr.Close())
	assert.False(t, tr.Available())
}
