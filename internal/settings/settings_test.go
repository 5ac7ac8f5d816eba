package settings

import (
	"os"
	"testing"

	"github.com/gamegov/optimizer/internal/handlecache"
	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApplicator(t *testing.T) (*Applicator, types.ProcessId) {
	t.Helper()
	facade := osfacade.NewSim()
	cache, err := handlecache.New(handlecache.DefaultProcessMaxSize,
		func(pid types.ProcessId) (osfacade.Handle, error) { return facade.OpenProcess(pid) },
		facade.CloseHandle,
	)
	require.NoError(t, err)
	return New(facade, cache), types.ProcessId(os.Getpid())
}

func TestApply_EmptyBundleIsNoop(t *testing.T) {
	app, pid := newApplicator(t)
	res, err := app.Apply(pid, Bundle{})
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestApply_SetsEveryPresentField(t *testing.T) {
	app, pid := newApplicator(t)
	bundle := Bundle{
		PriorityClass:         PriorityClassPtr(osfacade.High),
		PriorityBoostDisabled: BoolPtr(true),
		PagePriority:          PagePriorityPtr(osfacade.PageNormal),
		AffinityMask:          Uint64Ptr(0b11),
		IOPriority:            IOPriorityPtr(osfacade.IOHigh),
		EfficiencyMode:        BoolPtr(false),
	}
	res, err := app.Apply(pid, bundle)
	require.NoError(t, err)
	assert.True(t, res.OK(), "%+v", res.FieldErrors)
}

func TestApply_RealtimeDeniedWithoutPrivilegeDoesNotAbortBundle(t *testing.T) {
	app, pid := newApplicator(t)
	bundle := Bundle{
		PriorityClass: PriorityClassPtr(osfacade.Realtime),
		IOPriority:    IOPriorityPtr(osfacade.IONormal),
	}
	res, err := app.Apply(pid, bundle)
	require.NoError(t, err)
	require.Len(t, res.FieldErrors, 1)
	assert.Equal(t, "priority_class", res.FieldErrors[0].Field)
}

func TestApply_VanishedPidAbortsEarly(t *testing.T) {
	app, _ := newApplicator(t)
	_, err := app.Apply(types.ProcessId(0), Bundle{PriorityClass: PriorityClassPtr(osfacade.Normal)})
	require.Error(t, err)
}

func TestBundle_IsEmpty(t *testing.T) {
	assert.True(t, Bundle{}.IsEmpty())
	assert.False(t, Bundle{EfficiencyMode: BoolPtr(true)}.IsEmpty())
}
