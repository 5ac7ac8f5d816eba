package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gamegov/optimizer/internal/config"
	"github.com/gamegov/optimizer/internal/extreme"
	"github.com/gamegov/optimizer/internal/grouplimit"
	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/policy"
	"github.com/gamegov/optimizer/internal/stats"
	"github.com/gamegov/optimizer/internal/sysprobe"
	"github.com/gamegov/optimizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	facade := osfacade.NewSim()
	dir := t.TempDir()
	probe := sysprobe.New(dir)
	cfgStore, err := config.Load(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	o, err := New(Deps{
		Facade:  facade,
		Probe:   probe,
		Config:  cfgStore,
		Groups:  grouplimit.New(facade),
		Extreme: extreme.New(facade, probe, nil, nil, nil, nil),
		Stats:   stats.New(),
	})
	require.NoError(t, err)
	return o
}

func TestOnForegroundStable_RecordsPendingPID(t *testing.T) {
	o := newTestOrchestrator(t)
	o.onForegroundStable(types.ProcessId(os.Getpid()))
	o.drainForeground()
	assert.Equal(t, types.ProcessId(os.Getpid()), o.foregroundPID)
}

func TestShouldReplan_TrueOnFirstForeground(t *testing.T) {
	o := newTestOrchestrator(t)
	o.foregroundPID = types.ProcessId(os.Getpid())
	assert.True(t, o.shouldReplan())
}

func TestShouldReplan_FalseImmediatelyAfterReplan(t *testing.T) {
	o := newTestOrchestrator(t)
	o.foregroundPID = types.ProcessId(os.Getpid())
	o.lastPlanned = o.foregroundPID
	o.lastPlanTime = time.Now()
	assert.False(t, o.shouldReplan())
}

func TestReplan_AppliesWithoutError(t *testing.T) {
	o := newTestOrchestrator(t)
	o.foregroundPID = types.ProcessId(os.Getpid())
	require.NoError(t, o.replan())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	err := o.Run(ctx)
	require.NoError(t, err)
}

func TestRun_StopsOnExplicitStop(t *testing.T) {
	o := newTestOrchestrator(t)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	time.Sleep(50 * time.Millisecond)
	o.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func TestPlanToBundle_CriticalRoleAlwaysEmpty(t *testing.T) {
	fg := osfacade.Realtime
	plan := policy.PartialPlan{ForegroundPriority: &fg, AggressiveTrim: true}
	b := planToBundle(policy.RoleCriticalSystem, plan, true)
	assert.True(t, b.IsEmpty())
}

func TestPlanToBundle_ForegroundGameDisablesBoost(t *testing.T) {
	plan := policy.PartialPlan{}
	b := planToBundle(policy.RoleGame, plan, true)
	require.NotNil(t, b.PriorityBoostDisabled)
	assert.True(t, *b.PriorityBoostDisabled)
}
