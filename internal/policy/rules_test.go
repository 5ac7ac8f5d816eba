package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_BatteryRuleScenario(t *testing.T) {
	// Spec §8 scenario 6: battery 15%, laptop, normal mode, cpu 20, temp 50,
	// mem_avail 8000 MiB yields all_background -> Idle and reduce_cpu_usage.
	e := NewEngine(DefaultRules())
	plan := e.Evaluate(Snapshot{
		BatteryPct:    15,
		IsLaptop:      true,
		Mode:          ModeNormal,
		CPUPercent:    20,
		MaxTempC:      50,
		MemAvailBytes: 8000 * 1 << 20,
	})
	require.NotNil(t, plan.BackgroundPriority)
	assert.True(t, plan.AggressiveTrim)
	assert.True(t, plan.ReduceCPUUsage)
}

func TestEvaluate_DeterministicAndOrdered(t *testing.T) {
	e := NewEngine(DefaultRules())
	snap := Snapshot{Mode: ModeExtreme, CPUPercent: 10, MemAvailBytes: 16 * bytesPerGiB}
	p1 := e.Evaluate(snap)
	p2 := e.Evaluate(snap)
	assert.Equal(t, p1, p2)
	require.NotNil(t, p1.ForegroundPriority)
	assert.True(t, p1.BoostQuantum)
}

func TestMerge_LaterOverwritesPointerFields(t *testing.T) {
	a := PartialPlan{BackgroundPriority: priorityClassPtr(3)}
	b := PartialPlan{BackgroundPriority: priorityClassPtr(0)}
	merged := a.Merge(b)
	require.NotNil(t, merged.BackgroundPriority)
	assert.Equal(t, *b.BackgroundPriority, *merged.BackgroundPriority)
}

func TestMerge_BooleanFlagsOR(t *testing.T) {
	a := PartialPlan{AggressiveTrim: true}
	b := PartialPlan{ThrottleBackground: true}
	merged := a.Merge(b)
	assert.True(t, merged.AggressiveTrim)
	assert.True(t, merged.ThrottleBackground)
}

func TestEvaluate_MemoryPressureRule(t *testing.T) {
	e := NewEngine(DefaultRules())
	plan := e.Evaluate(Snapshot{MemAvailBytes: 1 * bytesPerGiB})
	assert.True(t, plan.AggressiveTrim)
	assert.True(t, plan.ReduceCPUUsage)
}
