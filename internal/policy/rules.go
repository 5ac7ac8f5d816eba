package policy

import "github.com/gamegov/optimizer/internal/osfacade"

// Mode is the user/config-selected operating mode (spec §3 Configuration
// last_mode, §4.7).
type Mode int

const (
	ModeNormal Mode = iota
	ModeAhorro
	ModeGame
	ModeExtreme
)

// Snapshot is the system-context input to rule evaluation (spec §3
// SystemSnapshot), extended with the fields the default rule table needs.
type Snapshot struct {
	CPUPercent    float64
	MemAvailBytes uint64
	BatteryPct    int
	IsLaptop      bool
	MaxTempC      int
	Mode          Mode
	ForegroundPID int
}

// PartialPlan is what one matching rule contributes. Later matches
// overwrite earlier ones on key conflict when plans are merged
// left-to-right (spec §4.7).
type PartialPlan struct {
	BackgroundPriority  *osfacade.PriorityClass
	ForegroundPriority  *osfacade.PriorityClass
	AggressiveTrim      bool
	ThrottleBackground  bool
	ReduceCPUUsage      bool
	BoostQuantum        bool
}

// Merge overlays other on top of p: a non-nil pointer field in other wins,
// and boolean flags are OR'd — spec §4.7 says "later matches overwrite
// earlier ones on key conflict", and for the boolean action flags "overwrite"
// only makes sense as "a later rule can only add constraints", since no
// rule ever asks to un-throttle what an earlier rule throttled.
func (p PartialPlan) Merge(other PartialPlan) PartialPlan {
	out := p
	if other.BackgroundPriority != nil {
		out.BackgroundPriority = other.BackgroundPriority
	}
	if other.ForegroundPriority != nil {
		out.ForegroundPriority = other.ForegroundPriority
	}
	out.AggressiveTrim = out.AggressiveTrim || other.AggressiveTrim
	out.ThrottleBackground = out.ThrottleBackground || other.ThrottleBackground
	out.ReduceCPUUsage = out.ReduceCPUUsage || other.ReduceCPUUsage
	out.BoostQuantum = out.BoostQuantum || other.BoostQuantum
	return out
}

// Rule is a predicate/action pair evaluated against a Snapshot (spec §3, §4.7).
type Rule struct {
	Label     string
	Predicate func(Snapshot) bool
	Action    func(Snapshot) PartialPlan
}

func priorityClassPtr(v osfacade.PriorityClass) *osfacade.PriorityClass { return &v }

const bytesPerGiB = 1 << 30

// DefaultRules is the rule table from spec §4.7, in declaration order.
// Rule evaluation is deterministic: rules run left-to-right against the
// same Snapshot, and the produced plan depends only on that input.
func DefaultRules() []Rule {
	return []Rule{
		{
			Label: "battery_saver",
			Predicate: func(s Snapshot) bool {
				return s.IsLaptop && s.BatteryPct < 20
			},
			Action: func(s Snapshot) PartialPlan {
				return PartialPlan{
					BackgroundPriority: priorityClassPtr(osfacade.Idle),
					AggressiveTrim:     true,
					ReduceCPUUsage:     true,
				}
			},
		},
		{
			Label: "gaming_thermal_throttle",
			Predicate: func(s Snapshot) bool {
				return s.Mode == ModeGame && s.MaxTempC > 85
			},
			Action: func(s Snapshot) PartialPlan {
				return PartialPlan{
					BackgroundPriority: priorityClassPtr(osfacade.BelowNormal),
					ThrottleBackground: true,
				}
			},
		},
		{
			Label: "extreme_headroom_boost",
			Predicate: func(s Snapshot) bool {
				return s.Mode == ModeExtreme && s.CPUPercent < 50
			},
			Action: func(s Snapshot) PartialPlan {
				return PartialPlan{
					ForegroundPriority: priorityClassPtr(osfacade.Realtime),
					BoostQuantum:       true,
				}
			},
		},
		{
			Label: "memory_pressure",
			Predicate: func(s Snapshot) bool {
				return s.MemAvailBytes < 2*bytesPerGiB
			},
			Action: func(s Snapshot) PartialPlan {
				return PartialPlan{
					AggressiveTrim: true,
					ReduceCPUUsage: true,
				}
			},
		},
	}
}

// Engine evaluates an ordered rule list against a Snapshot.
type Engine struct {
	rules []Rule
}

// NewEngine builds an Engine with the given rules, evaluated in order.
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs every rule against snap in declaration order and merges
// matching rules' actions, later matches winning on conflict (spec §4.7, §8).
func (e *Engine) Evaluate(snap Snapshot) PartialPlan {
	var plan PartialPlan
	for _, r := range e.rules {
		if r.Predicate(snap) {
			plan = plan.Merge(r.Action(snap))
		}
	}
	return plan
}
