package extreme

// coreSplit describes, for a given physical-core count, how many of the
// fastest physical cores to reserve for the target process under extreme
// mode. Grounded on original_source/kernel.py's InterruptAffinityOptimizer
// per-core-count tables (CORE_CONFIGS/HYBRID_CONFIGS): the original hand
// tunes a handful of common core counts and falls back to a generic split
// otherwise.
var coreSplitTable = map[int]int{
	2:  1,
	4:  2,
	6:  2,
	8:  3,
	10: 4,
	12: 4,
	16: 6,
	24: 8,
	32: 10,
}

// reservedCoreCount returns how many of the fastest physical cores to
// reserve for the target, bounded to at most half of physical (spec §4.8
// step 2: "≤ half of physical cores, bounded by core count").
func reservedCoreCount(physical int) int {
	if physical <= 0 {
		return 0
	}
	if n, ok := coreSplitTable[physical]; ok {
		if n > physical/2 {
			n = physical / 2
		}
		if n < 1 {
			n = 1
		}
		return n
	}
	// Fallback: generic first-half split for untabulated core counts.
	n := physical / 2
	if n < 1 {
		n = 1
	}
	return n
}
