//go:build windows

package osfacade

import "golang.org/x/sys/windows"

// nativePriorityClass is the single place the portable PriorityClass enum
// maps to Windows' *_PRIORITY_CLASS constants (spec §9: "preserve the enum,
// not the numeric constants — map in a single place").
func nativePriorityClass(pc PriorityClass) uint32 {
	switch pc {
	case Idle:
		return windows.IDLE_PRIORITY_CLASS
	case BelowNormal:
		return windows.BELOW_NORMAL_PRIORITY_CLASS
	case Normal:
		return windows.NORMAL_PRIORITY_CLASS
	case AboveNormal:
		return windows.ABOVE_NORMAL_PRIORITY_CLASS
	case High:
		return windows.HIGH_PRIORITY_CLASS
	case Realtime:
		return windows.REALTIME_PRIORITY_CLASS
	default:
		return windows.NORMAL_PRIORITY_CLASS
	}
}

// nativePagePriority maps the portable scale 0..5 directly; Windows' own
// MEMORY_PRIORITY_* constants already run 0 (lowest) to 5 (normal).
func nativePagePriority(p PagePriority) uint32 {
	if p < PageLowest {
		return uint32(PageLowest)
	}
	if p > PageNormal {
		return uint32(PageNormal)
	}
	return uint32(p)
}

// nativeIOPriority maps the portable scale to the undocumented but stable
// IoPriorityHint values (0 very-low .. 4 critical) used by
// NtSetInformationProcess(ProcessIoPriority).
func nativeIOPriority(p IOPriority) uint32 {
	if p < IOVeryLow {
		return uint32(IOVeryLow)
	}
	if p > IOCritical {
		return uint32(IOCritical)
	}
	return uint32(p)
}
