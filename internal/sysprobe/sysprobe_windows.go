//go:build windows

package sysprobe

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsReader enumerates processes via the CreateToolhelp32Snapshot
// family, grounded on original_source/processes.py's use of the equivalent
// Win32 snapshot APIs through ctypes.
type windowsReader struct {
	prevIdle, prevKernel, prevUser uint64
}

func newOSReader() osReader { return &windowsReader{} }

func (r *windowsReader) listProcesses() (map[int]ProcessRecord, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	byPID := make(map[int]ProcessRecord)
	if err := windows.Process32First(snap, &entry); err != nil {
		return nil, err
	}
	for {
		name := windows.UTF16ToString(entry.ExeFile[:])
		pid := int(entry.ProcessID)
		byPID[pid] = ProcessRecord{
			PID:       pid,
			Name:      name,
			ParentPID: int(entry.ParentProcessID),
			User:      "unknown", // resolving the owning SID requires an extra OpenProcessToken round trip
			SessionID: 0,
		}
		if err := windows.Process32Next(snap, &entry); err != nil {
			break
		}
	}

	for pid, rec := range byPID {
		if parent, ok := byPID[rec.ParentPID]; ok {
			parent.Children = append(parent.Children, pid)
			byPID[rec.ParentPID] = parent
		}
	}
	return byPID, nil
}

func (r *windowsReader) numPhysicalCores() (int, error) {
	// A correct implementation queries
	// GetLogicalProcessorInformationEx(RelationProcessorCore, ...); until
	// that hook lands, approximate from the logical count (spec §9).
	return runtime.NumCPU(), nil
}

func (r *windowsReader) numLogicalCores() int {
	return runtime.NumCPU()
}

func (r *windowsReader) cpuFingerprint() string {
	return fmt.Sprintf("windows-%s-%d", runtime.GOARCH, runtime.NumCPU())
}

func (r *windowsReader) systemLoad() (SystemLoad, error) {
	var idle, kernel, user windows.Filetime
	if err := windows.GetSystemTimes(&idle, &kernel, &user); err != nil {
		return SystemLoad{}, err
	}
	toU64 := func(ft windows.Filetime) uint64 {
		return uint64(ft.HighDateTime)<<32 | uint64(ft.LowDateTime)
	}
	idleV, kernelV, userV := toU64(idle), toU64(kernel), toU64(user)

	total := (kernelV + userV) - r.prevKernel - r.prevUser
	idleDelta := idleV - r.prevIdle
	r.prevIdle, r.prevKernel, r.prevUser = idleV, kernelV, userV

	var cpuPct float64
	if total > 0 {
		cpuPct = (1 - float64(idleDelta)/float64(total)) * 100
	}

	memPct, memAvail, _ := windowsMemPercent()
	return SystemLoad{CPUPercent: clampPct(cpuPct), MemPercent: memPct, MemAvailBytes: memAvail}, nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func windowsMemPercent() (pct float64, availBytes uint64, err error) {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0, 0, err
	}
	return float64(status.MemoryLoad), status.AvailPhys, nil
}

func (r *windowsReader) temperature() (int, bool) {
	// Real temperature reading goes through WMI (MSAcpi_ThermalZoneTemperature)
	// or vendor tooling — the out-of-scope temperature-sensor collaborator
	// (spec §1). No in-module sensor access.
	return 0, false
}
