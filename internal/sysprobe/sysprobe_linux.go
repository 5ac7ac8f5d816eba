//go:build linux

package sysprobe

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// linuxReader enumerates processes via /proc, grounded on the teacher's
// pkg/system/proc/proc.go readers (ReadProcStat, ReadProcChildren) and
// extended to build the full parent/children process table spec §4.3 needs.
type linuxReader struct {
	prevActive, prevTotal uint64
}

func newOSReader() osReader { return &linuxReader{} }

func (r *linuxReader) listProcesses() (map[int]ProcessRecord, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	byPID := make(map[int]ProcessRecord, len(entries))
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		rec, err := readProcessRecord(pid)
		if err != nil {
			continue // vanished between readdir and stat; skip, not fatal
		}
		byPID[pid] = rec
	}

	for pid, rec := range byPID {
		if parent, ok := byPID[rec.ParentPID]; ok {
			parent.Children = append(parent.Children, pid)
			byPID[rec.ParentPID] = parent
		}
	}
	return byPID, nil
}

func readProcessRecord(pid int) (ProcessRecord, error) {
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	b, err := os.ReadFile(statPath)
	if err != nil {
		return ProcessRecord{}, err
	}
	line := string(b)

	open := strings.IndexByte(line, '(')
	shut := strings.LastIndexByte(line, ')')
	if open < 0 || shut < 0 || shut < open {
		return ProcessRecord{}, fmt.Errorf("sysprobe: malformed stat for pid %d", pid)
	}
	name := line[open+1 : shut]
	fields := strings.Fields(line[shut+2:])
	if len(fields) < 2 {
		return ProcessRecord{}, fmt.Errorf("sysprobe: short stat for pid %d", pid)
	}
	ppid, _ := strconv.Atoi(fields[1])

	user := "unknown"
	if uid, ok := readProcOwnerUID(pid); ok {
		user = uid
	}
	sid := readProcSessionID(pid)

	return ProcessRecord{PID: pid, Name: name, ParentPID: ppid, User: user, SessionID: sid}, nil
}

func readProcOwnerUID(pid int) (string, bool) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return "", false
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "Uid:") {
			fs := strings.Fields(line)
			if len(fs) >= 2 {
				return fs[1], true
			}
		}
	}
	return "", false
}

func readProcSessionID(pid int) int {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	shut := strings.LastIndexByte(string(b), ')')
	if shut < 0 {
		return 0
	}
	fields := strings.Fields(string(b)[shut+2:])
	// session id is field 6 of the stat line, index 3 of the post-comm
	// fields (fields[0]=state, [1]=ppid, [2]=pgrp, [3]=session per proc(5)).
	if len(fields) < 4 {
		return 0
	}
	sid, _ := strconv.Atoi(fields[3])
	return sid
}

func (r *linuxReader) numPhysicalCores() (int, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return runtime.NumCPU(), nil //nolint:nilerr // best-effort fallback
	}
	defer f.Close()

	physIDs := map[string]struct{}{}
	coreIDs := map[string]struct{}{}
	var curPhys string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "physical id"):
			curPhys = strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			physIDs[curPhys] = struct{}{}
		case strings.HasPrefix(line, "core id"):
			id := strings.TrimSpace(strings.SplitN(line, ":", 2)[1])
			coreIDs[curPhys+"/"+id] = struct{}{}
		}
	}
	if len(coreIDs) > 0 {
		return len(coreIDs), nil
	}
	return runtime.NumCPU(), nil
}

func (r *linuxReader) numLogicalCores() int {
	return runtime.NumCPU()
}

func (r *linuxReader) cpuFingerprint() string {
	b, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	for _, line := range strings.Split(string(b), "\n") {
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return "unknown"
}

func (r *linuxReader) systemLoad() (SystemLoad, error) {
	active, total, err := readSystemCPU()
	if err != nil {
		return SystemLoad{}, err
	}
	var cpuPct float64
	if dTotal := total - r.prevTotal; dTotal > 0 && total >= r.prevTotal {
		cpuPct = float64(active-r.prevActive) / float64(dTotal) * 100
	}
	r.prevActive, r.prevTotal = active, total

	memPct, memAvail, _ := readMemPercent()
	diskPct, _ := readDiskPercent()

	return SystemLoad{
		CPUPercent:    clamp01to100(cpuPct),
		MemPercent:    memPct,
		DiskPercent:   diskPct,
		MemAvailBytes: memAvail,
	}, nil
}

func readSystemCPU() (active, total uint64, err error) {
	f, e := os.Open("/proc/stat")
	if e != nil {
		return 0, 0, e
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fs := strings.Fields(sc.Text())
		if len(fs) == 0 || fs[0] != "cpu" {
			continue
		}
		if len(fs) < 8 {
			return 0, 0, fmt.Errorf("sysprobe: short /proc/stat cpu line")
		}
		vals := make([]uint64, 0, len(fs)-1)
		for _, s := range fs[1:] {
			v, _ := strconv.ParseUint(s, 10, 64)
			vals = append(vals, v)
		}
		active = vals[0] + vals[1] + vals[2] + vals[5] + vals[6] + vals[7]
		total = active + vals[3] + vals[4]
		return active, total, nil
	}
	return 0, 0, fmt.Errorf("sysprobe: no cpu line in /proc/stat")
}

func readMemPercent() (pct float64, availBytes uint64, err error) {
	f, e := os.Open("/proc/meminfo")
	if e != nil {
		return 0, 0, e
	}
	defer f.Close()

	var total, avail float64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			avail = parseMeminfoKB(line)
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("sysprobe: no MemTotal")
	}
	return (total - avail) / total * 100, uint64(avail * 1024), nil
}

func parseMeminfoKB(line string) float64 {
	fs := strings.Fields(line)
	if len(fs) < 2 {
		return 0
	}
	v, _ := strconv.ParseFloat(fs[1], 64)
	return v
}

func readDiskPercent() (float64, error) {
	// No portable, privilege-free disk-busy signal on /proc across all
	// filesystems; callers treat an error here as "unknown, report 0".
	return 0, nil
}

func clamp01to100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func (r *linuxReader) temperature() (int, bool) {
	// Real sensor reading is an out-of-scope collaborator (spec §1); probe
	// a common thermal zone path opportunistically and fall back to Unknown.
	paths, _ := filepath.Glob("/sys/class/thermal/thermal_zone*/temp")
	best := -1
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		milli, err := strconv.Atoi(strings.TrimSpace(string(b)))
		if err != nil {
			continue
		}
		c := milli / 1000
		if c > best {
			best = c
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
