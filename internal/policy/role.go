// Package policy implements ProcessRole classification and the
// dynamic-priority rule engine (spec §4.7, §9 "polymorphism over roles").
// Plan generation is a pure function (role, snapshot) → SettingsBundle ∪
// GroupConstraint; nothing here touches the OS facade directly.
package policy

import "github.com/gamegov/optimizer/internal/sysprobe"

// Role is the tagged variant every process is classified into before a
// plan is computed. Not an inheritance hierarchy — a plain enum switched
// on at plan-generation time.
type Role int

const (
	RoleBackground Role = iota
	RoleForegroundInteractive
	RoleGame
	RoleCriticalSystem
)

func (r Role) String() string {
	switch r {
	case RoleForegroundInteractive:
		return "foreground_interactive"
	case RoleGame:
		return "game"
	case RoleCriticalSystem:
		return "critical_system"
	default:
		return "background"
	}
}

// criticalProcessNames is the hardcoded critical set (spec §3): system
// service names that must never be demoted or isolated away from, even
// inside the foreground/background split.
var criticalProcessNames = map[string]struct{}{
	"system":          {},
	"systemd":         {},
	"init":            {},
	"csrss.exe":       {},
	"wininit.exe":     {},
	"services.exe":    {},
	"lsass.exe":       {},
	"smss.exe":        {},
	"winlogon.exe":    {},
	"explorer.exe":    {},
}

// privilegedUsers is the hardcoded critical-user set (spec §3).
var privilegedUsers = map[string]struct{}{
	"root":                          {},
	"SYSTEM":                        {},
	"NT AUTHORITY\\SYSTEM":          {},
	"NT AUTHORITY\\LOCAL SERVICE":   {},
	"NT AUTHORITY\\NETWORK SERVICE": {},
}

const criticalSessionID = 0

// Classify derives a process's Role from foreground state, the user's
// configured gamelist, and the hardcoded critical set (spec §3).
// foregroundRootPIDs is the set of PIDs belonging to the current
// foreground process tree (including the root itself).
func Classify(rec sysprobe.ProcessRecord, foregroundRootPIDs map[int]struct{}, gamelist map[string]struct{}) Role {
	if _, ok := criticalProcessNames[rec.Name]; ok {
		return RoleCriticalSystem
	}
	if _, ok := privilegedUsers[rec.User]; ok {
		return RoleCriticalSystem
	}
	if rec.SessionID == criticalSessionID {
		return RoleCriticalSystem
	}

	_, inForeground := foregroundRootPIDs[rec.PID]
	if inForeground {
		if _, isGame := gamelist[rec.Name]; isGame {
			return RoleGame
		}
		return RoleForegroundInteractive
	}

	return RoleBackground
}
