//go:build !windows

package foreground

import "github.com/gamegov/optimizer/internal/types"

// noopHook stands in for the real Windows EVENT_SYSTEM_FOREGROUND hook on
// every other platform. There is no portable foreground-window concept
// off-Windows; Install succeeds but never calls back, matching spec §7's
// "continue without foreground adaptation" behavior for a host where the
// hook has nothing to subscribe to.
type noopHook struct{}

// NewHook returns the platform Hook. Outside Windows there is no real
// foreground-window notification to subscribe to, so this returns a hook
// that installs successfully but never fires — periodic ticks still run,
// matching spec §7's degraded-but-alive behavior.
func NewHook() Hook { return &noopHook{} }

func (noopHook) Install(onForeground func(types.ProcessId)) error { return nil }
func (noopHook) Close() error                                     { return nil }
