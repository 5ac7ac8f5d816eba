package foreground

import (
	"time"

	"github.com/gamegov/optimizer/internal/types"
)

// Hook subscribes to OS foreground-window-change notifications and forwards
// the owning PID to onForeground. It runs its own dedicated pump thread and
// survives the life of the process (spec §4.4).
type Hook interface {
	Install(onForeground func(types.ProcessId)) error
	Close() error
}

// Pipeline wires a Hook through a Debouncer to a single stable-transition
// sink, matching spec §4.4 end to end.
type Pipeline struct {
	hook      Hook
	debouncer *Debouncer
}

// NewPipeline builds the hook→debouncer pipeline. installErr, if non-nil,
// means the hook failed to install; per spec §7 the caller should log it at
// ERROR and continue running periodic ticks without foreground adaptation.
func NewPipeline(hook Hook, debounce time.Duration, onStable func(types.ProcessId)) (*Pipeline, error) {
	p := &Pipeline{}
	p.debouncer = NewDebouncer(debounce, func(pid int) {
		onStable(types.ProcessId(pid))
	})
	p.hook = hook
	err := hook.Install(func(pid types.ProcessId) {
		p.debouncer.Deliver(int(pid))
	})
	return p, err
}

// Close tears down the pipeline: cancels any pending debounce timer and
// closes the hook (spec §5 shutdown sequence).
func (p *Pipeline) Close() error {
	p.debouncer.Stop()
	if p.hook == nil {
		return nil
	}
	return p.hook.Close()
}
