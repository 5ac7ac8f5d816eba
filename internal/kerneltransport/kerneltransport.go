// Package kerneltransport implements the optional kernel-mode IOCTL
// transport (spec §4.9): discover (service → disk image → install/start),
// open the device, and issue fixed-layout little-endian IOCTLs. Every call
// path has a user-mode fallback; repeated failures mark the transport
// permanently unavailable rather than retrying forever.
package kerneltransport

import (
	"encoding/binary"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gamegov/optimizer/internal/oserr"
	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/types"
)

// IOCTL operation codes (spec §4.9). Values are opaque; only the transport
// itself interprets them.
const (
	opSetThreadPriority uint32 = iota + 1
	opSetProcessAffinity
	opSetQuantum
	opFlushTLB
	opDisableInterrupts
)

// Discoverer abstracts the driver-presence checks so the transport can be
// exercised without a real service/driver on disk: check for a live
// service, fall back to checking for the image, then install+start.
type Discoverer interface {
	ServiceRunning(name string) (bool, error)
	ImageExists(path string) bool
	InstallAndStart(name, path string) error
	OpenDevice(path string) (osfacade.Handle, error)
}

// Transport is the optional user↔kernel IOCTL channel. A Transport with a
// nil or failing Discoverer degrades to Available() == false and every
// call returns oserr.Unsupported, which callers treat as "use the
// user-mode facade instead" (spec §4.9).
type Transport struct {
	facade     osfacade.Facade
	discoverer Discoverer
	serviceName string
	imagePath  string
	devicePath string

	device     osfacade.Handle
	available  bool
	failures   int
	maxFailures int
}

// DefaultMaxFailures is how many consecutive IOCTL failures mark the
// transport unavailable (spec §7: "marks itself unavailable after
// repeated failures").
const DefaultMaxFailures = 3

// New attempts discovery immediately: check for a live service, then a
// disk image to install, then open the device. Any failure along the way
// sets Available() to false without returning an error — callers always
// have the user-mode fallback (spec §4.9).
func New(facade osfacade.Facade, d Discoverer, serviceName, imagePath, devicePath string) *Transport {
	t := &Transport{
		facade:      facade,
		discoverer:  d,
		serviceName: serviceName,
		imagePath:   imagePath,
		devicePath:  devicePath,
		maxFailures: DefaultMaxFailures,
	}
	t.discover()
	return t
}

func (t *Transport) discover() {
	if t.discoverer == nil {
		t.available = false
		return
	}
	running, err := t.discoverer.ServiceRunning(t.serviceName)
	if err != nil {
		t.available = false
		return
	}
	if !running {
		if !t.discoverer.ImageExists(t.imagePath) {
			t.available = false
			return
		}
		if err := t.discoverer.InstallAndStart(t.serviceName, t.imagePath); err != nil {
			t.available = false
			return
		}
	}
	h, err := t.discoverer.OpenDevice(t.devicePath)
	if err != nil {
		t.available = false
		return
	}
	t.device = h
	t.available = true
}

// Available reports whether the kernel-mode transport is usable right now.
func (t *Transport) Available() bool { return t.available }

// retry wraps one IOCTL attempt with a short bounded backoff (spec §5:
// "any shell-out uses a bounded timeout (≤10s)"); repeated failures count
// toward the unavailable threshold.
func (t *Transport) retry(op func() error) error {
	if !t.available {
		return oserr.New(oserr.Unsupported, "kernel_transport", nil)
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err := backoff.Retry(op, b)
	if err != nil {
		t.failures++
		if t.failures >= t.maxFailures {
			t.available = false
		}
		return oserr.New(oserr.Transient, "kernel_transport", err)
	}
	t.failures = 0
	return nil
}

func (t *Transport) call(code uint32, in []byte, outLen int) ([]byte, error) {
	return t.facade.DeviceIoControl(t.device, code, in, outLen)
}

// SetThreadPriority raises tid to the given kernel priority (0..31).
func (t *Transport) SetThreadPriority(tid types.ThreadId, priority int32) error {
	if priority < 0 || priority > 31 {
		return oserr.New(oserr.Unsupported, "set_thread_priority", nil)
	}
	return t.retry(func() error {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(tid))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(priority))
		_, err := t.call(opSetThreadPriority, buf, 0)
		return err
	})
}

// SetProcessAffinity sets pid's affinity mask via the kernel transport.
func (t *Transport) SetProcessAffinity(pid types.ProcessId, mask uint64) error {
	return t.retry(func() error {
		buf := make([]byte, 12)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(pid))
		binary.LittleEndian.PutUint64(buf[4:12], mask)
		_, err := t.call(opSetProcessAffinity, buf, 0)
		return err
	})
}

// SetQuantumMultiplier multiplies pid's scheduler quantum by multiplier,
// which must be in [1, 10] inclusive — the wider of the two documented
// bounds (spec §9 open question), enforced here at the call boundary.
func (t *Transport) SetQuantumMultiplier(pid types.ProcessId, multiplier uint32) error {
	if multiplier < 1 || multiplier > 10 {
		return oserr.New(oserr.Unsupported, "set_quantum", nil)
	}
	return t.retry(func() error {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(pid))
		binary.LittleEndian.PutUint32(buf[4:8], multiplier)
		_, err := t.call(opSetQuantum, buf, 0)
		return err
	})
}

// FlushTLB requests a TLB flush scoped to pid.
func (t *Transport) FlushTLB(pid types.ProcessId) error {
	return t.retry(func() error {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(pid))
		_, err := t.call(opFlushTLB, buf, 0)
		return err
	})
}

// DisableInterrupts is extreme-mode-only (spec §4.9 table).
func (t *Transport) DisableInterrupts(core uint32, disable bool) error {
	return t.retry(func() error {
		buf := make([]byte, 5)
		binary.LittleEndian.PutUint32(buf[0:4], core)
		if disable {
			buf[4] = 1
		}
		_, err := t.call(opDisableInterrupts, buf, 0)
		return err
	})
}

// Close closes the device handle, if one was opened.
func (t *Transport) Close() error {
	if !t.available {
		return nil
	}
	t.available = false
	return t.facade.CloseHandle(t.device)
}

// shellTimeout bounds any service-control shell-out per spec §5.
const shellTimeout = 10 * time.Second
