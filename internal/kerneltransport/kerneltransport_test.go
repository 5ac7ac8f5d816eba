package kerneltransport

import (
	"errors"

	"github.com/gamegov/optimizer/internal/osfacade"
)

// ioctlFacade wraps the simulation facade, overriding DeviceIoControl so
// tests can control IOCTL success/failure independently of the rest of the
// simulated OS-facade surface.
type ioctlFacade struct {
	osfacade.Facade
	fail bool
}

func newIOCTLFacade() *ioctlFacade {
	return &ioctlFacade{Facade: osfacade.NewSim()}
}

func (f *ioctlFacade) DeviceIoControl(dev osfacade.Handle, code uint32, in []byte, outLen int) ([]byte, error) {
	if f.fail {
		return nil, errors.New("ioctl failed")
	}
	return make([]byte, outLen), nil
}

type fakeDiscoverer struct {
	serviceRunning bool
	imageExists    bool
	installErr     error
	openErr        error
}

func (d *fakeDiscoverer) ServiceRunning(string) (bool, error) { return d.serviceRunning, nil }
func (d *fakeDiscoverer) ImageExists(string) bool             { return d.imageExists }
func (d *fakeDiscoverer) InstallAndStart(string, string) error { return d.installErr }
func (d *fakeDiscoverer) OpenDevice(string) (osfacade.Handle, error) {
	if d.openErr != nil {
		return osfacade.InvalidHandle, d.openErr
	}
	return osfacade.Handle(1), nil
}
