//go:build !linux

package policy

import "github.com/mirkobrombin/chef/pkg/types"

// Non-Linux hosts have no enforcement surface; every operation reports
// unsupported. Windows app-container parameters in policies are accepted
// and ignored per the container backend stub.
type unsupportedBackend struct{}

func newBpfBackend(pinDir string) (backend, error) {
	return nil, types.NewError(types.ErrUnsupported, "bpf policy backend requires linux")
}

func newFallbackBackend() (backend, error) {
	return &unsupportedBackend{}, nil
}

func (u *unsupportedBackend) mode() Mode {
	return ModeUnsupported
}

func (u *unsupportedBackend) populate(cgroupId uint64, rootfs string, pol types.Policy) (int, int, error) {
	return 0, 0, types.NewError(types.ErrUnsupported, "policy enforcement requires linux")
}

func (u *unsupportedBackend) cleanup(cgroupId uint64) (int, error) {
	return 0, nil
}

func (u *unsupportedBackend) close() error {
	return nil
}
