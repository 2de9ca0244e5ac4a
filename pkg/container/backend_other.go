//go:build !linux

package container

import (
	"github.com/mirkobrombin/chef/pkg/layer"
	"github.com/mirkobrombin/chef/pkg/policy"
	"github.com/mirkobrombin/chef/pkg/types"
)

type unsupportedBackend struct{}

func newBackend(policyEngine *policy.Engine) backend {
	_ = policyEngine
	return unsupportedBackend{}
}

func (unsupportedBackend) start(opts types.CreateOptions, ctx *layer.Context, stateDir string) (*child, error) {
	return nil, types.NewError(types.ErrUnsupported, "containers require linux namespaces")
}

// RunInit only exists on linux; elsewhere the spawn subcommand fails
// immediately.
func RunInit(specPath string) error {
	return types.NewError(types.ErrUnsupported, "containers require linux namespaces")
}
