package tools

import (
	"fmt"
	"os/exec"
)

// EnsureUnixDeps verifies the host binaries chef shells out to are
// available. Daemons call it at startup so a missing dependency fails
// fast instead of mid-transaction.
func EnsureUnixDeps(bins ...string) error {
	for _, bin := range bins {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("required binary %q not found in PATH: %w", bin, err)
		}
	}
	return nil
}
