//go:build !linux

package cook

import (
	"fmt"
	"os"
)

// Scratch on non-Linux hosts is a plain private directory; there is no
// tmpfs to bound it with.
type Scratch struct {
	Dir string
}

func AllocScratch(root string, size int64) (*Scratch, error) {
	dir, err := os.MkdirTemp(root, "chef-scratch-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("restricting scratch dir: %w", err)
	}
	return &Scratch{Dir: dir}, nil
}

func (s *Scratch) Release() error {
	if s.Dir == "" {
		return nil
	}
	err := os.RemoveAll(s.Dir)
	s.Dir = ""
	return err
}
