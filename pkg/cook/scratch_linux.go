/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package cook

import (
	"fmt"
	"os"

	"github.com/mirkobrombin/chef/pkg/tools"
)

// Scratch is one build's private working space: a fresh directory
// backed by a sized tmpfs, owned by the allocating build alone.
type Scratch struct {
	Dir     string
	mounted bool
}

// AllocScratch creates the scratch tree under root (empty falls back to
// the usual temp-dir resolution) with a tmpfs capped at size bytes
// mounted on top, mode 0700 so nothing else on the host can peek in.
func AllocScratch(root string, size int64) (*Scratch, error) {
	dir, err := os.MkdirTemp(root, "chef-scratch-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("restricting scratch dir: %w", err)
	}

	if err := tools.MountTmpfs(dir, size); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("mounting scratch tmpfs: %w", err)
	}
	return &Scratch{Dir: dir, mounted: true}, nil
}

// Release unmounts and deletes the scratch tree. Safe to call twice.
func (s *Scratch) Release() error {
	if s.Dir == "" {
		return nil
	}
	if s.mounted {
		if err := tools.Unmount(s.Dir); err != nil {
			return fmt.Errorf("unmounting scratch: %w", err)
		}
		s.mounted = false
	}
	err := os.RemoveAll(s.Dir)
	s.Dir = ""
	return err
}
