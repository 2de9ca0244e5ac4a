/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package chef

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

// writeOptsFile roots every convention under a temp dir and points
// CHEF_OPTS_FILE at the resulting config.
func writeOptsFile(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	opts := types.ChefOptions{
		StorePath:        filepath.Join(root, "store"),
		MountsPath:       filepath.Join(root, "mnt"),
		PacksPath:        filepath.Join(root, "packs"),
		SharePath:        filepath.Join(root, "share"),
		BinPath:          filepath.Join(root, "bin"),
		ProfilePath:      filepath.Join(root, "profile.d", "chef.sh"),
		CachePath:        filepath.Join(root, "cache"),
		BaseRootfsPath:   filepath.Join(root, "rootfs"),
		ServedSocketPath: filepath.Join(root, "served.sock"),
		CvdSocketPath:    filepath.Join(root, "cvd.sock"),
		WaiterAddr:       "127.0.0.1:7625",
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	confPath := filepath.Join(root, "chef.json")
	if err := os.WriteFile(confPath, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("CHEF_OPTS_FILE", confPath)
	return root
}

func TestNewChefScratchRootHonorsTmpdir(t *testing.T) {
	writeOptsFile(t)
	scratch := t.TempDir()
	t.Setenv("TMPDIR", scratch)

	c, err := NewChef()
	if err != nil {
		t.Fatalf("NewChef: %v", err)
	}
	if c.Options.ScratchRoot != scratch {
		t.Fatalf("ScratchRoot = %q, want %q", c.Options.ScratchRoot, scratch)
	}
}

func TestNewChefDerivedPaths(t *testing.T) {
	root := writeOptsFile(t)
	t.Setenv("TMPDIR", "")

	c, err := NewChef()
	if err != nil {
		t.Fatalf("NewChef: %v", err)
	}
	if want := filepath.Join(root, "store", "states"); c.Options.StoreStatesPath != want {
		t.Fatalf("StoreStatesPath = %q, want %q", c.Options.StoreStatesPath, want)
	}
	if want := filepath.Join(root, "store", "containers"); c.Options.StoreContainersPath != want {
		t.Fatalf("StoreContainersPath = %q, want %q", c.Options.StoreContainersPath, want)
	}
	if c.Options.ScratchRoot != os.TempDir() {
		t.Fatalf("ScratchRoot = %q, want %q", c.Options.ScratchRoot, os.TempDir())
	}
	for _, dir := range []string{c.Options.StorePath, c.Options.StoreStatesPath, c.Options.BinPath} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("expected dir %s: %v", dir, err)
		}
	}
}
