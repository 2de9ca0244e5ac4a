package container

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSweepOrphansRemovesDeadStateDirs(t *testing.T) {
	root := t.TempDir()

	// leftover from a previous run, init long gone
	dead := filepath.Join(root, "dead0001")
	if err := os.MkdirAll(filepath.Join(dead, "rootfs"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// not a container state dir, must survive the sweep
	other := filepath.Join(root, "build")
	if err := os.MkdirAll(other, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// tracked by the engine, must survive too
	live := filepath.Join(root, "live0001")
	if err := os.MkdirAll(filepath.Join(live, "rootfs"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	e := &Engine{
		containers: map[string]*managed{"live0001": {}},
		statesRoot: root,
	}
	e.SweepOrphans()

	if _, err := os.Stat(dead); !os.IsNotExist(err) {
		t.Fatalf("dead state dir not removed, stat err = %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("non-state dir removed: %v", err)
	}
	if _, err := os.Stat(live); err != nil {
		t.Fatalf("live state dir removed: %v", err)
	}
}

func TestSweepOrphansMissingRoot(t *testing.T) {
	e := &Engine{
		containers: map[string]*managed{},
		statesRoot: filepath.Join(t.TempDir(), "never-created"),
	}
	// must not panic or create anything
	e.SweepOrphans()
}
