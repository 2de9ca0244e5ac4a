/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package container

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/tools"
	"golang.org/x/sys/unix"
)

// sweepKillGrace is how long SweepOrphans waits between SIGTERM and
// SIGKILL when reaping a leftover init.
const sweepKillGrace = 3 * time.Second

// SweepOrphans reaps containers left behind by a previous daemon run:
// state dirs below statesRoot with no entry in the engine. The init of
// an orphan is found through its CHEF_CONTAINER_ID environment marker,
// its descendants are signalled first, then the init itself, and the
// state dir is removed. Daemons call this once at startup, before
// serving.
func (e *Engine) SweepOrphans() {
	entries, err := os.ReadDir(e.statesRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("SweepOrphans: reading %s: %v", e.statesRoot, err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()

		e.mu.Lock()
		_, live := e.containers[id]
		e.mu.Unlock()
		if live {
			continue
		}

		e.reapOrphan(id, filepath.Join(e.statesRoot, id))
	}
}

func (e *Engine) reapOrphan(id, stateDir string) {
	rootfs := filepath.Join(stateDir, "rootfs")
	if _, err := os.Stat(rootfs); err != nil {
		// not a container state dir (or already half-removed), leave it
		return
	}

	pid, err := tools.GetPidFromEnv("CHEF_CONTAINER_ID=" + id)
	if err != nil {
		logger.Warnf("reapOrphan: scanning for %s: %v", id, err)
		return
	}

	if pid > 0 {
		// paranoia: the marker could in principle leak into an
		// unrelated process, only shoot our own spawn helper
		if cmdline := tools.ProcessCmdline(pid); strings.Contains(cmdline, "spawn") {
			killTree(id, pid)
		}
	}

	if mounted, _ := tools.IsMounted(rootfs); mounted {
		if err := tools.Unmount(rootfs); err != nil {
			logger.Warnf("reapOrphan: unmounting %s: %v", rootfs, err)
			return
		}
	}
	if err := os.RemoveAll(stateDir); err != nil {
		logger.Warnf("reapOrphan: removing %s: %v", stateDir, err)
		return
	}
	logger.WithField("container", id).Info("reaped orphaned container")
}

// killTree terminates the init and every live descendant, children
// first so the init does not respawn work while being torn down.
func killTree(id string, pid int) {
	for _, child := range tools.ChildPids(pid) {
		_ = unix.Kill(child, unix.SIGTERM)
	}
	_ = unix.Kill(pid, unix.SIGTERM)

	deadline := time.Now().Add(sweepKillGrace)
	for time.Now().Before(deadline) {
		if !tools.PidAlive(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	logger.Warnf("killTree: init %d of %s survived SIGTERM, forcing", pid, id)
	for _, child := range tools.ChildPids(pid) {
		_ = unix.Kill(child, unix.SIGKILL)
	}
	_ = unix.Kill(pid, unix.SIGKILL)
}
