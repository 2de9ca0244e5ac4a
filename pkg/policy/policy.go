/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package policy translates declarative container policies into
// kernel-enforced rules keyed by cgroup identity. On kernels with the
// BPF-LSM surface the rules land in pinned BPF hash maps consumed by the
// chef LSM program; without it the engine degrades to a seccomp syscall
// allow-list and filesystem rules are dropped.
package policy

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/types"
)

// Mode reports which enforcement mechanism the engine selected at
// initialization.
type Mode int

const (
	ModeBPF Mode = iota
	ModeSeccomp
	ModeUnsupported
)

func (m Mode) String() string {
	switch m {
	case ModeBPF:
		return "bpf-lsm"
	case ModeSeccomp:
		return "seccomp"
	}
	return "unsupported"
}

// Metrics surfaces populate/cleanup counters. Durations are microseconds.
type Metrics struct {
	TotalEntries      int
	PerContainer      map[uint64]int
	PopulateOk        int
	PopulateFailed    int
	CleanupOk         int
	CleanupFailed     int
	LastPopulateUsecs int64
	LastCleanupUsecs  int64
}

// backend is the kernel-facing half of the engine.
type backend interface {
	// populate writes the resolved rules for one cgroup; it returns the
	// number of entries written and the number of rules dropped.
	populate(cgroupId uint64, rootfs string, pol types.Policy) (written, dropped int, err error)

	// cleanup removes every entry keyed by the cgroup and returns the
	// count removed.
	cleanup(cgroupId uint64) (removed int, err error)

	mode() Mode
	close() error
}

// Engine owns the policy backend and its metrics. It is safe for
// concurrent use; map mutations are atomic per key so populates for
// different containers may interleave.
type Engine struct {
	backend backend

	mu      sync.Mutex
	metrics Metrics
}

// NewEngine probes the kernel and selects a backend: BPF-LSM when
// available, otherwise the lossy seccomp fallback. pinDir is where the
// policy maps are pinned (conventionally /sys/fs/bpf/chef).
func NewEngine(pinDir string) (*Engine, error) {
	e := &Engine{metrics: Metrics{PerContainer: make(map[uint64]int)}}

	if bpfLSMAvailable() {
		b, err := newBpfBackend(pinDir)
		if err == nil {
			e.backend = b
			return e, nil
		}
		logger.Warnf("bpf policy backend unavailable, falling back to seccomp: %v", err)
	}

	b, err := newFallbackBackend()
	if err != nil {
		return nil, err
	}
	e.backend = b
	return e, nil
}

// bpfLSMAvailable reports whether the bpf LSM is active on this kernel.
func bpfLSMAvailable() bool {
	data, err := os.ReadFile("/sys/kernel/security/lsm")
	if err != nil {
		return false
	}
	for _, lsm := range strings.Split(strings.TrimSpace(string(data)), ",") {
		if lsm == "bpf" {
			return true
		}
	}
	return false
}

// Mode returns the selected enforcement mode.
func (e *Engine) Mode() Mode {
	return e.backend.mode()
}

// Load resolves and installs the container's policy under its cgroup
// identity. Per-rule failures are non-fatal: the rule is dropped with a
// warning and the container is marked capability-degraded. A full policy
// map fails with resource-exhausted and existing containers are
// unaffected.
func (e *Engine) Load(c *types.Container, rootfs string, pol types.Policy) error {
	start := time.Now()
	written, dropped, err := e.backend.populate(c.CgroupId, rootfs, pol)
	elapsed := time.Since(start).Microseconds()

	e.mu.Lock()
	e.metrics.LastPopulateUsecs = elapsed
	if err != nil {
		e.metrics.PopulateFailed++
	} else {
		e.metrics.PopulateOk++
		e.metrics.TotalEntries += written
		e.metrics.PerContainer[c.CgroupId] = written
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}
	if dropped > 0 || e.backend.mode() != ModeBPF {
		c.Degraded = true
	}
	return nil
}

// Cleanup removes every policy entry keyed by the cgroup identity. Called
// on container destruction; idempotent.
func (e *Engine) Cleanup(cgroupId uint64) error {
	start := time.Now()
	removed, err := e.backend.cleanup(cgroupId)
	elapsed := time.Since(start).Microseconds()

	e.mu.Lock()
	e.metrics.LastCleanupUsecs = elapsed
	if err != nil {
		e.metrics.CleanupFailed++
	} else {
		e.metrics.CleanupOk++
		e.metrics.TotalEntries -= removed
		delete(e.metrics.PerContainer, cgroupId)
	}
	e.mu.Unlock()

	return err
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.metrics
	snapshot.PerContainer = make(map[uint64]int, len(e.metrics.PerContainer))
	for k, v := range e.metrics.PerContainer {
		snapshot.PerContainer[k] = v
	}
	return snapshot
}

// Close releases the backend resources. Pinned maps stay pinned so live
// containers keep their enforcement across engine restarts.
func (e *Engine) Close() error {
	return e.backend.close()
}
