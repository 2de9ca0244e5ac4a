/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mirkobrombin/chef/pkg/layer"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/policy"
	"github.com/mirkobrombin/chef/pkg/types"
	"golang.org/x/sys/unix"
)

// readyTimeout bounds how long the parent waits for the init to report
// readiness after the go message.
const readyTimeout = 30 * time.Second

type linuxBackend struct {
	policy *policy.Engine
}

func newBackend(policyEngine *policy.Engine) backend {
	return &linuxBackend{policy: policyEngine}
}

// initSpec is the state handed to the spawn child through a file in the
// container state dir; flags would not survive shell quoting of bind
// paths and environment values.
type initSpec struct {
	ContainerId string        `json:"container_id"`
	RootFs      string        `json:"rootfs"`
	Hostname    string        `json:"hostname"`
	Caps        uint64        `json:"caps"`
	Binds       []types.Layer `json:"binds,omitempty"`
	Syscalls    []string      `json:"syscalls,omitempty"`
}

// start re-executes chef as `chef spawn` in fresh namespaces and runs
// the creation handshake: the child only proceeds past its go-wait once
// it has been placed in the container cgroup, so every syscall it makes
// inside the namespaces is attributed to the container's identity.
func (b *linuxBackend) start(opts types.CreateOptions, layerCtx *layer.Context, stateDir string) (*child, error) {
	cgPath, cgroupId, err := createCgroup(opts.Id)
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, err, "container %s", opts.Id)
	}

	spec := initSpec{
		ContainerId: opts.Id,
		RootFs:      layerCtx.RootFs,
		Hostname:    opts.Hostname,
		Caps:        opts.Capabilities,
		Binds:       layerCtx.Binds(),
	}
	if b.policy.Mode() != policy.ModeBPF {
		// no LSM hooks to enforce against; the init applies a syscall
		// filter derived from the same policy instead
		spec.Syscalls = policy.AllowedSyscalls(opts.Level, opts.Policy.Net)
	}

	specPath := filepath.Join(stateDir, "init.json")
	payload, err := json.Marshal(&spec)
	if err != nil {
		removeCgroup(cgPath)
		return nil, types.WrapError(types.ErrInternal, err, "encoding init spec")
	}
	if err := os.WriteFile(specPath, payload, 0o600); err != nil {
		removeCgroup(cgPath)
		return nil, types.WrapError(types.ErrInternal, err, "writing init spec")
	}

	hs, err := newHandshake()
	if err != nil {
		removeCgroup(cgPath)
		return nil, types.WrapError(types.ErrInternal, err, "creating handshake pair")
	}
	defer hs.close()

	self, err := os.Executable()
	if err != nil {
		removeCgroup(cgPath)
		return nil, types.WrapError(types.ErrInternal, err, "resolving own binary")
	}

	cmd := exec.Command(self, "spawn", "--spec", specPath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{hs.childFile}
	cmd.Env = append(os.Environ(), "CHEF_CONTAINER_ID="+opts.Id)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
			syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWNET,
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		removeCgroup(cgPath)
		return nil, startError(err, opts.Id)
	}
	pid := cmd.Process.Pid

	// the init exits on shutdown or on a setup failure; reap it either way
	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	abort := func() {
		_ = unix.Kill(pid, unix.SIGKILL)
		select {
		case <-waitDone:
		case <-time.After(destroyGrace):
		}
		removeCgroup(cgPath)
	}

	if err := addToCgroup(cgPath, pid); err != nil {
		abort()
		return nil, types.WrapError(types.ErrInternal, err, "placing init in cgroup")
	}
	if err := hs.sendGo(); err != nil {
		abort()
		return nil, types.WrapError(types.ErrInternal, err, "releasing container init")
	}

	ctrlRaw, err := hs.recvReady(readyTimeout)
	if err != nil {
		abort()
		return nil, types.WrapError(types.ErrInternal, err, "container %s init", opts.Id)
	}

	logger.WithFields(map[string]interface{}{
		"container": opts.Id,
		"pid":       pid,
	}).Debug("container init ready")

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			// the shutdown request already asked the init to exit; give
			// it the rest of the grace period before the hard kill
			select {
			case <-waitDone:
			case <-time.After(destroyGrace):
				_ = unix.Kill(pid, unix.SIGKILL)
				select {
				case <-waitDone:
				case <-time.After(time.Second):
				}
			}
			removeCgroup(cgPath)
			_ = os.Remove(specPath)
		})
	}

	return &child{
		pid:      pid,
		cgroupId: cgroupId,
		ctrl:     newControlConn(ctrlRaw),
		cleanup:  cleanup,
	}, nil
}

// startError maps fork/exec failures onto the error taxonomy.
func startError(err error, id string) error {
	switch {
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return types.WrapError(types.ErrPermissionDenied, err, "starting init for %s", id)
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOMEM):
		return types.WrapError(types.ErrResourceExhausted, err, "starting init for %s", id)
	default:
		return types.WrapError(types.ErrInternal, err, "starting init for %s", id)
	}
}

// loadInitSpec reads back the spec written by start; used by the spawn
// subcommand.
func loadInitSpec(path string) (*initSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading init spec: %w", err)
	}
	var spec initSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing init spec: %w", err)
	}
	if spec.ContainerId == "" || spec.RootFs == "" {
		return nil, fmt.Errorf("init spec missing container id or rootfs")
	}
	return &spec, nil
}
