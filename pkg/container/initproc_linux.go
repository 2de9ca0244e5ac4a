/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package container

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mirkobrombin/chef/pkg/layer"
	"github.com/mirkobrombin/chef/pkg/policy"
	"golang.org/x/sys/unix"
)

// shutdownGrace is how long the init waits for its children after
// SIGTERM before exiting anyway; the namespace teardown kills leftovers.
const shutdownGrace = 5 * time.Second

// RunInit is the entry point of the spawn subcommand, running as pid 1
// of a fresh namespace set. It waits for the go message, finishes the
// namespace setup, hands the control fd back to the parent and then
// serves control requests until shutdown. Never returns on success
// before the namespace is ready to die.
func RunInit(specPath string) error {
	spec, err := loadInitSpec(specPath)
	if err != nil {
		return err
	}

	hs, err := openChildHandshake()
	if err != nil {
		return err
	}
	if err := hs.waitGo(); err != nil {
		hs.close()
		return fmt.Errorf("waiting for release: %w", err)
	}

	setupErr := setupNamespace(spec)

	var ctrlFd int
	var ctrl *os.File
	if setupErr == nil {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			setupErr = fmt.Errorf("creating control pair: %w", err)
		} else {
			ctrl = os.NewFile(uintptr(fds[0]), "control")
			ctrlFd = fds[1]
		}
	}

	if err := hs.sendReady(ctrlFd, setupErr); err != nil {
		hs.close()
		return fmt.Errorf("reporting readiness: %w", err)
	}
	hs.close()
	if setupErr != nil {
		return setupErr
	}
	// the parent holds its own duplicate now
	_ = unix.Close(ctrlFd)

	// the filter is the last setup step: it binds to this task and is
	// inherited by everything spawned below
	if len(spec.Syscalls) > 0 {
		if err := policy.ApplyFilter(spec.Syscalls); err != nil {
			return fmt.Errorf("applying syscall filter: %w", err)
		}
	}

	serveControl(ctrl, spec)
	return nil
}

// setupNamespace turns the inherited mount view into the container's:
// runtime mounts, pivot into the composed rootfs, hostname and
// capability mask.
func setupNamespace(spec *initSpec) error {
	// keep our mount changes out of the host's namespace
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("making mounts private: %w", err)
	}

	if err := layer.NamespaceMounts(spec.RootFs, spec.Binds); err != nil {
		return err
	}

	if err := pivotRoot(spec.RootFs); err != nil {
		return err
	}

	if err := unix.Sethostname([]byte(spec.Hostname)); err != nil {
		return fmt.Errorf("setting hostname: %w", err)
	}

	if err := dropCapabilities(spec.Caps); err != nil {
		return err
	}
	return nil
}

// pivotRoot swaps the namespace root for the composed rootfs and
// detaches the old root so host paths are unreachable.
func pivotRoot(rootfs string) error {
	// pivot_root requires the new root to be a mount point
	if err := unix.Mount(rootfs, rootfs, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("binding new root: %w", err)
	}

	oldRoot := filepath.Join(rootfs, ".old_root")
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return fmt.Errorf("creating old root dir: %w", err)
	}

	if err := unix.PivotRoot(rootfs, oldRoot); err != nil {
		return fmt.Errorf("pivoting root: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("entering new root: %w", err)
	}

	if err := unix.Unmount("/.old_root", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("detaching old root: %w", err)
	}
	return os.Remove("/.old_root")
}

// serveControl answers spawn, kill and shutdown requests over the
// control stream, one at a time. Background children are reaped as they
// exit; shutdown signal-terminates the remaining ones and waits out the
// grace period before returning.
func serveControl(conn *os.File, spec *initSpec) {
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	var mu sync.Mutex
	children := make(map[int]*exec.Cmd)

	for {
		var req ctrlRequest
		if err := dec.Decode(&req); err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "control decode: %v\n", err)
			}
			// connection gone means the parent is gone; take the
			// namespace down with us
			shutdownChildren(&mu, children)
			return
		}

		var resp ctrlResponse
		switch req.Op {
		case ctrlOpSpawn:
			resp = handleSpawn(req, spec, &mu, children)
		case ctrlOpKill:
			resp = handleKill(req.Pid)
		case ctrlOpShutdown:
			shutdownChildren(&mu, children)
			_ = enc.Encode(&ctrlResponse{})
			return
		default:
			resp.Err = fmt.Sprintf("unknown control op %q", req.Op)
		}
		if err := enc.Encode(&resp); err != nil {
			shutdownChildren(&mu, children)
			return
		}
	}
}

func handleSpawn(req ctrlRequest, spec *initSpec, mu *sync.Mutex, children map[int]*exec.Cmd) (resp ctrlResponse) {
	if len(req.Argv) == 0 {
		resp.Err = "empty argv"
		return
	}

	cmd := exec.Command(req.Argv[0], req.Argv[1:]...)
	cmd.Env = append([]string{
		"PATH=/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin",
		"HOME=/root",
		"CHEF_CONTAINER_ID=" + spec.ContainerId,
	}, req.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		resp.Err = err.Error()
		return
	}
	resp.Pid = cmd.Process.Pid

	if req.Wait {
		resp.Exit = waitExit(cmd)
		return
	}

	mu.Lock()
	children[cmd.Process.Pid] = cmd
	mu.Unlock()
	go func(pid int) {
		_ = cmd.Wait()
		mu.Lock()
		delete(children, pid)
		mu.Unlock()
	}(cmd.Process.Pid)
	return
}

func handleKill(pid int) (resp ctrlResponse) {
	if pid <= 1 {
		resp.Err = "refusing to signal init"
		return
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && err != unix.ESRCH {
		resp.Err = err.Error()
	}
	return
}

// waitExit reports the child's exit code as the OS does: the low byte
// for a normal exit, 128 plus the signal number otherwise.
func waitExit(cmd *exec.Cmd) int {
	err := cmd.Wait()
	if cmd.ProcessState == nil {
		if err != nil {
			return 255
		}
		return 0
	}
	ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return cmd.ProcessState.ExitCode()
}

func shutdownChildren(mu *sync.Mutex, children map[int]*exec.Cmd) {
	mu.Lock()
	pids := make([]int, 0, len(children))
	for pid := range children {
		pids = append(pids, pid)
	}
	mu.Unlock()

	for _, pid := range pids {
		_ = unix.Kill(pid, unix.SIGTERM)
	}

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		mu.Lock()
		left := len(children)
		mu.Unlock()
		if left == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
