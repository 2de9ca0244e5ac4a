/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package container creates, runs and destroys isolated execution
// environments. A container owns its layer context and policy handles;
// back-references are by identifier only. The engine is thread-safe for
// distinct containers, operations on a single container are serialized by
// a per-container lock.
package container

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mirkobrombin/chef/pkg/layer"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/policy"
	"github.com/mirkobrombin/chef/pkg/tools"
	"github.com/mirkobrombin/chef/pkg/types"
)

// destroyGrace is how long Destroy waits for children to exit after
// SIGTERM before force-killing the init.
const destroyGrace = 10 * time.Second

// backend is the platform half of the engine. The Linux backend runs the
// namespace handshake; other platforms report unsupported.
type backend interface {
	start(opts types.CreateOptions, ctx *layer.Context, stateDir string) (*child, error)
}

// child is a started container init process.
type child struct {
	pid      int
	cgroupId uint64
	ctrl     *controlConn
	cleanup  func()
}

type managed struct {
	mu       sync.Mutex
	cnt      *types.Container
	layerCtx *layer.Context
	ctrl     *controlConn
	cancel   context.CancelFunc
	waitCtx  context.Context
	cleanup  func()
}

// Engine manages all containers on a host.
type Engine struct {
	mu         sync.Mutex
	containers map[string]*managed

	policy     *policy.Engine
	statesRoot string
	backend    backend
}

// NewEngine creates a container engine storing composed rootfs state
// below statesRoot and loading policies through the given policy engine.
func NewEngine(policyEngine *policy.Engine, statesRoot string) *Engine {
	return &Engine{
		containers: make(map[string]*managed),
		policy:     policyEngine,
		statesRoot: statesRoot,
		backend:    newBackend(policyEngine),
	}
}

// Create builds the composed rootfs, runs the two-process namespace
// handshake and loads the container's policy. The returned container is
// in the created state; the first Spawn takes it to running.
func (e *Engine) Create(opts types.CreateOptions) (cnt *types.Container, err error) {
	id := opts.Id
	if id == "" {
		id = uuid.New().String()[:8]
	}

	e.mu.Lock()
	if _, exists := e.containers[id]; exists {
		e.mu.Unlock()
		return nil, types.NewError(types.ErrAlreadyExists, "container %s already exists", id)
	}
	m := &managed{}
	e.containers[id] = m
	e.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	defer func() {
		if err != nil {
			e.mu.Lock()
			delete(e.containers, id)
			e.mu.Unlock()
		}
	}()

	stateDir := filepath.Join(e.statesRoot, id)
	if err = os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, types.WrapError(types.ErrInternal, err, "creating state dir for %s", id)
	}

	layerCtx, err := layer.Compose(opts.Layers, id, stateDir)
	if err != nil {
		if !opts.KeepOnFailure {
			_ = os.RemoveAll(stateDir)
		}
		return nil, err
	}
	layerCtx.KeepOnFailure = opts.KeepOnFailure

	if opts.Hostname == "" {
		opts.Hostname = id
	}
	opts.Id = id

	ch, err := e.backend.start(opts, layerCtx, stateDir)
	if err != nil {
		// fatal creation error: straight to dead
		_ = layerCtx.Destroy()
		return nil, err
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	m.layerCtx = layerCtx
	m.ctrl = ch.ctrl
	m.cancel = cancel
	m.waitCtx = waitCtx
	m.cleanup = ch.cleanup
	m.cnt = &types.Container{
		Id:              id,
		RootFs:          layerCtx.RootFs,
		CgroupId:        ch.cgroupId,
		Pid:             ch.pid,
		State:           types.ContainerCreated,
		Level:           opts.Level,
		CreateTimestamp: time.Now(),
	}

	if err = e.policy.Load(m.cnt, layerCtx.RootFs, opts.Policy); err != nil {
		e.teardownLocked(m)
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"container": id,
		"cgroup":    m.cnt.CgroupId,
		"rootfs":    m.cnt.RootFs,
	}).Info("container created")

	out := *m.cnt
	return &out, nil
}

func (e *Engine) get(id string) (*managed, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.containers[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "container %s not found", id)
	}
	return m, nil
}

// Get returns a copy of the container record.
func (e *Engine) Get(id string) (*types.Container, error) {
	m, err := e.get(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *m.cnt
	return &out, nil
}

// List returns copies of all live container records.
func (e *Engine) List() []*types.Container {
	e.mu.Lock()
	managedList := make([]*managed, 0, len(e.containers))
	for _, m := range e.containers {
		managedList = append(managedList, m)
	}
	e.mu.Unlock()

	out := make([]*types.Container, 0, len(managedList))
	for _, m := range managedList {
		m.mu.Lock()
		if m.cnt != nil {
			c := *m.cnt
			out = append(out, &c)
		}
		m.mu.Unlock()
	}
	return out
}

// Spawn starts a process inside the container. With SpawnWaitExit set it
// blocks until the child exits and returns the exit code exactly as the
// OS reports it. Destroy cancels in-flight waits with cancelled.
func (e *Engine) Spawn(ctx context.Context, id string, argv, env []string, flags types.SpawnFlags) (pid, exit int, err error) {
	m, err := e.get(id)
	if err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	switch m.cnt.State {
	case types.ContainerCreated:
		m.cnt.State = types.ContainerRunning
	case types.ContainerRunning:
	default:
		state := m.cnt.State
		m.mu.Unlock()
		return 0, 0, types.NewError(types.ErrNotRunning, "container %s is %s", id, state)
	}
	ctrl := m.ctrl
	waitCtx := m.waitCtx
	m.mu.Unlock()

	if len(argv) == 0 {
		return 0, 0, types.NewError(types.ErrInvalidArgument, "empty argv")
	}

	// the per-container wait context is cancelled by Destroy
	spawnCtx, cancel := mergeContexts(ctx, waitCtx)
	defer cancel()

	resp, err := ctrl.roundTrip(spawnCtx, ctrlRequest{
		Op:   ctrlOpSpawn,
		Argv: argv,
		Env:  env,
		Wait: flags&types.SpawnWaitExit != 0,
	})
	if err != nil {
		return 0, 0, err
	}
	if resp.Err != "" {
		return 0, 0, types.NewError(types.ErrSpawnFailed, "%s", resp.Err)
	}
	return resp.Pid, resp.Exit, nil
}

// Kill signal-terminates a child of the container; the init reaps it
// asynchronously. Idempotent: signalling an already-gone pid succeeds.
func (e *Engine) Kill(id string, pid int) error {
	m, err := e.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	state := m.cnt.State
	ctrl := m.ctrl
	m.mu.Unlock()

	if state != types.ContainerRunning && state != types.ContainerCreated {
		return types.NewError(types.ErrNotRunning, "container %s is %s", id, state)
	}
	if !tools.PidAlive(pid) {
		return nil
	}

	resp, err := ctrl.roundTrip(context.Background(), ctrlRequest{Op: ctrlOpKill, Pid: pid})
	if err != nil {
		return err
	}
	if resp.Err != "" {
		return types.NewError(types.ErrInternal, "%s", resp.Err)
	}
	return nil
}

// Upload copies a host file into the container. The write lands in a
// temporary file next to the destination and is renamed into place, so
// the copy is atomic from the container's perspective.
func (e *Engine) Upload(ctx context.Context, id, hostPath, containerPath string) error {
	m, err := e.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rootfs := m.cnt.RootFs
	readOnly := m.layerCtx != nil && m.layerCtx.ReadOnly
	state := m.cnt.State
	m.mu.Unlock()

	if state == types.ContainerDying || state == types.ContainerDead {
		return types.NewError(types.ErrNotRunning, "container %s is %s", id, state)
	}
	if readOnly {
		return types.NewError(types.ErrReadOnly, "container %s rootfs is read-only", id)
	}
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.ErrCancelled, err, "upload cancelled")
	}

	dest, err := tools.JoinInside(rootfs, containerPath)
	if err != nil {
		return types.WrapError(types.ErrInvalidArgument, err, "container path")
	}
	return tools.CopyFileAtomic(hostPath, dest)
}

// Download copies a file out of the container to the host, atomically on
// the host side.
func (e *Engine) Download(ctx context.Context, id, containerPath, hostPath string) error {
	m, err := e.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	rootfs := m.cnt.RootFs
	state := m.cnt.State
	m.mu.Unlock()

	if state == types.ContainerDying || state == types.ContainerDead {
		return types.NewError(types.ErrNotRunning, "container %s is %s", id, state)
	}
	if err := ctx.Err(); err != nil {
		return types.WrapError(types.ErrCancelled, err, "download cancelled")
	}

	src, err := tools.JoinInside(rootfs, containerPath)
	if err != nil {
		return types.WrapError(types.ErrInvalidArgument, err, "container path")
	}
	if _, err := os.Stat(src); err != nil {
		return types.WrapError(types.ErrNotFound, err, "container file %s", containerPath)
	}
	return tools.CopyFileAtomic(src, hostPath)
}

// Destroy transitions the container through dying to dead: in-flight
// spawn waits are cancelled, children are signalled and reaped with a
// bounded grace period, the layer context is torn down and the policy
// entries are removed. Idempotent after the first call; unknown ids
// report not-found.
func (e *Engine) Destroy(id string) error {
	m, err := e.get(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cnt.State == types.ContainerDead {
		return nil
	}
	m.cnt.State = types.ContainerDying

	e.teardownLocked(m)

	e.mu.Lock()
	delete(e.containers, id)
	e.mu.Unlock()

	logger.WithField("container", id).Info("container destroyed")
	return nil
}

// teardownLocked performs the dying half of destruction. m.mu must be
// held.
func (e *Engine) teardownLocked(m *managed) {
	if m.cancel != nil {
		m.cancel()
	}

	if m.ctrl != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), destroyGrace)
		_, _ = m.ctrl.roundTrip(shutdownCtx, ctrlRequest{Op: ctrlOpShutdown})
		cancel()
		_ = m.ctrl.close()
		m.ctrl = nil
	}

	if m.cleanup != nil {
		m.cleanup()
		m.cleanup = nil
	}

	if m.cnt != nil && m.cnt.CgroupId != 0 {
		if err := e.policy.Cleanup(m.cnt.CgroupId); err != nil {
			logger.Warnf("policy cleanup for %s: %v", m.cnt.Id, err)
		}
	}

	if m.layerCtx != nil {
		if err := m.layerCtx.Destroy(); err != nil {
			logger.Warnf("layer teardown for %s: %v", m.cnt.Id, err)
		}
		m.layerCtx = nil
	}

	if m.cnt != nil {
		m.cnt.State = types.ContainerDead
	}
}

// mergeContexts returns a context cancelled when either input is.
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	if b == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
