/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package install drives package transactions through their state sets.
// A single background worker executes one state handler at a time; the
// tables in states.go define all transitions, handlers only report
// success or failure. Non-ephemeral transactions survive restarts: the
// runner replays them from their persisted state, which is why every
// handler is idempotent.
package install

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mirkobrombin/chef/pkg/chef"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/pack"
	"github.com/mirkobrombin/chef/pkg/packfs"
	"github.com/mirkobrombin/chef/pkg/types"
)

// Event identifies a notification pushed by the runner. The daemon maps
// these onto protocol events for connected clients.
type Event string

const (
	EventLog       Event = "transaction_log"
	EventInstalled Event = "package_installed"
	EventRemoved   Event = "package_removed"
	EventUpdated   Event = "package_updated"
)

// LogNotification is the payload of EventLog.
type LogNotification struct {
	TransactionId uint64
	Entry         types.LogEntry
}

// PackageNotification is the payload of the package_* events.
type PackageNotification struct {
	TransactionId uint64
	Package       string
	Revision      int
}

// ServiceManager starts and stops the daemon commands a package
// exports. The served daemon wires a container-backed implementation;
// tests use fakes.
type ServiceManager interface {
	Start(ctx context.Context, app *types.Application, cmd types.Command) error
	Stop(ctx context.Context, app *types.Application, cmd types.Command) error
}

// NoopServices ignores service commands; useful when no container
// daemon is reachable.
type NoopServices struct{}

func (NoopServices) Start(ctx context.Context, app *types.Application, cmd types.Command) error {
	return nil
}
func (NoopServices) Stop(ctx context.Context, app *types.Application, cmd types.Command) error {
	return nil
}

const queueDepth = 128

// Runner is the single-worker transaction executor.
type Runner struct {
	chef     *chef.Chef
	store    *Store
	apps     *AppStore
	fetch    Fetcher
	services ServiceManager
	notify   func(event Event, payload interface{})

	// mu is the state lock; it guards persisted-field access, the
	// loaded-application cache and the mount table. Never held across a
	// blocking handler step.
	mu     sync.Mutex
	loaded map[uint64]*types.Application
	mounts map[string]*packfs.Server

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	queue   chan uint64
}

// NewRunner assembles a runner. notify may be nil; fetch and services
// fall back to the defaults when nil.
func NewRunner(c *chef.Chef, store *Store, apps *AppStore,
	fetch Fetcher, services ServiceManager,
	notify func(event Event, payload interface{})) *Runner {
	if fetch == nil {
		fetch = &HTTPFetcher{}
	}
	if services == nil {
		services = NoopServices{}
	}
	return &Runner{
		chef:     c,
		store:    store,
		apps:     apps,
		fetch:    fetch,
		services: services,
		notify:   notify,
		loaded:   make(map[uint64]*types.Application),
		mounts:   make(map[string]*packfs.Server),
		queue:    make(chan uint64, queueDepth),
	}
}

// Start launches the worker and replays pending non-ephemeral
// transactions from the store.
func (r *Runner) Start() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return nil
	}

	if err := r.store.PruneEphemeral(); err != nil {
		logger.Warnf("install: pruning ephemeral transactions: %v", err)
	}

	pending, err := r.store.GetPending()
	if err != nil {
		return types.WrapError(types.ErrInternal, err, "replaying transactions")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.work(ctx)

	for _, t := range pending {
		logger.WithFields(map[string]interface{}{
			"transaction": t.Id,
			"state":       t.State,
		}).Info("replaying transaction")
		r.enqueue(t.Id)
	}
	return nil
}

// Stop cancels the worker and waits for the in-flight handler to honor
// the cancellation, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	done := r.done
	r.runMu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return types.WrapError(types.ErrCancelled, ctx.Err(), "runner stop timed out")
	}
}

// IsRunning reports whether the worker is active.
func (r *Runner) IsRunning() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.running
}

// Create allocates a transaction, persists it and queues it for the
// worker. On store failure the reserved sentinel id is returned.
func (r *Runner) Create(t types.Transaction) (uint64, error) {
	if t.Type != types.TransactionShutdownSweep {
		if _, _, err := SplitName(t.Package); err != nil {
			return types.TransactionFailureId, err
		}
	}

	t.State = firstState(t.Type)
	t.Created = time.Now()
	if t.Name == "" {
		t.Name = fmt.Sprintf("%s %s", t.Type, t.Package)
	}

	id, err := r.store.NewTransaction(t)
	if err != nil {
		return types.TransactionFailureId,
			types.WrapError(types.ErrInternal, err, "allocating transaction")
	}

	r.enqueue(id)
	return id, nil
}

func (r *Runner) enqueue(id uint64) {
	select {
	case r.queue <- id:
	default:
		// a full queue means the worker is badly behind; run the
		// enqueue blocking in the background rather than dropping
		go func() { r.queue <- id }()
	}
}

func (r *Runner) work(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.advance(ctx, id)
		}
	}
}

// advance runs a transaction's handlers until it reaches a terminal
// state or the worker is cancelled. A store write failure blocks the
// transition: the transaction is left in its current state for the next
// replay.
func (r *Runner) advance(ctx context.Context, id uint64) {
	t, err := r.store.GetTransaction(id)
	if err != nil {
		logger.Errorf("install: transaction %d vanished: %v", id, err)
		return
	}

	for !terminal(t.State) {
		if ctx.Err() != nil {
			logger.WithField("transaction", t.Id).Info("transaction suspended")
			return
		}

		st, ok := stepFor(t.Type, t.State)
		if !ok {
			r.log(&t, types.LogError, "no handler for state %s", t.State)
			if err := r.transition(&t, types.StateFailed); err != nil {
				return
			}
			continue
		}

		handlerErr := st.handler(ctx, r, &t)

		next := st.onOK
		if handlerErr != nil {
			if ctx.Err() != nil {
				// finished the step but not allowed to advance
				logger.WithField("transaction", t.Id).Info("transaction suspended")
				return
			}
			r.log(&t, types.LogError, "%s failed: %v", t.State, handlerErr)
			next = st.onFail
		}

		if err := r.transition(&t, next); err != nil {
			logger.Errorf("install: persisting transition of %d: %v", t.Id, err)
			return
		}
	}

	r.commit(&t)
}

// transition persists and applies a state change.
func (r *Runner) transition(t *types.Transaction, next types.State) error {
	r.mu.Lock()
	err := r.store.SetState(t.Id, next)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	t.State = next
	return nil
}

// commit performs the terminal bookkeeping: the applications document
// is updated and the final event is emitted. A document write failure
// downgrades a committed install to failed, the pack stays loadable for
// a retry.
func (r *Runner) commit(t *types.Transaction) {
	switch {
	case t.State == types.StateCommitted && (t.Type == types.TransactionInstall || t.Type == types.TransactionUpdate):
		app, err := r.appFor(t)
		if err == nil {
			app.InstallTimestamp = time.Now()
			err = r.apps.Add(app)
		}
		if err != nil {
			r.log(t, types.LogError, "committing %s: %v", t.Package, err)
			_ = r.transition(t, types.StateFailed)
			return
		}
		event := EventInstalled
		if t.Type == types.TransactionUpdate {
			event = EventUpdated
		}
		r.emit(event, PackageNotification{
			TransactionId: t.Id, Package: t.Package, Revision: app.Revision,
		})
		r.log(t, types.LogInfo, "committed")

	case t.State == types.StateCommitted && t.Type == types.TransactionUninstall:
		if err := r.apps.Remove(t.Package); err != nil {
			r.log(t, types.LogError, "removing %s from document: %v", t.Package, err)
			_ = r.transition(t, types.StateFailed)
			return
		}
		r.emit(EventRemoved, PackageNotification{
			TransactionId: t.Id, Package: t.Package,
		})
		r.log(t, types.LogInfo, "committed")

	case t.State == types.StateFailed:
		r.log(t, types.LogError, "transaction failed")
	}

	r.mu.Lock()
	delete(r.loaded, t.Id)
	r.mu.Unlock()
}

// log records a transaction log entry: persisted for non-ephemeral
// transactions, always emitted as a notification.
func (r *Runner) log(t *types.Transaction, level types.LogLevel, format string, args ...interface{}) {
	entry := types.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		State:     t.State,
		Message:   fmt.Sprintf(format, args...),
	}

	if !t.Ephemeral {
		r.mu.Lock()
		err := r.store.AppendLog(t.Id, entry)
		r.mu.Unlock()
		if err != nil {
			logger.Warnf("install: persisting log for %d: %v", t.Id, err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"transaction": t.Id,
		"state":       t.State,
	}).Debug(entry.Message)

	r.emit(EventLog, LogNotification{TransactionId: t.Id, Entry: entry})
}

// Log appends an entry to a transaction's log stream by id.
func (r *Runner) Log(id uint64, level types.LogLevel, format string, args ...interface{}) error {
	t, err := r.store.GetTransaction(id)
	if err != nil {
		return err
	}
	r.log(&t, level, format, args...)
	return nil
}

// Transaction returns a transaction's current persisted record.
func (r *Runner) Transaction(id uint64) (types.Transaction, error) {
	return r.store.GetTransaction(id)
}

// Logs returns a transaction's persisted log stream.
func (r *Runner) Logs(id uint64) ([]types.LogEntry, error) {
	return r.store.GetLogs(id)
}

func (r *Runner) emit(event Event, payload interface{}) {
	if r.notify != nil {
		r.notify(event, payload)
	}
}

// appFor resolves the application a transaction manipulates: the cache
// filled by load, the installed document, or the pack manifest itself
// when resuming past load after a restart.
func (r *Runner) appFor(t *types.Transaction) (*types.Application, error) {
	r.mu.Lock()
	app := r.loaded[t.Id]
	r.mu.Unlock()
	if app != nil {
		return app, nil
	}

	if app, err := r.apps.Get(t.Package); err == nil {
		return app, nil
	}
	return r.loadApplication(t)
}

// loadApplication reads the pack manifest and caches the resulting
// application record for the rest of the transaction.
func (r *Runner) loadApplication(t *types.Transaction) (*types.Application, error) {
	publisher, pkgName, err := SplitName(t.Package)
	if err != nil {
		return nil, err
	}

	reader, err := pack.OpenTar(r.chef.PackPathFor(publisher, pkgName))
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, err, "opening pack for %s", t.Package)
	}
	defer reader.Close()

	manifest, err := pack.ReadManifest(reader)
	if err != nil {
		return nil, types.WrapError(types.ErrInvalidArgument, err, "pack for %s", t.Package)
	}
	if manifest.Publisher != publisher || manifest.Package != pkgName {
		return nil, types.NewError(types.ErrInvalidArgument,
			"pack manifest names %s/%s, expected %s", manifest.Publisher, manifest.Package, t.Package)
	}
	if t.Revision != 0 && manifest.Revision != t.Revision {
		return nil, types.NewError(types.ErrInvalidArgument,
			"pack carries revision %d, transaction wants %d", manifest.Revision, t.Revision)
	}

	app := &types.Application{
		Publisher: manifest.Publisher,
		Package:   manifest.Package,
		Revision:  manifest.Revision,
		Commands:  manifest.Commands,
	}

	r.mu.Lock()
	r.loaded[t.Id] = app
	r.mu.Unlock()
	return app, nil
}
