/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package waiter is the build broker: it admits build requests from
// clients, routes each one to a connected builder and relays status and
// artifacts back. All broker state is soft; a restart forgets workers
// and requests alike, builders reconnect and re-announce themselves.
package waiter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/types"
)

type worker struct {
	sess      *rpc.Session
	info      types.CookWorker
	lastReady time.Time
	inflight  map[string]struct{}
}

type request struct {
	job    types.BuildRequest
	worker *worker
	client *rpc.Session
}

// Broker routes builds between clients and cook workers.
type Broker struct {
	mu       sync.Mutex
	workers  map[*rpc.Session]*worker
	requests map[string]*request
}

func NewBroker() *Broker {
	return &Broker{
		workers:  make(map[*rpc.Session]*worker),
		requests: make(map[string]*request),
	}
}

// Attach registers the broker's protocol surface on a server.
func (b *Broker) Attach(srv *rpc.Server) {
	srv.Handle(rpc.MethodBuild, b.handleBuild)
	srv.Handle(rpc.MethodStatus, b.handleStatus)
	srv.Handle(rpc.MethodArtifact, b.handleArtifact)
	srv.HandleEvent(rpc.EventCookReady, b.onCookReady)
	srv.HandleEvent(rpc.EventCookUpdate, b.onCookUpdate)
	srv.HandleEvent(rpc.EventCookStatus, b.onCookStatus)
	srv.HandleEvent(rpc.EventCookArtifact, b.onCookArtifact)
	srv.OnDisconnect(b.onDisconnect)
}

// pick selects the worker for an architecture: smallest reported queue
// wins, ties go to the most recently ready worker. Caller holds b.mu.
func (b *Broker) pick(arch types.Architecture) *worker {
	var best *worker
	for _, w := range b.workers {
		if !w.info.Ready || !w.info.Serves(arch) {
			continue
		}
		if best == nil ||
			w.info.QueueSize < best.info.QueueSize ||
			(w.info.QueueSize == best.info.QueueSize && w.lastReady.After(best.lastReady)) {
			best = w
		}
	}
	return best
}

func (b *Broker) handleBuild(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
	var req rpc.BuildReq
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, types.WrapError(types.ErrInvalidArgument, err, "build request")
	}
	if req.Arch == types.ArchUnknown || req.Arch.Mask() == 0 {
		return nil, types.NewError(types.ErrUnknownArch, "unknown architecture")
	}
	if req.SourceURL == "" || req.RecipePath == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "source url and recipe path are required")
	}

	b.mu.Lock()
	w := b.pick(req.Arch)
	if w == nil {
		b.mu.Unlock()
		// no candidate: reject without forwarding anything
		return nil, types.NewError(types.ErrUnknownArch,
			"no ready builder serves %s", req.Arch)
	}

	id := uuid.New().String()
	r := &request{
		job: types.BuildRequest{
			Id:         id,
			Arch:       req.Arch,
			Platform:   req.Platform,
			SourceURL:  req.SourceURL,
			RecipePath: req.RecipePath,
			Status:     types.BuildQueued,
		},
		worker: w,
		client: sess,
	}
	b.requests[id] = r
	w.inflight[id] = struct{}{}
	w.info.QueueSize++
	b.mu.Unlock()

	if err := w.sess.Event(rpc.MethodCookBuild, rpc.CookBuildReq{
		Id:         id,
		Arch:       req.Arch,
		Platform:   req.Platform,
		SourceURL:  req.SourceURL,
		RecipePath: req.RecipePath,
	}); err != nil {
		b.failRequests([]string{id}, "builder-lost")
		return nil, types.WrapError(types.ErrBuilderLost, err, "forwarding build")
	}

	logger.WithFields(map[string]interface{}{
		"id":   id,
		"arch": req.Arch.String(),
	}).Info("build queued")

	return &rpc.BuildRes{Status: types.BuildQueued, CorrelationId: id}, nil
}

func (b *Broker) handleStatus(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
	var req rpc.StatusReq
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, types.WrapError(types.ErrInvalidArgument, err, "status request")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.requests[req.Id]
	if !ok {
		// unknown ids answer with the unknown status, not an error
		return &rpc.StatusRes{Status: types.BuildUnknown}, nil
	}
	return &rpc.StatusRes{
		Arch:   r.job.Arch,
		Status: r.job.Status,
		Cause:  r.job.FailureCause,
	}, nil
}

func (b *Broker) handleArtifact(ctx context.Context, sess *rpc.Session, body json.RawMessage) (interface{}, error) {
	var req rpc.ArtifactReq
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, types.WrapError(types.ErrInvalidArgument, err, "artifact request")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.requests[req.Id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "unknown build %s", req.Id)
	}

	// a known build with nothing collected yet answers with an empty
	// URI, clients poll until the artifact lands or the build fails
	var uri string
	switch req.Type {
	case types.ArtifactLog:
		uri = r.job.LogURI
	case types.ArtifactPackage:
		uri = r.job.PackageURI
	}
	return &rpc.ArtifactRes{URI: uri}, nil
}

func (b *Broker) onCookReady(sess *rpc.Session, body json.RawMessage) {
	var ev rpc.CookReadyEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		logger.Warnf("waiter: bad cook.ready from %s: %v", sess.RemoteAddr(), err)
		return
	}

	b.mu.Lock()
	w, ok := b.workers[sess]
	if !ok {
		w = &worker{sess: sess, inflight: make(map[string]struct{})}
		b.workers[sess] = w
	}
	w.info.ArchMask = ev.ArchMask
	w.info.Ready = true
	w.lastReady = time.Now()
	b.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"worker": sess.RemoteAddr(),
		"mask":   ev.ArchMask,
	}).Info("builder ready")
}

func (b *Broker) onCookUpdate(sess *rpc.Session, body json.RawMessage) {
	var ev rpc.CookUpdateEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return
	}
	b.mu.Lock()
	if w, ok := b.workers[sess]; ok {
		w.info.QueueSize = ev.QueueSize
	}
	b.mu.Unlock()
}

func (b *Broker) onCookStatus(sess *rpc.Session, body json.RawMessage) {
	var ev rpc.CookStatusEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return
	}

	b.mu.Lock()
	r, ok := b.requests[ev.Id]
	if !ok {
		b.mu.Unlock()
		return
	}
	if !r.job.Status.CanAdvanceTo(ev.Status) && ev.Status != r.job.Status {
		logger.Warnf("waiter: ignoring status %s for %s in state %s",
			ev.Status, ev.Id, r.job.Status)
		b.mu.Unlock()
		return
	}
	r.job.Status = ev.Status
	r.job.FailureCause = ev.Cause
	if ev.Status.Terminal() {
		if r.worker != nil {
			delete(r.worker.inflight, ev.Id)
		}
	}
	client := r.client
	b.mu.Unlock()

	if client != nil {
		_ = client.Event(rpc.EventCookStatus, ev)
	}
}

func (b *Broker) onCookArtifact(sess *rpc.Session, body json.RawMessage) {
	var ev rpc.CookArtifactEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return
	}

	b.mu.Lock()
	r, ok := b.requests[ev.Id]
	if ok {
		switch ev.Type {
		case types.ArtifactLog:
			r.job.LogURI = ev.URI
		case types.ArtifactPackage:
			r.job.PackageURI = ev.URI
		}
	}
	client := (*rpc.Session)(nil)
	if ok {
		client = r.client
	}
	b.mu.Unlock()

	if client != nil {
		_ = client.Event(rpc.EventCookArtifact, ev)
	}
}

// onDisconnect fails the in-flight builds of a lost worker and clears
// client references of a lost client.
func (b *Broker) onDisconnect(sess *rpc.Session) {
	b.mu.Lock()
	w, isWorker := b.workers[sess]
	var lost []string
	if isWorker {
		for id := range w.inflight {
			lost = append(lost, id)
		}
		delete(b.workers, sess)
	}
	for _, r := range b.requests {
		if r.client == sess {
			r.client = nil
		}
	}
	b.mu.Unlock()

	if isWorker {
		logger.WithField("worker", sess.RemoteAddr()).Warn("builder lost")
		b.failRequests(lost, "builder-lost")
	}
}

// failRequests marks builds failed with the given cause and notifies
// their clients with a final status event.
func (b *Broker) failRequests(ids []string, cause string) {
	for _, id := range ids {
		b.mu.Lock()
		r, ok := b.requests[id]
		if !ok || r.job.Status.Terminal() {
			b.mu.Unlock()
			continue
		}
		r.job.Status = types.BuildFailed
		r.job.FailureCause = cause
		if r.worker != nil {
			delete(r.worker.inflight, id)
		}
		client := r.client
		b.mu.Unlock()

		if client != nil {
			_ = client.Event(rpc.EventCookStatus, rpc.CookStatusEvent{
				Id: id, Status: types.BuildFailed, Cause: cause,
			})
		}
	}
}

// Requests snapshots the request table for diagnostics.
func (b *Broker) Requests() []types.BuildRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.BuildRequest, 0, len(b.requests))
	for _, r := range b.requests {
		out = append(out, r.job)
	}
	return out
}

// Workers snapshots the worker registry.
func (b *Broker) Workers() []types.CookWorker {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.CookWorker, 0, len(b.workers))
	for _, w := range b.workers {
		out = append(out, w.info)
	}
	return out
}
