/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package waiter

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mirkobrombin/chef/pkg/rpc"
	"github.com/mirkobrombin/chef/pkg/types"
)

type pipeListener struct {
	conns chan net.Conn
	once  sync.Once
	done  chan struct{}
}

func newPipeListener() *pipeListener {
	return &pipeListener{conns: make(chan net.Conn, 4), done: make(chan struct{})}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return &net.UnixAddr{Name: "pipe", Net: "unix"}
}

// brokerHarness is a waiterd in miniature: a broker attached to an
// in-memory server, plus a dialer for worker and client connections.
type brokerHarness struct {
	broker *Broker
	dial   func() *rpc.Conn
}

func newHarness(t *testing.T) *brokerHarness {
	t.Helper()

	broker := NewBroker()
	srv := rpc.NewServer()
	broker.Attach(srv)

	l := newPipeListener()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		l.Close()
	})

	return &brokerHarness{
		broker: broker,
		dial: func() *rpc.Conn {
			clientEnd, serverEnd := net.Pipe()
			l.conns <- serverEnd
			c := rpc.NewConn(clientEnd)
			t.Cleanup(func() { c.Close() })
			return c
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// connectWorker announces a ready builder for the given architectures
// and returns the channel its forwarded build jobs land on.
func connectWorker(t *testing.T, h *brokerHarness, archs ...types.Architecture) (*rpc.Conn, chan rpc.CookBuildReq) {
	t.Helper()

	jobs := make(chan rpc.CookBuildReq, 4)
	conn := h.dial()
	conn.OnEvent(func(method string, body json.RawMessage) {
		if method != rpc.MethodCookBuild {
			return
		}
		var req rpc.CookBuildReq
		if json.Unmarshal(body, &req) == nil {
			jobs <- req
		}
	})

	var mask uint32
	for _, a := range archs {
		mask |= a.Mask()
	}
	before := len(h.broker.Workers())
	if err := conn.Event(rpc.EventCookReady, rpc.CookReadyEvent{ArchMask: mask}); err != nil {
		t.Fatalf("cook.ready: %v", err)
	}

	waitFor(t, "worker registration", func() bool {
		return len(h.broker.Workers()) > before
	})
	return conn, jobs
}

func buildStatus(t *testing.T, client *rpc.Conn, id string) rpc.StatusRes {
	t.Helper()
	var res rpc.StatusRes
	if err := client.Call(context.Background(), rpc.MethodStatus, rpc.StatusReq{Id: id}, &res); err != nil {
		t.Fatalf("waiter.status: %v", err)
	}
	return res
}

func TestBuildRoutedToWorkerAndCompletes(t *testing.T) {
	h := newHarness(t)
	worker, jobs := connectWorker(t, h, types.ArchX64)
	client := h.dial()

	var res rpc.BuildRes
	err := client.Call(context.Background(), rpc.MethodBuild, rpc.BuildReq{
		Arch:       types.ArchX64,
		Platform:   "linux",
		SourceURL:  "https://example.org/src.tar",
		RecipePath: "recipe.json",
	}, &res)
	if err != nil {
		t.Fatalf("waiter.build: %v", err)
	}
	if res.Status != types.BuildQueued || res.CorrelationId == "" {
		t.Fatalf("build accepted as %+v", res)
	}

	var job rpc.CookBuildReq
	select {
	case job = <-jobs:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never reached the worker")
	}
	if job.Id != res.CorrelationId || job.SourceURL != "https://example.org/src.tar" {
		t.Fatalf("forwarded job = %+v", job)
	}

	for _, status := range []types.BuildStatus{types.BuildSourcing, types.BuildBuilding, types.BuildPacking} {
		if err := worker.Event(rpc.EventCookStatus, rpc.CookStatusEvent{Id: job.Id, Status: status}); err != nil {
			t.Fatalf("cook.status: %v", err)
		}
	}
	if err := worker.Event(rpc.EventCookArtifact, rpc.CookArtifactEvent{
		Id: job.Id, Type: types.ArtifactPackage, URI: "file:///artifacts/demo.pack",
	}); err != nil {
		t.Fatalf("cook.artifact: %v", err)
	}
	if err := worker.Event(rpc.EventCookStatus, rpc.CookStatusEvent{Id: job.Id, Status: types.BuildDone}); err != nil {
		t.Fatalf("cook.status: %v", err)
	}

	waitFor(t, "done status", func() bool {
		return buildStatus(t, client, job.Id).Status == types.BuildDone
	})

	var art rpc.ArtifactRes
	if err := client.Call(context.Background(), rpc.MethodArtifact,
		rpc.ArtifactReq{Id: job.Id, Type: types.ArtifactPackage}, &art); err != nil {
		t.Fatalf("waiter.artifact: %v", err)
	}
	if art.URI != "file:///artifacts/demo.pack" {
		t.Fatalf("artifact URI = %q", art.URI)
	}
}

// Status may not move backwards: a stale sourcing event after done is
// dropped.
func TestStatusRegressionsIgnored(t *testing.T) {
	h := newHarness(t)
	worker, jobs := connectWorker(t, h, types.ArchArm64)
	client := h.dial()

	var res rpc.BuildRes
	if err := client.Call(context.Background(), rpc.MethodBuild, rpc.BuildReq{
		Arch: types.ArchArm64, SourceURL: "https://example.org/a.tar", RecipePath: "recipe.json",
	}, &res); err != nil {
		t.Fatalf("waiter.build: %v", err)
	}
	job := <-jobs

	_ = worker.Event(rpc.EventCookStatus, rpc.CookStatusEvent{Id: job.Id, Status: types.BuildDone})
	waitFor(t, "done status", func() bool {
		return buildStatus(t, client, job.Id).Status == types.BuildDone
	})

	_ = worker.Event(rpc.EventCookStatus, rpc.CookStatusEvent{Id: job.Id, Status: types.BuildSourcing})

	// the stale event races the assertion; give the broker a moment
	time.Sleep(50 * time.Millisecond)
	if got := buildStatus(t, client, job.Id).Status; got != types.BuildDone {
		t.Fatalf("status regressed to %s", got)
	}
}

func TestUnknownBuildIdAnswersUnknown(t *testing.T) {
	h := newHarness(t)
	client := h.dial()

	res := buildStatus(t, client, "no-such-id")
	if res.Status != types.BuildUnknown {
		t.Fatalf("status = %s, want %s", res.Status, types.BuildUnknown)
	}

	// artifacts of unknown ids stay an error, only known ids degrade
	// to the empty URI
	var art rpc.ArtifactRes
	err := client.Call(context.Background(), rpc.MethodArtifact, rpc.ArtifactReq{
		Id: "no-such-id", Type: types.ArtifactLog,
	}, &art)
	if types.KindOf(err) != types.ErrNotFound {
		t.Fatalf("artifact error kind = %v, want %v", types.KindOf(err), types.ErrNotFound)
	}
}

func TestBuildWithoutCandidateWorker(t *testing.T) {
	h := newHarness(t)
	connectWorker(t, h, types.ArchX64)
	client := h.dial()

	err := client.Call(context.Background(), rpc.MethodBuild, rpc.BuildReq{
		Arch: types.ArchArmhf, SourceURL: "https://example.org/a.tar", RecipePath: "recipe.json",
	}, nil)
	if types.KindOf(err) != types.ErrUnknownArch {
		t.Fatalf("kind = %s, want %s", types.KindOf(err), types.ErrUnknownArch)
	}

	// nothing must have been forwarded or recorded
	if n := len(h.broker.Requests()); n != 0 {
		t.Fatalf("broker recorded %d requests", n)
	}
}

func TestBuildRejectsUnknownArch(t *testing.T) {
	h := newHarness(t)
	client := h.dial()

	err := client.Call(context.Background(), rpc.MethodBuild, rpc.BuildReq{
		Arch: types.ArchUnknown, SourceURL: "https://example.org/a.tar", RecipePath: "recipe.json",
	}, nil)
	if types.KindOf(err) != types.ErrUnknownArch {
		t.Fatalf("kind = %s, want %s", types.KindOf(err), types.ErrUnknownArch)
	}
}

func TestWorkerDisconnectFailsInflightBuilds(t *testing.T) {
	h := newHarness(t)
	worker, jobs := connectWorker(t, h, types.ArchX64)
	client := h.dial()

	var res rpc.BuildRes
	if err := client.Call(context.Background(), rpc.MethodBuild, rpc.BuildReq{
		Arch: types.ArchX64, SourceURL: "https://example.org/a.tar", RecipePath: "recipe.json",
	}, &res); err != nil {
		t.Fatalf("waiter.build: %v", err)
	}
	<-jobs

	worker.Close()

	waitFor(t, "builder-lost failure", func() bool {
		s := buildStatus(t, client, res.CorrelationId)
		return s.Status == types.BuildFailed && s.Cause == "builder-lost"
	})

	if n := len(h.broker.Workers()); n != 0 {
		t.Fatalf("lost worker still registered (%d)", n)
	}

	// the build is known but collected nothing, so artifact lookups
	// answer with an empty URI instead of an error
	var art rpc.ArtifactRes
	if err := client.Call(context.Background(), rpc.MethodArtifact, rpc.ArtifactReq{
		Id: res.CorrelationId, Type: types.ArtifactLog,
	}, &art); err != nil {
		t.Fatalf("waiter.artifact after builder-lost: %v", err)
	}
	if art.URI != "" {
		t.Fatalf("artifact URI = %q, want empty", art.URI)
	}
}

func TestPickPrefersSmallestQueue(t *testing.T) {
	h := newHarness(t)

	busy, _ := connectWorker(t, h, types.ArchX64)
	if err := busy.Event(rpc.EventCookUpdate, rpc.CookUpdateEvent{QueueSize: 5}); err != nil {
		t.Fatalf("cook.update: %v", err)
	}
	waitFor(t, "queue size update", func() bool {
		for _, w := range h.broker.Workers() {
			if w.QueueSize == 5 {
				return true
			}
		}
		return false
	})

	_, idleJobs := connectWorker(t, h, types.ArchX64)

	client := h.dial()
	var res rpc.BuildRes
	if err := client.Call(context.Background(), rpc.MethodBuild, rpc.BuildReq{
		Arch: types.ArchX64, SourceURL: "https://example.org/a.tar", RecipePath: "recipe.json",
	}, &res); err != nil {
		t.Fatalf("waiter.build: %v", err)
	}

	select {
	case <-idleJobs:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not go to the idle worker")
	}
}
