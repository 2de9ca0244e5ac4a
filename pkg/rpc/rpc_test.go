/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package rpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mirkobrombin/chef/pkg/types"
)

// pipeListener feeds in-memory connections to Server.Serve.
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

// startServer runs srv on an in-memory listener and returns a dialer
// for client connections.
func startServer(t *testing.T, srv *Server) func() *Conn {
	t.Helper()

	l := newPipeListener()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		l.Close()
	})

	return func() *Conn {
		clientEnd, serverEnd := net.Pipe()
		l.conns <- serverEnd
		c := NewConn(clientEnd)
		t.Cleanup(func() { c.Close() })
		return c
	}
}

type echoReq struct {
	Text string `json:"text"`
}

func TestCallRoundTrip(t *testing.T) {
	srv := NewServer()
	srv.Handle("test.echo", func(ctx context.Context, sess *Session, body json.RawMessage) (interface{}, error) {
		var req echoReq
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, types.WrapError(types.ErrInvalidArgument, err, "echo request")
		}
		return &echoReq{Text: req.Text + " back"}, nil
	})

	conn := startServer(t, srv)()

	var res echoReq
	if err := conn.Call(context.Background(), "test.echo", &echoReq{Text: "hello"}, &res); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Text != "hello back" {
		t.Fatalf("res.Text = %q", res.Text)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	conn := startServer(t, NewServer())()

	err := conn.Call(context.Background(), "test.missing", nil, nil)
	if types.KindOf(err) != types.ErrNotFound {
		t.Fatalf("kind = %s, want %s", types.KindOf(err), types.ErrNotFound)
	}
}

// Error kinds survive the wire: a typed error returned by the handler
// comes back as the same kind on the client.
func TestCallErrorKindTravels(t *testing.T) {
	srv := NewServer()
	srv.Handle("test.fail", func(ctx context.Context, sess *Session, body json.RawMessage) (interface{}, error) {
		return nil, types.NewError(types.ErrAlreadyExists, "container bake-1 exists")
	})

	conn := startServer(t, srv)()

	err := conn.Call(context.Background(), "test.fail", nil, nil)
	if types.KindOf(err) != types.ErrAlreadyExists {
		t.Fatalf("kind = %s, want %s", types.KindOf(err), types.ErrAlreadyExists)
	}
}

func TestCallCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := NewServer()
	srv.Handle("test.slow", func(ctx context.Context, sess *Session, body json.RawMessage) (interface{}, error) {
		<-block
		return nil, nil
	})
	defer close(block)

	conn := startServer(t, srv)()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := conn.Call(ctx, "test.slow", nil, nil)
	if types.KindOf(err) != types.ErrCancelled {
		t.Fatalf("kind = %s, want %s", types.KindOf(err), types.ErrCancelled)
	}
}

func TestServerEventToClient(t *testing.T) {
	srv := NewServer()
	srv.Handle("test.poke", func(ctx context.Context, sess *Session, body json.RawMessage) (interface{}, error) {
		_ = sess.Event("test.poked", &echoReq{Text: "ping"})
		return nil, nil
	})

	conn := startServer(t, srv)()

	got := make(chan string, 1)
	conn.OnEvent(func(method string, body json.RawMessage) {
		var ev echoReq
		_ = json.Unmarshal(body, &ev)
		got <- method + ":" + ev.Text
	})

	if err := conn.Call(context.Background(), "test.poke", nil, nil); err != nil {
		t.Fatalf("Call: %v", err)
	}

	select {
	case v := <-got:
		if v != "test.poked:ping" {
			t.Fatalf("event = %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never arrived")
	}
}

func TestClientEventToServer(t *testing.T) {
	got := make(chan string, 1)
	srv := NewServer()
	srv.HandleEvent("test.note", func(sess *Session, body json.RawMessage) {
		var ev echoReq
		_ = json.Unmarshal(body, &ev)
		got <- ev.Text
	})

	conn := startServer(t, srv)()

	if err := conn.Event("test.note", &echoReq{Text: "fire and forget"}); err != nil {
		t.Fatalf("Event: %v", err)
	}

	select {
	case v := <-got:
		if v != "fire and forget" {
			t.Fatalf("event = %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never arrived")
	}
}

func TestStatusErrorRoundTrip(t *testing.T) {
	kinds := []types.ErrorKind{
		types.ErrInvalidArgument,
		types.ErrNotFound,
		types.ErrAlreadyExists,
		types.ErrPermissionDenied,
		types.ErrResourceExhausted,
		types.ErrNotRunning,
		types.ErrReadOnly,
		types.ErrSpawnFailed,
		types.ErrRootfsInvalid,
		types.ErrPolicyInvalid,
		types.ErrCancelled,
		types.ErrBuilderLost,
		types.ErrUnknownArch,
		types.ErrUnsupported,
		types.ErrInternal,
	}
	for _, kind := range kinds {
		status := StatusOf(types.NewError(kind, "boom"))
		back := StatusError(status, "boom")
		if types.KindOf(back) != kind {
			t.Errorf("kind %s -> status %s -> kind %s", kind, status, types.KindOf(back))
		}
	}
}

func TestConnPoisonedAfterPeerClose(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	conn := NewConn(clientEnd)
	defer conn.Close()

	serverEnd.Close()

	// the demux loop notices asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for conn.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.Err() == nil {
		t.Fatalf("Err() still nil after peer close")
	}

	err := conn.Call(context.Background(), "test.echo", nil, nil)
	if types.KindOf(err) != types.ErrNotRunning {
		t.Fatalf("kind = %s, want %s", types.KindOf(err), types.ErrNotRunning)
	}
}
