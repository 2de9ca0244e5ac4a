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
	"sync/atomic"

	"github.com/mirkobrombin/chef/pkg/types"
)

// EventHandler receives unsolicited events from the peer. It runs on
// the demux goroutine; handlers that block should hand off.
type EventHandler func(method string, body json.RawMessage)

// Conn is the client side of a chef protocol connection. Calls may be
// issued from any goroutine; replies are demultiplexed by sequence
// number, events go to the registered handler.
type Conn struct {
	conn net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	seq uint64

	mu      sync.Mutex
	pending map[uint64]chan *Envelope
	onEvent EventHandler
	readErr error
	closed  bool
}

// Dial connects to a chef daemon and starts the demux loop.
func Dial(network, addr string) (*Conn, error) {
	raw, err := net.Dial(network, addr)
	if err != nil {
		return nil, types.WrapError(types.ErrNotRunning, err, "dialing %s", addr)
	}
	return NewConn(raw), nil
}

// NewConn wraps an established connection.
func NewConn(raw net.Conn) *Conn {
	c := &Conn{
		conn:    raw,
		enc:     json.NewEncoder(raw),
		pending: make(map[uint64]chan *Envelope),
	}
	go c.demux()
	return c
}

// OnEvent registers the event handler. Must be called before the peer
// starts emitting events the caller cares about.
func (c *Conn) OnEvent(fn EventHandler) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

func (c *Conn) demux() {
	dec := json.NewDecoder(c.conn)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			c.fail(err)
			return
		}

		switch env.Type {
		case TypeReply:
			c.mu.Lock()
			ch, ok := c.pending[env.Seq]
			if ok {
				delete(c.pending, env.Seq)
			}
			c.mu.Unlock()
			if ok {
				e := env
				ch <- &e
			}
		case TypeEvent:
			c.mu.Lock()
			fn := c.onEvent
			c.mu.Unlock()
			if fn != nil {
				fn(env.Method, env.Body)
			}
		}
	}
}

// fail poisons the connection: every pending and future call returns
// not-running.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		c.readErr = err
	}
	for seq, ch := range c.pending {
		delete(c.pending, seq)
		close(ch)
	}
}

func (c *Conn) send(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.enc.Encode(env)
}

// Call invokes method on the peer and decodes the reply body into res
// when res is non-nil. Cancellation abandons the wait; the reply is
// discarded by the demux loop when it eventually lands.
func (c *Conn) Call(ctx context.Context, method string, req, res interface{}) error {
	var body json.RawMessage
	if req != nil {
		raw, err := json.Marshal(req)
		if err != nil {
			return types.WrapError(types.ErrInternal, err, "encoding %s request", method)
		}
		body = raw
	}

	seq := atomic.AddUint64(&c.seq, 1)
	ch := make(chan *Envelope, 1)

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return types.WrapError(types.ErrNotRunning, err, "connection lost")
	}
	c.pending[seq] = ch
	c.mu.Unlock()

	if err := c.send(&Envelope{Type: TypeCall, Seq: seq, Method: method, Body: body}); err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return types.WrapError(types.ErrNotRunning, err, "sending %s", method)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return types.WrapError(types.ErrCancelled, ctx.Err(), "%s cancelled", method)
	case reply, ok := <-ch:
		if !ok {
			return types.NewError(types.ErrNotRunning, "connection lost waiting for %s", method)
		}
		if reply.Status != StatusOk {
			return StatusError(reply.Status, reply.Error)
		}
		if res != nil && len(reply.Body) > 0 {
			if err := json.Unmarshal(reply.Body, res); err != nil {
				return types.WrapError(types.ErrInternal, err, "decoding %s reply", method)
			}
		}
		return nil
	}
}

// Event sends a fire-and-forget event to the peer.
func (c *Conn) Event(method string, body interface{}) error {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return types.WrapError(types.ErrInternal, err, "encoding %s event", method)
		}
		raw = b
	}
	if err := c.send(&Envelope{Type: TypeEvent, Method: method, Body: raw}); err != nil {
		return types.WrapError(types.ErrNotRunning, err, "sending %s event", method)
	}
	return nil
}

// Err reports the demux failure if the connection died.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
