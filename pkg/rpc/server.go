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

	"github.com/mirkobrombin/chef/pkg/logger"
	"github.com/mirkobrombin/chef/pkg/types"
)

// Session is one accepted connection. Handlers can push events back to
// the peer through it; writes are serialized.
type Session struct {
	conn net.Conn

	writeMu sync.Mutex
	enc     *json.Encoder

	mu     sync.Mutex
	values map[string]interface{}
}

// Event pushes an event to the session's peer.
func (s *Session) Event(method string, body interface{}) error {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return types.WrapError(types.ErrInternal, err, "encoding %s event", method)
		}
		raw = b
	}
	return s.send(&Envelope{Type: TypeEvent, Method: method, Body: raw})
}

// Set attaches session-scoped state, e.g. the worker identity a cook
// registered with.
func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	if s.values == nil {
		s.values = make(map[string]interface{})
	}
	s.values[key] = value
	s.mu.Unlock()
}

// Value reads session-scoped state back.
func (s *Session) Value(key string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

// RemoteAddr identifies the peer for logging.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *Session) send(env *Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.Encode(env)
}

// Handler serves one call. The returned value is marshalled into the
// reply body; errors are mapped onto the wire status by kind.
type Handler func(ctx context.Context, sess *Session, body json.RawMessage) (interface{}, error)

// EventFunc consumes one event from a peer.
type EventFunc func(sess *Session, body json.RawMessage)

// Server accepts connections and dispatches calls against a method
// table. Each call runs on its own goroutine so a slow handler does not
// stall the session.
type Server struct {
	mu           sync.Mutex
	methods      map[string]Handler
	events       map[string]EventFunc
	onConnect    func(sess *Session)
	onDisconnect func(sess *Session)
}

func NewServer() *Server {
	return &Server{
		methods: make(map[string]Handler),
		events:  make(map[string]EventFunc),
	}
}

// Handle registers a call handler.
func (s *Server) Handle(method string, fn Handler) {
	s.mu.Lock()
	s.methods[method] = fn
	s.mu.Unlock()
}

// HandleEvent registers an event consumer.
func (s *Server) HandleEvent(method string, fn EventFunc) {
	s.mu.Lock()
	s.events[method] = fn
	s.mu.Unlock()
}

// OnConnect registers a callback for accepted sessions.
func (s *Server) OnConnect(fn func(sess *Session)) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// OnDisconnect registers a callback for closed sessions; the broker
// uses it to fail in-flight builds of a lost cook.
func (s *Server) OnDisconnect(fn func(sess *Session)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// Serve accepts until the listener closes or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		raw, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, raw)
	}
}

func (s *Server) serveConn(ctx context.Context, raw net.Conn) {
	sess := &Session{conn: raw, enc: json.NewEncoder(raw)}

	s.mu.Lock()
	onConnect := s.onConnect
	onDisconnect := s.onDisconnect
	s.mu.Unlock()

	if onConnect != nil {
		onConnect(sess)
	}
	defer func() {
		_ = raw.Close()
		if onDisconnect != nil {
			onDisconnect(sess)
		}
	}()

	dec := json.NewDecoder(raw)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			return
		}

		switch env.Type {
		case TypeCall:
			go s.dispatch(ctx, sess, env)
		case TypeEvent:
			s.mu.Lock()
			fn := s.events[env.Method]
			s.mu.Unlock()
			if fn != nil {
				fn(sess, env.Body)
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, sess *Session, env Envelope) {
	reply := &Envelope{Type: TypeReply, Seq: env.Seq, Status: StatusOk}

	s.mu.Lock()
	fn, ok := s.methods[env.Method]
	s.mu.Unlock()

	if !ok {
		reply.Status = StatusNotFound
		reply.Error = "unknown method " + env.Method
	} else {
		res, err := fn(ctx, sess, env.Body)
		if err != nil {
			reply.Status = StatusOf(err)
			reply.Error = err.Error()
		} else if res != nil {
			body, merr := json.Marshal(res)
			if merr != nil {
				reply.Status = StatusInternal
				reply.Error = merr.Error()
			} else {
				reply.Body = body
			}
		}
	}

	if err := sess.send(reply); err != nil {
		logger.Debugf("rpc: dropping reply for %s: %v", env.Method, err)
	}
}
