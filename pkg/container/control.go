package container

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/mirkobrombin/chef/pkg/types"
)

// The control protocol runs over the socketpair established during the
// creation handshake: one JSON object per request, answered in order by
// the in-container init.
const (
	ctrlOpSpawn    = "spawn"
	ctrlOpKill     = "kill"
	ctrlOpShutdown = "shutdown"
)

type ctrlRequest struct {
	Op   string   `json:"op"`
	Argv []string `json:"argv,omitempty"`
	Env  []string `json:"env,omitempty"`
	Wait bool     `json:"wait,omitempty"`
	Pid  int      `json:"pid,omitempty"`
}

type ctrlResponse struct {
	Pid  int    `json:"pid,omitempty"`
	Exit int    `json:"exit,omitempty"`
	Err  string `json:"err,omitempty"`
}

// controlConn serializes request/response exchanges with the container
// init. Requests are strictly ordered; cancellation interrupts the read
// by poisoning the deadline.
type controlConn struct {
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func newControlConn(conn net.Conn) *controlConn {
	return &controlConn{
		conn: conn,
		enc:  json.NewEncoder(conn),
		dec:  json.NewDecoder(conn),
	}
}

func (cc *controlConn) roundTrip(ctx context.Context, req ctrlRequest) (resp ctrlResponse, err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = cc.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	if err = cc.enc.Encode(&req); err != nil {
		return resp, types.WrapError(types.ErrNotRunning, err, "container control connection lost")
	}

	if err = cc.dec.Decode(&resp); err != nil {
		if ctx.Err() != nil {
			_ = cc.conn.SetReadDeadline(time.Time{})
			return resp, types.WrapError(types.ErrCancelled, ctx.Err(), "control wait cancelled")
		}
		return resp, types.WrapError(types.ErrNotRunning, err, "container control connection lost")
	}
	return resp, nil
}

func (cc *controlConn) close() error {
	return cc.conn.Close()
}
