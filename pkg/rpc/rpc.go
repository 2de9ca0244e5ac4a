/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

// Package rpc is the wire protocol shared by every chef daemon: JSON
// envelopes over a stream connection, one object per message. Calls are
// correlated by sequence number so a connection can carry concurrent
// requests; events flow in either direction without correlation.
package rpc

import (
	"encoding/json"
	"errors"

	"github.com/mirkobrombin/chef/pkg/types"
)

const (
	TypeCall  = "call"
	TypeReply = "reply"
	TypeEvent = "event"
)

// Status is the protocol-level outcome of a call, mirroring the error
// taxonomy so kinds survive the wire.
type Status string

const (
	StatusOk                Status = "ok"
	StatusInvalidArgument   Status = "invalid-argument"
	StatusNotFound          Status = "not-found"
	StatusAlreadyExists     Status = "already-exists"
	StatusPermissionDenied  Status = "permission-denied"
	StatusResourceExhausted Status = "resource-exhausted"
	StatusNotRunning        Status = "not-running"
	StatusReadOnly          Status = "read-only"
	StatusSpawnFailed       Status = "spawn-failed"
	StatusRootfsInvalid     Status = "rootfs-invalid"
	StatusPolicyInvalid     Status = "policy-invalid"
	StatusCancelled         Status = "cancelled"
	StatusBuilderLost       Status = "builder-lost"
	StatusUnknownArch       Status = "protocol-unknown-arch"
	StatusUnsupported       Status = "unsupported"
	StatusInternal          Status = "internal-error"
)

// Envelope is the single message shape on the wire.
type Envelope struct {
	Type   string          `json:"type"`
	Seq    uint64          `json:"seq,omitempty"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Status Status          `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StatusOf derives the wire status from an error using its kind when it
// carries one.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOk
	}
	var cerr *types.Error
	if errors.As(err, &cerr) {
		return Status(cerr.Kind)
	}
	return StatusInternal
}

// StatusError converts a non-ok reply back into a typed error on the
// client side.
func StatusError(status Status, msg string) error {
	if status == StatusOk {
		return nil
	}
	kind := types.ErrorKind(status)
	switch kind {
	case types.ErrInvalidArgument, types.ErrNotFound, types.ErrAlreadyExists,
		types.ErrPermissionDenied, types.ErrResourceExhausted, types.ErrNotRunning,
		types.ErrReadOnly, types.ErrSpawnFailed, types.ErrRootfsInvalid,
		types.ErrPolicyInvalid, types.ErrCancelled, types.ErrBuilderLost,
		types.ErrUnknownArch, types.ErrUnsupported:
		return types.NewError(kind, "%s", msg)
	default:
		return types.NewError(types.ErrInternal, "%s", msg)
	}
}
