/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package types

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{NewError(ErrNotFound, "no such pack"), ErrNotFound},
		{WrapError(ErrSpawnFailed, io.EOF, "child"), ErrSpawnFailed},
		{fmt.Errorf("outer: %w", NewError(ErrReadOnly, "sealed")), ErrReadOnly},
		{io.EOF, ErrInternal},
	}
	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestIsKind(t *testing.T) {
	err := WrapError(ErrPermissionDenied, io.ErrClosedPipe, "policy load")
	if !IsKind(err, ErrPermissionDenied) {
		t.Fatalf("IsKind missed the wrapped kind")
	}
	if IsKind(err, ErrNotFound) {
		t.Fatalf("IsKind matched the wrong kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := WrapError(ErrInternal, cause, "decoding manifest")
	if !errors.Is(err, cause) {
		t.Fatalf("wrapped cause lost")
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(ErrRootfsInvalid, "missing /bin/sh in %s", "/store/base")
	want := "rootfs-invalid: missing /bin/sh in /store/base"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
