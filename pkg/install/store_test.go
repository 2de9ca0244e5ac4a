/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"testing"
	"time"

	"github.com/mirkobrombin/chef/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.NewTransaction(types.Transaction{
		Type:     types.TransactionInstall,
		State:    types.StateVerify,
		Package:  "fabricators/chef",
		Path:     "/tmp/chef.pack",
		Revision: 3,
		Created:  time.Now(),
	})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	if id == types.TransactionFailureId {
		t.Fatalf("NewTransaction returned the failure sentinel")
	}

	got, err := s.GetTransaction(id)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Id != id || got.Type != types.TransactionInstall ||
		got.State != types.StateVerify || got.Package != "fabricators/chef" ||
		got.Path != "/tmp/chef.pack" || got.Revision != 3 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := s.SetState(id, types.StateDownload); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetRetries(id, 2); err != nil {
		t.Fatalf("SetRetries: %v", err)
	}
	got, err = s.GetTransaction(id)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.State != types.StateDownload || got.Retries != 2 {
		t.Fatalf("after updates: state %s retries %d", got.State, got.Retries)
	}
}

func TestStoreIdsAreMonotonic(t *testing.T) {
	s := openTestStore(t)

	var last uint64
	for i := 0; i < 5; i++ {
		id, err := s.NewTransaction(types.Transaction{
			Type: types.TransactionInstall, State: types.StateVerify, Created: time.Now(),
		})
		if err != nil {
			t.Fatalf("NewTransaction: %v", err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than %d", id, last)
		}
		last = id
	}
}

func TestStoreGetTransactionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetTransaction(42)
	if types.KindOf(err) != types.ErrNotFound {
		t.Fatalf("kind = %s, want %s", types.KindOf(err), types.ErrNotFound)
	}
}

// Pending excludes terminal and ephemeral transactions, and pruning
// ephemerals must not give their ids back to the sequence.
func TestStorePendingAndPrune(t *testing.T) {
	s := openTestStore(t)

	mk := func(state types.State, ephemeral bool) uint64 {
		t.Helper()
		id, err := s.NewTransaction(types.Transaction{
			Type: types.TransactionInstall, State: state,
			Ephemeral: ephemeral, Created: time.Now(),
		})
		if err != nil {
			t.Fatalf("NewTransaction: %v", err)
		}
		return id
	}

	pendingId := mk(types.StateMount, false)
	mk(types.StateCommitted, false)
	mk(types.StateFailed, false)
	ephemeralId := mk(types.StateVerify, true)

	pending, err := s.GetPending()
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Id != pendingId {
		t.Fatalf("pending = %+v, want only %d", pending, pendingId)
	}

	if err := s.PruneEphemeral(); err != nil {
		t.Fatalf("PruneEphemeral: %v", err)
	}
	if _, err := s.GetTransaction(ephemeralId); types.KindOf(err) != types.ErrNotFound {
		t.Fatalf("ephemeral survived prune")
	}

	nextId := mk(types.StateVerify, false)
	if nextId <= ephemeralId {
		t.Fatalf("id %d reused after prune (<= %d)", nextId, ephemeralId)
	}
}

func TestStoreLogs(t *testing.T) {
	s := openTestStore(t)

	id, err := s.NewTransaction(types.Transaction{
		Type: types.TransactionInstall, State: types.StateVerify, Created: time.Now(),
	})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}

	entries := []types.LogEntry{
		{Timestamp: time.Now(), Level: types.LogInfo, State: types.StateVerify, Message: "verifying"},
		{Timestamp: time.Now(), Level: types.LogError, State: types.StateDownload, Message: "timeout"},
	}
	for _, e := range entries {
		if err := s.AppendLog(id, e); err != nil {
			t.Fatalf("AppendLog: %v", err)
		}
	}

	got, err := s.GetLogs(id)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i].Level != entries[i].Level || got[i].State != entries[i].State ||
			got[i].Message != entries[i].Message {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}

	other, err := s.GetLogs(id + 1)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("unrelated transaction has %d entries", len(other))
	}
}
