/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

var allTypes = []types.TransactionType{
	types.TransactionInstall,
	types.TransactionUninstall,
	types.TransactionUpdate,
	types.TransactionShutdownSweep,
}

// Every edge of every state set must land either on a terminal state or
// on another state of the same set, otherwise the runner would stall.
func TestStateSetsAreClosed(t *testing.T) {
	for _, tt := range allTypes {
		set := stateSetFor(tt)
		if len(set) == 0 {
			t.Fatalf("%s: empty state set", tt)
		}
		for _, st := range set {
			if st.handler == nil {
				t.Errorf("%s/%s: nil handler", tt, st.state)
			}
			for _, next := range []types.State{st.onOK, st.onFail} {
				if terminal(next) {
					continue
				}
				if _, ok := stepFor(tt, next); !ok {
					t.Errorf("%s/%s: edge to %s leaves the set", tt, st.state, next)
				}
			}
		}
	}
}

func TestStateSetsHaveNoDuplicates(t *testing.T) {
	for _, tt := range allTypes {
		seen := map[types.State]bool{}
		for _, st := range stateSetFor(tt) {
			if seen[st.state] {
				t.Errorf("%s: state %s appears twice", tt, st.state)
			}
			seen[st.state] = true
		}
	}
}

func TestFirstState(t *testing.T) {
	tests := []struct {
		typ  types.TransactionType
		want types.State
	}{
		{types.TransactionInstall, types.StateVerify},
		{types.TransactionUninstall, types.StateVerify},
		{types.TransactionUpdate, types.StateVerify},
		{types.TransactionShutdownSweep, types.StateStopServicesAll},
	}
	for _, tc := range tests {
		if got := firstState(tc.typ); got != tc.want {
			t.Errorf("firstState(%s) = %s, want %s", tc.typ, got, tc.want)
		}
	}
}

// The install unwind chain must reach failed from any forward state, so
// a failure mid-install always rolls everything back.
func TestInstallUnwindReachesFailed(t *testing.T) {
	for _, st := range installSet {
		state := st.onFail
		for hops := 0; !terminal(state); hops++ {
			if hops > len(installSet) {
				t.Fatalf("unwind from %s loops", st.state)
			}
			next, ok := stepFor(types.TransactionInstall, state)
			if !ok {
				t.Fatalf("unwind from %s stalls at %s", st.state, state)
			}
			state = next.onFail
		}
		if state != types.StateFailed {
			t.Errorf("%s: unwind ends in %s, want %s", st.state, state, types.StateFailed)
		}
	}
}

// Sweep steps never fail the transaction: both edges always advance, so
// one broken application cannot block shutdown of the others.
func TestSweepAlwaysAdvances(t *testing.T) {
	for i, st := range shutdownSweepSet {
		if st.onOK != st.onFail {
			t.Errorf("%s: onOK %s != onFail %s", st.state, st.onOK, st.onFail)
		}
		if i == len(shutdownSweepSet)-1 && st.onOK != types.StateDone {
			t.Errorf("sweep ends in %s, want %s", st.onOK, types.StateDone)
		}
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		state types.State
		want  bool
	}{
		{types.StateCommitted, true},
		{types.StateFailed, true},
		{types.StateDone, true},
		{types.StateVerify, false},
		{types.StateUnload, false},
		{types.StateUnloadAll, false},
	}
	for _, tc := range tests {
		if got := terminal(tc.state); got != tc.want {
			t.Errorf("terminal(%s) = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestMapState(t *testing.T) {
	tests := []struct {
		typ   types.TransactionType
		state types.State
		want  types.ProtocolState
	}{
		{types.TransactionInstall, types.StateVerify, types.ProtocolPreparing},
		{types.TransactionInstall, types.StateDownload, types.ProtocolFetching},
		{types.TransactionInstall, types.StateDownloadRetry, types.ProtocolFetching},
		{types.TransactionInstall, types.StateMount, types.ProtocolApplying},
		{types.TransactionInstall, types.StateUnmount, types.ProtocolRollingBack},
		{types.TransactionUninstall, types.StateUnmount, types.ProtocolApplying},
		{types.TransactionUpdate, types.StateUnmount, types.ProtocolApplying},
		{types.TransactionInstall, types.StateCommitted, types.ProtocolCommitted},
		{types.TransactionShutdownSweep, types.StateDone, types.ProtocolCommitted},
		{types.TransactionInstall, types.StateFailed, types.ProtocolFailed},
	}
	for _, tc := range tests {
		if got := MapState(tc.typ, tc.state); got != tc.want {
			t.Errorf("MapState(%s, %s) = %s, want %s", tc.typ, tc.state, got, tc.want)
		}
	}
}
