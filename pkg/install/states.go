/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"context"

	"github.com/mirkobrombin/chef/pkg/types"
)

// A step binds one state to its handler and the states an OK or a FAIL
// outcome moves to. The tables below are the whole control flow of the
// runner: handlers never pick their successor themselves.
type step struct {
	state   types.State
	onOK    types.State
	onFail  types.State
	handler func(ctx context.Context, r *Runner, t *types.Transaction) error
}

// Install: the fail edges of the forward states enter the unwind chain
// (remove-wrappers, unmount, unload) which always ends in failed.
var installSet = []step{
	{types.StateVerify, types.StateDownload, types.StateFailed, handleVerify},
	{types.StateDownload, types.StateLoad, types.StateDownloadRetry, handleDownload},
	{types.StateDownloadRetry, types.StateDownload, types.StateFailed, handleDownloadRetry},
	{types.StateLoad, types.StateMount, types.StateUnload, handleLoad},
	{types.StateMount, types.StateGenerateWrappers, types.StateUnmount, handleMount},
	{types.StateGenerateWrappers, types.StateStartServices, types.StateRemoveWrappers, handleGenerateWrappers},
	{types.StateStartServices, types.StateCommitted, types.StateRemoveWrappers, handleStartServices},

	{types.StateRemoveWrappers, types.StateUnmount, types.StateUnmount, handleRemoveWrappers},
	{types.StateUnmount, types.StateUnload, types.StateUnload, handleUnmount},
	{types.StateUnload, types.StateFailed, types.StateFailed, handleUnload},
}

var uninstallSet = []step{
	{types.StateVerify, types.StateStopServices, types.StateFailed, handleVerifyInstalled},
	{types.StateStopServices, types.StateRemoveWrappers, types.StateFailed, handleStopServices},
	{types.StateRemoveWrappers, types.StateUnmount, types.StateFailed, handleRemoveWrappers},
	{types.StateUnmount, types.StateUnload, types.StateFailed, handleUnmount},
	{types.StateUnload, types.StateUninstall, types.StateFailed, handleUnload},
	{types.StateUninstall, types.StateCommitted, types.StateFailed, handleUninstall},
}

var updateSet = []step{
	{types.StateVerify, types.StateDownload, types.StateFailed, handleVerifyInstalled},
	{types.StateDownload, types.StateStopServices, types.StateDownloadRetry, handleDownload},
	{types.StateDownloadRetry, types.StateDownload, types.StateFailed, handleDownloadRetry},
	{types.StateStopServices, types.StateUnmount, types.StateFailed, handleStopServices},
	{types.StateUnmount, types.StateLoad, types.StateFailed, handleUnmount},
	{types.StateLoad, types.StateMount, types.StateFailed, handleLoad},
	{types.StateMount, types.StateGenerateWrappers, types.StateFailed, handleMount},
	{types.StateGenerateWrappers, types.StateStartServices, types.StateFailed, handleGenerateWrappers},
	{types.StateStartServices, types.StateCommitted, types.StateFailed, handleStartServices},
}

var shutdownSweepSet = []step{
	{types.StateStopServicesAll, types.StateRemoveWrappersAll, types.StateRemoveWrappersAll, handleStopServicesAll},
	{types.StateRemoveWrappersAll, types.StateUnmountAll, types.StateUnmountAll, handleRemoveWrappersAll},
	{types.StateUnmountAll, types.StateUnloadAll, types.StateUnloadAll, handleUnmountAll},
	{types.StateUnloadAll, types.StateDone, types.StateDone, handleUnloadAll},
}

func stateSetFor(t types.TransactionType) []step {
	switch t {
	case types.TransactionInstall:
		return installSet
	case types.TransactionUninstall:
		return uninstallSet
	case types.TransactionUpdate:
		return updateSet
	case types.TransactionShutdownSweep:
		return shutdownSweepSet
	}
	return nil
}

// firstState is where a freshly created transaction of this type
// starts.
func firstState(t types.TransactionType) types.State {
	set := stateSetFor(t)
	if len(set) == 0 {
		return types.StateFailed
	}
	return set[0].state
}

func stepFor(t types.TransactionType, s types.State) (step, bool) {
	for _, st := range stateSetFor(t) {
		if st.state == s {
			return st, true
		}
	}
	return step{}, false
}

// terminal reports whether a state ends the transaction.
func terminal(s types.State) bool {
	switch s {
	case types.StateCommitted, types.StateFailed, types.StateDone:
		return true
	}
	return false
}

// MapState coarsens internal states into the protocol view clients
// see. The transaction type disambiguates the teardown states, which
// are forward progress for uninstall but rollback for install.
func MapState(t types.TransactionType, s types.State) types.ProtocolState {
	switch s {
	case types.StateVerify:
		return types.ProtocolPreparing
	case types.StateDownload, types.StateDownloadRetry:
		return types.ProtocolFetching
	case types.StateRemoveWrappers, types.StateUnmount, types.StateUnload:
		if t == types.TransactionInstall {
			return types.ProtocolRollingBack
		}
		return types.ProtocolApplying
	case types.StateCommitted, types.StateDone:
		return types.ProtocolCommitted
	case types.StateFailed:
		return types.ProtocolFailed
	}
	return types.ProtocolApplying
}
