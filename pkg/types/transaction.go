package types

import "time"

// TransactionType selects the state set a transaction advances through.
type TransactionType int

const (
	TransactionInstall TransactionType = iota
	TransactionUninstall
	TransactionUpdate
	TransactionShutdownSweep
)

func (t TransactionType) String() string {
	switch t {
	case TransactionInstall:
		return "install"
	case TransactionUninstall:
		return "uninstall"
	case TransactionUpdate:
		return "update"
	case TransactionShutdownSweep:
		return "shutdown-sweep"
	}
	return "unknown"
}

// State is one step of a transaction's state set.
type State string

const (
	StateVerify           State = "verify"
	StateDownload         State = "download"
	StateDownloadRetry    State = "download-retry"
	StateLoad             State = "load"
	StateMount            State = "mount"
	StateGenerateWrappers State = "generate-wrappers"
	StateStartServices    State = "start-services"
	StateStopServices     State = "stop-services"
	StateRemoveWrappers   State = "remove-wrappers"
	StateUnmount          State = "unmount"
	StateUnload           State = "unload"
	StateUninstall        State = "uninstall"
	StateCommitted        State = "committed"
	StateFailed           State = "failed"

	StateStopServicesAll   State = "stop-services-all"
	StateRemoveWrappersAll State = "remove-wrappers-all"
	StateUnmountAll        State = "unmount-all"
	StateUnloadAll         State = "unload-all"
	StateDone              State = "done"
)

// ProtocolState is the coarse view of a transaction state surfaced to
// connected clients.
type ProtocolState string

const (
	ProtocolPreparing   ProtocolState = "preparing"
	ProtocolFetching    ProtocolState = "fetching"
	ProtocolApplying    ProtocolState = "applying"
	ProtocolCommitted   ProtocolState = "committed"
	ProtocolFailed      ProtocolState = "failed"
	ProtocolRollingBack ProtocolState = "rolling-back"
)

// LogLevel for transaction log entries.
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarning
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogWarning:
		return "warning"
	case LogError:
		return "error"
	}
	return "info"
}

// LogEntry is one structured line of a transaction's log stream.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
}

// TransactionFailureId is the reserved sentinel returned when a
// transaction could not be allocated. Real ids start at 1 and are never
// reused.
const TransactionFailureId uint64 = 0

// Transaction is a persisted install/uninstall/update/shutdown workflow.
// Non-ephemeral transactions survive process restarts with their state
// intact; a transaction in a terminal state emits no further events.
type Transaction struct {
	Id          uint64          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"`
	State       State           `json:"state"`
	Ephemeral   bool            `json:"ephemeral"`
	Created     time.Time       `json:"created"`

	// Package is the "publisher/package" name the transaction acts on.
	Package string `json:"package"`

	// Path is the pack archive the transaction installs from, local or
	// remote depending on how it was created.
	Path string `json:"path,omitempty"`

	// Revision requested; 0 means latest.
	Revision int `json:"revision,omitempty"`

	// Retries counts download attempts consumed so far.
	Retries int `json:"retries,omitempty"`
}
