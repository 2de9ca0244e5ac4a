package types

import "time"

// ContainerState tracks the container lifecycle. The first Spawn takes a
// container from created to running; Destroy moves any non-dead container
// through dying to dead. A fatal error during creation goes straight to
// dead.
type ContainerState int

const (
	ContainerCreating ContainerState = iota
	ContainerCreated
	ContainerRunning
	ContainerDying
	ContainerDead
)

func (s ContainerState) String() string {
	switch s {
	case ContainerCreating:
		return "creating"
	case ContainerCreated:
		return "created"
	case ContainerRunning:
		return "running"
	case ContainerDying:
		return "dying"
	case ContainerDead:
		return "dead"
	}
	return "unknown"
}

// SecurityLevel coarsens the policy defaults applied to a container.
type SecurityLevel int

const (
	SecurityDefault SecurityLevel = iota
	SecurityRestricted
	SecurityStrict
)

func (l SecurityLevel) String() string {
	switch l {
	case SecurityRestricted:
		return "restricted"
	case SecurityStrict:
		return "strict"
	}
	return "default"
}

// Container is the engine-side record of an isolated execution
// environment. Back-references from the layer context and the policy are
// by Id, never by ownership; the container is the single owner of both
// handles.
type Container struct {
	// Id is a short identifier, unique per host while the container is
	// alive.
	Id string

	// RootFs is the composed rootfs path the container pivoted into.
	RootFs string

	// CgroupId is the kernel cgroup identity used as the policy key. It
	// is stable for the container's lifetime.
	CgroupId uint64

	// Pid is the pid of the container's init process on the host.
	Pid int

	// State is the lifecycle state, guarded by the engine's per-container
	// lock.
	State ContainerState

	// Level is the security level the policy defaults were derived from.
	Level SecurityLevel

	// Degraded is set when policy enforcement fell back to a weaker
	// mechanism (seccomp without filesystem rules) or individual rules
	// were dropped.
	Degraded bool

	// CreateTimestamp is the time the container was created.
	CreateTimestamp time.Time
}

// CreateOptions carries everything the engine needs to create a container.
type CreateOptions struct {
	// Id is the requested container identifier. When empty the engine
	// assigns one.
	Id string

	// Layers describe the rootfs composition, in mount order.
	Layers []Layer

	// Hostname inside the UTS namespace. Defaults to the container id.
	Hostname string

	// Capabilities to retain after the pivot, as a mask of CAP_* bits.
	Capabilities uint64

	// Level selects the policy defaults.
	Level SecurityLevel

	// Policy is the declarative filesystem and network policy loaded for
	// the container's cgroup.
	Policy Policy

	// KeepOnFailure leaves scratch directories behind when creation
	// fails, for debugging.
	KeepOnFailure bool
}

// SpawnFlags modify Spawn behaviour.
type SpawnFlags uint32

const (
	// SpawnWaitExit blocks Spawn until the child exits and surfaces its
	// exit code.
	SpawnWaitExit SpawnFlags = 1 << iota
)
