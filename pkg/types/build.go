package types

import "encoding/json"

// Architecture is the wire enum of build architectures.
type Architecture int

const (
	ArchUnknown Architecture = iota
	ArchX86
	ArchX64
	ArchArmhf
	ArchArm64
	ArchRiscv64
)

var archNames = map[Architecture]string{
	ArchX86:     "x86",
	ArchX64:     "x64",
	ArchArmhf:   "armhf",
	ArchArm64:   "arm64",
	ArchRiscv64: "riscv64",
}

func (a Architecture) String() string {
	if n, ok := archNames[a]; ok {
		return n
	}
	return "unknown"
}

// ParseArchitecture maps a wire name to its Architecture; unknown names
// yield ArchUnknown.
func ParseArchitecture(name string) Architecture {
	for a, n := range archNames {
		if n == name {
			return a
		}
	}
	return ArchUnknown
}

// The wire carries architecture names, not ordinals.
func (a Architecture) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Architecture) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*a = ParseArchitecture(name)
	return nil
}

// Mask returns the architecture's bit in a builder's capability mask.
func (a Architecture) Mask() uint32 {
	if a == ArchUnknown {
		return 0
	}
	return 1 << uint32(a-1)
}

// BuildStatus progresses monotonically except for the terminal step,
// which is either done or failed.
type BuildStatus int

const (
	BuildUnknown BuildStatus = iota
	BuildQueued
	BuildSourcing
	BuildBuilding
	BuildPacking
	BuildDone
	BuildFailed
)

func (s BuildStatus) String() string {
	switch s {
	case BuildQueued:
		return "queued"
	case BuildSourcing:
		return "sourcing"
	case BuildBuilding:
		return "building"
	case BuildPacking:
		return "packing"
	case BuildDone:
		return "done"
	case BuildFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status admits no successor.
func (s BuildStatus) Terminal() bool {
	return s == BuildDone || s == BuildFailed
}

// CanAdvanceTo enforces monotonic progression: a status may only move
// forward, except that failed is reachable from any non-terminal status.
func (s BuildStatus) CanAdvanceTo(next BuildStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == BuildFailed {
		return true
	}
	return next > s
}

func (s BuildStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *BuildStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for candidate := BuildUnknown; candidate <= BuildFailed; candidate++ {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	*s = BuildUnknown
	return nil
}

// ArtifactType identifies build outputs.
type ArtifactType int

const (
	ArtifactLog ArtifactType = iota
	ArtifactPackage
)

func (t ArtifactType) String() string {
	if t == ArtifactPackage {
		return "package"
	}
	return "log"
}

func (t ArtifactType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ArtifactType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if name == "package" {
		*t = ArtifactPackage
	} else {
		*t = ArtifactLog
	}
	return nil
}

// BuildRequest tracks one build job end-to-end. The correlation Id is
// assigned by the broker and identifies the job to client, broker and
// builder alike.
type BuildRequest struct {
	Id         string       `json:"id"`
	Arch       Architecture `json:"arch"`
	Platform   string       `json:"platform"`
	SourceURL  string       `json:"source_url"`
	RecipePath string       `json:"recipe_path"`
	Status     BuildStatus  `json:"status"`

	// FailureCause is set when Status is failed (for example
	// "builder-lost").
	FailureCause string `json:"failure_cause,omitempty"`

	// Artifact URIs, filled as the builder reports them.
	LogURI     string `json:"log_uri,omitempty"`
	PackageURI string `json:"package_uri,omitempty"`
}

// CookWorker is the broker-side descriptor of a connected builder. Soft
// state, lost when the builder disconnects.
type CookWorker struct {
	// ArchMask is the set of architectures the builder serves.
	ArchMask uint32

	// Ready is set once the builder has reported cook.ready.
	Ready bool

	// QueueSize is the builder's last reported in-flight queue size.
	QueueSize int
}

// Serves reports whether the worker serves the given architecture.
func (w CookWorker) Serves(arch Architecture) bool {
	return w.ArchMask&arch.Mask() != 0
}
