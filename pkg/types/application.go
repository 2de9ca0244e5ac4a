package types

import (
	"fmt"
	"time"
)

// CommandKind distinguishes plain executables from daemons that served
// starts and stops for the package.
type CommandKind int

const (
	CommandExecutable CommandKind = iota
	CommandDaemon
)

func (k CommandKind) String() string {
	if k == CommandDaemon {
		return "daemon"
	}
	return "executable"
}

// Command is one entry point a package exports. Path is relative to the
// package's mounted revision directory.
type Command struct {
	Name      string      `json:"name"`
	Kind      CommandKind `json:"kind"`
	Path      string      `json:"path"`
	Arguments []string    `json:"arguments,omitempty"`
}

func (c Command) String() string {
	return fmt.Sprintf("%s (%s) %s", c.Name, c.Kind, c.Path)
}

// Application is the installed-package view persisted by served in the
// applications document. Runtime fields (mount and container handles) are
// rebuilt on demand and never persisted.
type Application struct {
	// Publisher and Package form the "publisher/package" name; splitting
	// the name yields exactly these two components.
	Publisher string `json:"publisher"`
	Package   string `json:"package"`

	// Revision of the installed pack.
	Revision int `json:"revision"`

	// Commands exported by the package.
	Commands []Command `json:"commands,omitempty"`

	// InstallTimestamp is the time the install transaction committed.
	InstallTimestamp time.Time `json:"install_timestamp"`

	// Runtime handles, rebuilt after restart. Not persisted.
	MountPath    string   `json:"-"`
	ContainerId  string   `json:"-"`
	WrapperPaths []string `json:"-"`
}

// Name returns the canonical "publisher/package" name.
func (a Application) Name() string {
	return a.Publisher + "/" + a.Package
}
