/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mirkobrombin/chef/pkg/types"
)

// profileShim is installed once at /etc/profile.d/chef.sh so login
// shells pick up the wrapper directory.
const profileShim = `export CHEF_HOME=/chef
export PATH="$CHEF_HOME/bin:$PATH"
`

// GenerateWrappers writes one shell wrapper per exported command into
// binDir and refreshes the profile shim. Wrappers exec into the package
// container through the container daemon, so the host never runs
// package code directly. Regenerating an existing wrapper is a plain
// overwrite.
func GenerateWrappers(app *types.Application, binDir, profilePath string) (paths []string, err error) {
	if err = os.MkdirAll(binDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating wrapper dir: %w", err)
	}

	for _, cmd := range app.Commands {
		if cmd.Kind != types.CommandExecutable {
			continue
		}
		wrapper := filepath.Join(binDir, cmd.Name)
		body := wrapperBody(app, cmd)
		if err = os.WriteFile(wrapper, []byte(body), 0o755); err != nil {
			return paths, fmt.Errorf("writing wrapper %s: %w", cmd.Name, err)
		}
		paths = append(paths, wrapper)
	}

	if profilePath != "" {
		if err = os.MkdirAll(filepath.Dir(profilePath), 0o755); err != nil {
			return paths, fmt.Errorf("creating profile dir: %w", err)
		}
		if err = os.WriteFile(profilePath, []byte(profileShim), 0o644); err != nil {
			return paths, fmt.Errorf("writing profile shim: %w", err)
		}
	}
	return paths, nil
}

func wrapperBody(app *types.Application, cmd types.Command) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "# generated by chef for %s\n", app.Name())
	fmt.Fprintf(&b, "exec chef serve run %q %q", app.Name(), cmd.Name)
	b.WriteString(" \"$@\"\n")
	return b.String()
}

// RemoveWrappers deletes the application's wrappers; missing files are
// fine, the teardown may run more than once.
func RemoveWrappers(app *types.Application, binDir string) error {
	for _, cmd := range app.Commands {
		if cmd.Kind != types.CommandExecutable {
			continue
		}
		wrapper := filepath.Join(binDir, cmd.Name)
		if err := os.Remove(wrapper); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing wrapper %s: %w", cmd.Name, err)
		}
	}
	return nil
}
