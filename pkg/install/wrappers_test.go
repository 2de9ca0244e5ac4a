package install

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

func TestGenerateWrappers(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	profilePath := filepath.Join(dir, "profile.d", "chef.sh")

	app := &types.Application{
		Publisher: "fabricators",
		Package:   "chef-demo",
		Commands: []types.Command{
			{Name: "demo", Kind: types.CommandExecutable, Path: "bin/demo"},
			{Name: "demod", Kind: types.CommandDaemon, Path: "bin/demod"},
		},
	}

	paths, err := GenerateWrappers(app, binDir, profilePath)
	if err != nil {
		t.Fatalf("GenerateWrappers: %v", err)
	}

	// daemons get no wrapper, they are started by the install runner
	if len(paths) != 1 || filepath.Base(paths[0]) != "demo" {
		t.Fatalf("paths = %v, want only the demo wrapper", paths)
	}

	info, err := os.Stat(paths[0])
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("wrapper is not executable: %v", info.Mode())
	}

	body, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(body), "#!/bin/sh\n") {
		t.Fatalf("wrapper missing shebang: %q", body)
	}
	if !strings.Contains(string(body), `serve run "fabricators/chef-demo" "demo"`) {
		t.Fatalf("wrapper body: %q", body)
	}
	if !strings.Contains(string(body), `"$@"`) {
		t.Fatalf("wrapper does not forward arguments: %q", body)
	}

	shim, err := os.ReadFile(profilePath)
	if err != nil {
		t.Fatalf("profile shim: %v", err)
	}
	if !strings.Contains(string(shim), "CHEF_HOME=/chef") {
		t.Fatalf("profile shim body: %q", shim)
	}
}

func TestRemoveWrappers(t *testing.T) {
	binDir := t.TempDir()
	app := &types.Application{
		Publisher: "fabricators",
		Package:   "chef-demo",
		Commands: []types.Command{
			{Name: "demo", Kind: types.CommandExecutable, Path: "bin/demo"},
		},
	}

	if _, err := GenerateWrappers(app, binDir, ""); err != nil {
		t.Fatalf("GenerateWrappers: %v", err)
	}

	if err := RemoveWrappers(app, binDir); err != nil {
		t.Fatalf("RemoveWrappers: %v", err)
	}
	if _, err := os.Stat(filepath.Join(binDir, "demo")); !os.IsNotExist(err) {
		t.Fatalf("wrapper still present")
	}

	// a second removal pass must stay quiet
	if err := RemoveWrappers(app, binDir); err != nil {
		t.Fatalf("RemoveWrappers twice: %v", err)
	}
}
