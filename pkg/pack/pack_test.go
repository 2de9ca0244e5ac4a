package pack

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

// writeTree lays out a small package tree: a manifest, a binary and a
// nested data file.
func writeTree(t *testing.T, dir string) Manifest {
	t.Helper()

	manifest := Manifest{
		Publisher: "fabricators",
		Package:   "demo",
		Revision:  2,
		Commands: []types.Command{
			{Name: "demo", Kind: types.CommandExecutable, Path: "bin/demo"},
		},
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "bin"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bin", "demo"), []byte("#!/bin/sh\necho demo\n"), 0o755); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "share", "demo"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "share", "demo", "data.txt"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return manifest
}

func TestPackDirAndReadBack(t *testing.T) {
	srcDir := t.TempDir()
	want := writeTree(t, srcDir)

	packPath := filepath.Join(t.TempDir(), "fabricators-demo.pack")
	if err := PackDir(srcDir, packPath); err != nil {
		t.Fatalf("PackDir: %v", err)
	}

	r, err := OpenTar(packPath)
	if err != nil {
		t.Fatalf("OpenTar: %v", err)
	}
	defer r.Close()

	got, err := ReadManifest(r)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got.Publisher != want.Publisher || got.Package != want.Package || got.Revision != want.Revision {
		t.Fatalf("manifest = %+v, want %+v", got, want)
	}
	if len(got.Commands) != 1 || got.Commands[0].Name != "demo" {
		t.Fatalf("manifest commands = %+v", got.Commands)
	}

	entry, err := r.Stat("bin/demo")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if entry.IsDir || entry.Mode&0o111 == 0 {
		t.Fatalf("bin/demo entry = %+v", entry)
	}

	rc, err := r.Open("share/demo/data.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("data.txt = %q", body)
	}

	if _, err := r.Open("no/such/file"); err == nil {
		t.Fatalf("Open of a missing entry succeeded")
	}
}

func TestReadManifestRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	raw, _ := json.Marshal(Manifest{Package: "demo"}) // publisher missing
	if err := os.WriteFile(filepath.Join(dir, ManifestName), raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	packPath := filepath.Join(t.TempDir(), "broken.pack")
	if err := PackDir(dir, packPath); err != nil {
		t.Fatalf("PackDir: %v", err)
	}

	r, err := OpenTar(packPath)
	if err != nil {
		t.Fatalf("OpenTar: %v", err)
	}
	defer r.Close()

	if _, err := ReadManifest(r); err == nil || !strings.Contains(err.Error(), "publisher") {
		t.Fatalf("ReadManifest: %v", err)
	}
}

func TestReadManifestMissing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("no manifest here"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	packPath := filepath.Join(t.TempDir(), "bare.pack")
	if err := PackDir(dir, packPath); err != nil {
		t.Fatalf("PackDir: %v", err)
	}

	r, err := OpenTar(packPath)
	if err != nil {
		t.Fatalf("OpenTar: %v", err)
	}
	defer r.Close()

	if _, err := ReadManifest(r); err == nil {
		t.Fatalf("ReadManifest succeeded without a manifest")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"./bin/demo", "bin/demo"},
		{"/bin/demo", "bin/demo"},
		{"bin//demo", "bin/demo"},
		{"./", ""},
		{".", ""},
		{"/", ""},
	}
	for _, tc := range tests {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
