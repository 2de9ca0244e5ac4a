package cook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

func TestFindPack(t *testing.T) {
	dir := t.TempDir()

	if _, err := findPack(dir); err == nil {
		t.Fatalf("findPack succeeded on an empty directory")
	}

	if err := os.WriteFile(filepath.Join(dir, "build.log"), []byte("log"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := findPack(dir); err == nil {
		t.Fatalf("findPack matched a non-pack file")
	}

	want := filepath.Join(dir, "fabricators-demo.pack")
	if err := os.WriteFile(want, []byte("archive"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := findPack(dir)
	if err != nil {
		t.Fatalf("findPack: %v", err)
	}
	if got != want {
		t.Fatalf("findPack = %q, want %q", got, want)
	}
}

func TestBuildLayersComposable(t *testing.T) {
	layers := buildLayers("/store/base", "/tmp/s/src", "/var/chef/cache", "/tmp/out", "/tmp/s/upper")

	if layers[0].Kind != types.LayerBase {
		t.Fatalf("first layer kind = %v, want base", layers[0].Kind)
	}
	if last := layers[len(layers)-1]; last.Kind != types.LayerUpper {
		t.Fatalf("last layer kind = %v, want upper", last.Kind)
	}
	for i, l := range layers[1 : len(layers)-1] {
		if l.Kind != types.LayerBind {
			t.Fatalf("layer %d kind = %v, want bind", i+1, l.Kind)
		}
	}
}

func TestShortId(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"0f3a9c12-4b7e-4d2a-9f00-1c2d3e4f5a6b", "0f3a9c12"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, c := range cases {
		if got := shortId(c.in); got != c.want {
			t.Fatalf("shortId(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFileURI(t *testing.T) {
	if got := fileURI("/var/chef/artifacts/x/demo.pack"); got != "file:///var/chef/artifacts/x/demo.pack" {
		t.Fatalf("fileURI = %q", got)
	}
}
