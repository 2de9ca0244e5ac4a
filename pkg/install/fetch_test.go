package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestIsRemote(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"http://store.example.org/a.pack", true},
		{"https://store.example.org/a.pack", true},
		{"/var/chef/packs/a.pack", false},
		{"packs/a.pack", false},
		{"ftp://store.example.org/a.pack", false},
	}
	for _, tc := range tests {
		if got := isRemote(tc.source); got != tc.want {
			t.Errorf("isRemote(%q) = %v, want %v", tc.source, got, tc.want)
		}
	}
}

func TestHTTPFetcherLocalCopy(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pack")
	dest := filepath.Join(dir, "dest.pack")
	if err := os.WriteFile(src, []byte("pack bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f := &HTTPFetcher{}
	if err := f.Fetch(context.Background(), src, dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	body, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(body) != "pack bytes" {
		t.Fatalf("dest = %q", body)
	}
}

func TestHTTPFetcherMissingLocalSource(t *testing.T) {
	dir := t.TempDir()
	f := &HTTPFetcher{}
	err := f.Fetch(context.Background(), filepath.Join(dir, "missing.pack"), filepath.Join(dir, "dest.pack"))
	if err == nil {
		t.Fatalf("Fetch of a missing file succeeded")
	}
}
