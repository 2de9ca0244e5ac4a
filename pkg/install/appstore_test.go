package install

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mirkobrombin/chef/pkg/types"
)

func testApp(publisher, pkg string, revision int) *types.Application {
	return &types.Application{
		Publisher:        publisher,
		Package:          pkg,
		Revision:         revision,
		InstallTimestamp: time.Now(),
		Commands: []types.Command{
			{Name: pkg, Kind: types.CommandExecutable, Path: "bin/" + pkg},
		},
	}
}

func TestAppStoreAddGetRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applications.json")
	s, err := OpenAppStore(path)
	if err != nil {
		t.Fatalf("OpenAppStore: %v", err)
	}

	if err := s.Add(testApp("fabricators", "chef", 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(testApp("acme", "widget", 7)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.Count() != 2 {
		t.Fatalf("Count = %d, want 2", s.Count())
	}

	app, err := s.Get("fabricators/chef")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if app.Revision != 1 || len(app.Commands) != 1 {
		t.Fatalf("Get returned %+v", app)
	}

	// replacing by name must not grow the document
	if err := s.Add(testApp("fabricators", "chef", 2)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.Count() != 2 {
		t.Fatalf("Count after replace = %d, want 2", s.Count())
	}
	app, _ = s.Get("fabricators/chef")
	if app.Revision != 2 {
		t.Fatalf("replace kept revision %d", app.Revision)
	}

	if err := s.Remove("fabricators/chef"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get("fabricators/chef"); types.KindOf(err) != types.ErrNotFound {
		t.Fatalf("Get after remove: %v", err)
	}

	// removing an absent name is a no-op
	if err := s.Remove("fabricators/chef"); err != nil {
		t.Fatalf("Remove absent: %v", err)
	}
}

func TestAppStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applications.json")

	s, err := OpenAppStore(path)
	if err != nil {
		t.Fatalf("OpenAppStore: %v", err)
	}
	if err := s.Add(testApp("fabricators", "chef", 4)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := OpenAppStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	app, err := reopened.Get("fabricators/chef")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if app.Revision != 4 {
		t.Fatalf("revision = %d, want 4", app.Revision)
	}
}

func TestAppStoreGetReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applications.json")
	s, err := OpenAppStore(path)
	if err != nil {
		t.Fatalf("OpenAppStore: %v", err)
	}
	if err := s.Add(testApp("fabricators", "chef", 1)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	app, _ := s.Get("fabricators/chef")
	app.Revision = 99

	again, _ := s.Get("fabricators/chef")
	if again.Revision != 1 {
		t.Fatalf("mutation through Get leaked into the store")
	}
}
