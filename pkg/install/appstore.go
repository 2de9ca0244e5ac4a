/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/mirkobrombin/chef/pkg/types"
)

// AppStore holds the installed applications as a single JSON document:
// an array of applications rewritten atomically on every change. The
// document is small by construction, a host installs tens of packages,
// not thousands.
type AppStore struct {
	mu   sync.Mutex
	path string
	apps []*types.Application
}

// OpenAppStore loads (or initializes) the applications document.
func OpenAppStore(path string) (*AppStore, error) {
	s := &AppStore{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, types.WrapError(types.ErrInternal, err, "reading applications document")
	}
	if err := json.Unmarshal(raw, &s.apps); err != nil {
		return nil, types.WrapError(types.ErrInternal, err, "applications document corrupt")
	}
	return s, nil
}

// save rewrites the document through a temp file and rename, so readers
// never observe a partial write. Caller holds s.mu.
func (s *AppStore) save() error {
	raw, err := json.MarshalIndent(s.apps, "", "  ")
	if err != nil {
		return types.WrapError(types.ErrInternal, err, "encoding applications document")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".applications-*")
	if err != nil {
		return types.WrapError(types.ErrInternal, err, "writing applications document")
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return types.WrapError(types.ErrInternal, err, "writing applications document")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return types.WrapError(types.ErrInternal, err, "writing applications document")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return types.WrapError(types.ErrInternal, err, "replacing applications document")
	}
	return nil
}

// Add inserts or replaces an application by name and persists the
// document.
func (s *AppStore) Add(app *types.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.apps {
		if existing.Name() == app.Name() {
			s.apps[i] = app
			return s.save()
		}
	}
	s.apps = append(s.apps, app)
	return s.save()
}

// Remove deletes an application by name; removing an absent name is a
// no-op so uninstall replays stay safe.
func (s *AppStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.apps {
		if existing.Name() == name {
			s.apps = append(s.apps[:i], s.apps[i+1:]...)
			return s.save()
		}
	}
	return nil
}

// Get returns the application by "publisher/package" name.
func (s *AppStore) Get(name string) (*types.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, app := range s.apps {
		if app.Name() == name {
			out := *app
			return &out, nil
		}
	}
	return nil, types.NewError(types.ErrNotFound, "package %s is not installed", name)
}

// List returns all installed applications.
func (s *AppStore) List() []*types.Application {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.Application, 0, len(s.apps))
	for _, app := range s.apps {
		a := *app
		out = append(out, &a)
	}
	return out
}

// Count returns the number of installed applications.
func (s *AppStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.apps)
}
