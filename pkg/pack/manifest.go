/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package pack

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mirkobrombin/chef/pkg/types"
)

// ManifestName is the well-known entry every pack carries at its root.
const ManifestName = "manifest.json"

// Manifest describes the package a pack archive contains. The builder
// writes it when packing, the installer reads it during load.
type Manifest struct {
	Publisher string          `json:"publisher"`
	Package   string          `json:"package"`
	Revision  int             `json:"revision"`
	Commands  []types.Command `json:"commands,omitempty"`
}

// ReadManifest extracts and parses the manifest from an open pack.
func ReadManifest(r Reader) (*Manifest, error) {
	rc, err := r.Open(ManifestName)
	if err != nil {
		return nil, fmt.Errorf("pack has no %s: %w", ManifestName, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ManifestName, err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestName, err)
	}
	if m.Publisher == "" || m.Package == "" {
		return nil, fmt.Errorf("%s missing publisher or package", ManifestName)
	}
	return &m, nil
}
