/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"context"
	"strings"

	"github.com/mirkobrombin/chef/pkg/tools"
)

// Fetcher retrieves a pack archive to a local path. Implementations
// must honor ctx at every blocking point.
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string) error
}

// HTTPFetcher downloads over http(s) with a progress bar; non-URL
// sources are treated as local files and copied.
type HTTPFetcher struct{}

func (f *HTTPFetcher) Fetch(ctx context.Context, source, dest string) error {
	if !isRemote(source) {
		return tools.CopyFileAtomic(source, dest)
	}
	return tools.DownloadFile(ctx, source, dest)
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
