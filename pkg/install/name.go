/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package install

import (
	"strings"

	"github.com/mirkobrombin/chef/pkg/types"
)

// SplitName splits a canonical "publisher/package" name. Exactly two
// non-empty components are accepted, anything else is rejected.
func SplitName(name string) (publisher, pkg string, err error) {
	parts := strings.Split(name, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", types.NewError(types.ErrInvalidArgument,
			"package name %q must be publisher/package", name)
	}
	return parts[0], parts[1], nil
}
