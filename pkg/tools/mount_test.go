/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */
package tools

import "testing"

func TestIsMountedPlainDir(t *testing.T) {
	mounted, err := IsMounted(t.TempDir())
	if err != nil {
		t.Fatalf("IsMounted: %v", err)
	}
	if mounted {
		t.Fatalf("fresh temp dir reported as mounted")
	}
}

func TestIsMountedRoot(t *testing.T) {
	mounted, err := IsMounted("/")
	if err != nil {
		t.Fatalf("IsMounted: %v", err)
	}
	if !mounted {
		t.Fatalf("/ not reported as mounted")
	}
}
