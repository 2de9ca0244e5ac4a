/*
* Copyright (c) 2025 FABRICATORS S.R.L.
* Licensed under the Fabricators Public Access License (FPAL) v1.0
* See https://github.com/fabricatorsltd/FPAL for details.
 */

package layer

import (
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

func TestValidate(t *testing.T) {
	base := types.Layer{Kind: types.LayerBase, Source: "/store/base", ReadOnly: true}
	upper := types.Layer{Kind: types.LayerUpper, Source: "/tmp/upper"}
	pack := types.Layer{Kind: types.LayerPack, Source: "/packs/a.pack", ReadOnly: true}
	bind := types.Layer{Kind: types.LayerBind, Source: "/srv/data", Target: "/data"}

	tests := []struct {
		name    string
		layers  []types.Layer
		wantErr bool
	}{
		{"base only", []types.Layer{base}, false},
		{"base plus upper", []types.Layer{base, upper}, false},
		{"base pack bind upper", []types.Layer{base, pack, bind, upper}, false},
		{"empty", nil, true},
		{"two bases", []types.Layer{base, base, upper}, true},
		{"two uppers", []types.Layer{base, upper, upper}, true},
		{"upper not last", []types.Layer{upper, base}, true},
	}

	for _, tc := range tests {
		err := validate(tc.layers)
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: %v", tc.name, err)
		}
		if tc.wantErr && err != nil && types.KindOf(err) != types.ErrRootfsInvalid {
			t.Errorf("%s: kind = %s, want %s", tc.name, types.KindOf(err), types.ErrRootfsInvalid)
		}
	}
}
