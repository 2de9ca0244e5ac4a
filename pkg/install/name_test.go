package install

import (
	"testing"

	"github.com/mirkobrombin/chef/pkg/types"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		name      string
		publisher string
		pkg       string
		wantErr   bool
	}{
		{"fabricators/chef", "fabricators", "chef", false},
		{"a/b", "a", "b", false},
		{"chef", "", "", true},
		{"/chef", "", "", true},
		{"fabricators/", "", "", true},
		{"a/b/c", "", "", true},
		{"", "", "", true},
		{"/", "", "", true},
	}

	for _, tc := range tests {
		publisher, pkg, err := SplitName(tc.name)
		if tc.wantErr {
			if err == nil {
				t.Errorf("SplitName(%q): expected error", tc.name)
			} else if types.KindOf(err) != types.ErrInvalidArgument {
				t.Errorf("SplitName(%q): kind = %s, want %s",
					tc.name, types.KindOf(err), types.ErrInvalidArgument)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitName(%q): %v", tc.name, err)
			continue
		}
		if publisher != tc.publisher || pkg != tc.pkg {
			t.Errorf("SplitName(%q) = %q, %q, want %q, %q",
				tc.name, publisher, pkg, tc.publisher, tc.pkg)
		}
	}
}
