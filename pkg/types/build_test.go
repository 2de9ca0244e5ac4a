package types

import (
	"encoding/json"
	"testing"
)

func TestParseArchitecture(t *testing.T) {
	tests := []struct {
		name string
		want Architecture
	}{
		{"x86", ArchX86},
		{"x64", ArchX64},
		{"armhf", ArchArmhf},
		{"arm64", ArchArm64},
		{"riscv64", ArchRiscv64},
		{"amd64", ArchUnknown},
		{"", ArchUnknown},
	}
	for _, tc := range tests {
		if got := ParseArchitecture(tc.name); got != tc.want {
			t.Errorf("ParseArchitecture(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestArchitectureMask(t *testing.T) {
	if ArchUnknown.Mask() != 0 {
		t.Fatalf("unknown arch has a mask bit")
	}

	archs := []Architecture{ArchX86, ArchX64, ArchArmhf, ArchArm64, ArchRiscv64}
	var seen uint32
	for _, a := range archs {
		m := a.Mask()
		if m == 0 {
			t.Errorf("%s: zero mask", a)
		}
		if seen&m != 0 {
			t.Errorf("%s: mask %#x overlaps another architecture", a, m)
		}
		seen |= m
	}
}

func TestArchitectureJSONRoundTrip(t *testing.T) {
	for _, a := range []Architecture{ArchX86, ArchArm64, ArchUnknown} {
		raw, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", a, err)
		}
		want := `"` + a.String() + `"`
		if string(raw) != want {
			t.Errorf("Marshal(%v) = %s, want %s", a, raw, want)
		}

		var back Architecture
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", raw, err)
		}
		if back != a {
			t.Errorf("round trip of %v gave %v", a, back)
		}
	}
}

func TestBuildStatusCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to BuildStatus
		want     bool
	}{
		{BuildQueued, BuildSourcing, true},
		{BuildSourcing, BuildPacking, true},
		{BuildQueued, BuildFailed, true},
		{BuildPacking, BuildDone, true},
		{BuildSourcing, BuildQueued, false},
		{BuildDone, BuildFailed, false},
		{BuildFailed, BuildQueued, false},
		{BuildBuilding, BuildBuilding, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Errorf("%s.CanAdvanceTo(%s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestBuildStatusJSON(t *testing.T) {
	raw, err := json.Marshal(BuildSourcing)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != `"sourcing"` {
		t.Fatalf("Marshal = %s, want \"sourcing\"", raw)
	}

	var s BuildStatus
	if err := json.Unmarshal([]byte(`"packing"`), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s != BuildPacking {
		t.Fatalf("Unmarshal gave %v", s)
	}

	// unrecognized names degrade to unknown instead of failing
	if err := json.Unmarshal([]byte(`"simmering"`), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s != BuildUnknown {
		t.Fatalf("unrecognized name gave %v", s)
	}
}

func TestArtifactTypeJSON(t *testing.T) {
	for _, tc := range []struct {
		t    ArtifactType
		wire string
	}{
		{ArtifactLog, `"log"`},
		{ArtifactPackage, `"package"`},
	} {
		raw, err := json.Marshal(tc.t)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if string(raw) != tc.wire {
			t.Errorf("Marshal(%v) = %s, want %s", tc.t, raw, tc.wire)
		}
		var back ArtifactType
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if back != tc.t {
			t.Errorf("round trip of %v gave %v", tc.t, back)
		}
	}
}
