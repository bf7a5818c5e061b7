package version

import (
	"runtime/debug"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	t.Parallel()

	bi := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	}

	got := fromBuildInfo(Info{}, bi)
	if got.Version != "v0.3.1" || got.Commit != "0123456789abcdef0123" || got.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info: %+v", got)
	}

	pinned := fromBuildInfo(Info{Version: "v1.0.0", Commit: "abc"}, bi)
	if pinned.Version != "v1.0.0" || pinned.Commit != "abc" {
		t.Fatalf("ldflags values must win, got %+v", pinned)
	}

	devel := fromBuildInfo(Info{}, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if devel.Version != "" {
		t.Fatalf("expected (devel) to be ignored, got %q", devel.Version)
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"0123456789abcdef", "0123456789ab"},
	}
	for _, tt := range tests {
		if got := shortCommit(tt.in); got != tt.want {
			t.Fatalf("shortCommit(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
