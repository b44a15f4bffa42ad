package version

import (
	"runtime/debug"
	"testing"
)

func TestVCSPseudoVersion(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef"},
		{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		{Key: "vcs.modified", Value: "true"},
	}
	got := vcsPseudoVersion(settings)
	want := "v0.0.0-20260102030405-0123456789ab+dirty"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if vcsPseudoVersion(nil) != "" {
		t.Fatal("expected empty pseudo version without vcs stamps")
	}
}

func TestCurrentPrefersBuildVersion(t *testing.T) {
	orig := buildVersion
	t.Cleanup(func() { buildVersion = orig })
	buildVersion = "v9.9.9"
	if got := Current(); got != "v9.9.9" {
		t.Fatalf("got %q", got)
	}
}
