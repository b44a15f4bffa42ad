package main

import (
	"bytes"
	"strings"
	"testing"

	"pkt.systems/relayd/internal/version"
)

func executeRootCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newTestRoot(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	t.Setenv("RELAYD_CONFIG", "")

	stdout, stderr, err := executeRootCommand(t, "", "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestVersionCommandShortFlag(t *testing.T) {
	t.Setenv("RELAYD_CONFIG", "")

	stdout, _, err := executeRootCommand(t, "", "version", "--short")
	if err != nil {
		t.Fatalf("version --short failed: %v", err)
	}
	if stdout != version.Current()+"\n" {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestRootVersionFlagIsUnknown(t *testing.T) {
	t.Setenv("RELAYD_CONFIG", "")

	_, _, err := executeRootCommand(t, "", "--version")
	if err == nil {
		t.Fatal("expected unknown flag error for root --version")
	}
	if !strings.Contains(err.Error(), "unknown flag") {
		t.Fatalf("unexpected error: %v", err)
	}
}
