// Package version reports the relayd build version.
package version

import (
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/relayd"

// buildVersion is set with -ldflags "-X pkt.systems/relayd/internal/version.buildVersion=v1.2.3".
var buildVersion = ""

// Current returns the ldflags version, then the module version recorded in
// build info, then a pseudo-version derived from VCS stamps.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return v
		}
		if v := vcsPseudoVersion(info.Settings); v != "" {
			return v
		}
	}
	return "v0.0.0-unknown"
}

// Module returns the main module path.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if p := strings.TrimSpace(info.Main.Path); p != "" {
			return p
		}
	}
	return defaultModule
}

func vcsPseudoVersion(settings []debug.BuildSetting) string {
	values := make(map[string]string, len(settings))
	for _, s := range settings {
		values[s.Key] = s.Value
	}
	revision, stamp := values["vcs.revision"], values["vcs.time"]
	if revision == "" || stamp == "" {
		return ""
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	v := "v0.0.0-" + at.UTC().Format("20060102150405") + "-" + revision
	if values["vcs.modified"] == "true" {
		v += "+dirty"
	}
	return v
}
