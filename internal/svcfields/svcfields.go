// Package svcfields holds the structured logging keys shared by every relayd
// component.
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey tags every entry with a dot-delimited component path.
const SubsystemKey = pslog.TrustedString("sys")

// Well-known subsystem paths.
const (
	ServerLifecycle = "server.lifecycle"
	ServerSweeper   = "server.sweeper"
	SessionCore     = "session.core"
	SessionBridge   = "session.bridge"
	ProtocolMem     = "protocol.mem"
	ProtocolWS      = "protocol.wsbridge"
	AuthUsers       = "auth.users"
	Telemetry       = "telemetry"
	ServerHTTP      = "server.http"
	CLIRoot         = "cli.root"
	ClientSDK       = "client.sdk"
	ClientCLI       = "client.cli"
)

// Subsystem joins non-empty parts with dots.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(part, ". "); part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem returns logger tagged with subsystem. A nil logger becomes a
// no-op logger so callers never have to nil-check.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}

// Ensure returns logger or a no-op logger.
func Ensure(logger pslog.Logger) pslog.Logger {
	if logger == nil {
		return pslog.NoopLogger()
	}
	return logger
}
