package relayd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/relayd/internal/auth"
	"pkt.systems/relayd/internal/session"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":8080"
	// DefaultListenProto controls the scheme used when no protocol is configured.
	DefaultListenProto = "tcp"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultProtocol points the server at the simulated in-process network.
	DefaultProtocol = "mem://"
	// DefaultPhoneSuffix is appended to bare phone numbers.
	DefaultPhoneSuffix = session.DefaultSuffix
	// DefaultJWTIssuer is the iss claim of issued tokens.
	DefaultJWTIssuer = "relayd"
	// DefaultTokenTTL is the lifetime of issued bearer tokens.
	DefaultTokenTTL = 12 * time.Hour
	// DefaultJSONMaxBytes bounds incoming JSON payloads.
	DefaultJSONMaxBytes = 1 << 20
	// DefaultAudioMaxBytes bounds decoded audio payloads and uploads.
	DefaultAudioMaxBytes = 16 << 20
	// DefaultMaxMessages leaves the inbound buffer unbounded.
	DefaultMaxMessages = 0
	// DefaultMessageRetention disables age based eviction.
	DefaultMessageRetention = time.Duration(0)
	// DefaultSweeperInterval sets the retention sweep cadence.
	DefaultSweeperInterval = time.Minute
	// DefaultInitTimeout bounds a single connection attempt.
	DefaultInitTimeout = 30 * time.Second
	// DefaultPairingWait bounds how long session start waits for a pairing
	// code or an open connection.
	DefaultPairingWait = 20 * time.Second
	// DefaultSendTimeout bounds each outbound protocol command.
	DefaultSendTimeout = 30 * time.Second
	// DefaultEventBuffer sizes the protocol event channel.
	DefaultEventBuffer = 256
	// DefaultShutdownTimeout caps the total shutdown time.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
	// DefaultUsersFileName is the users file name generated by relayd auth helpers.
	DefaultUsersFileName = "users.yaml"
)

// Config captures the tunables for a relayd.Server instance.
type Config struct {
	// Listen is the server bind address (for example ":8080").
	Listen string
	// ListenProto selects listener type ("tcp", "tcp4", "tcp6" or "unix").
	ListenProto string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// EnableProfilingMetrics enables runtime metrics on the metrics endpoint.
	EnableProfilingMetrics bool
	// OTLPEndpoint enables trace export (grpc://, grpcs://, http://, https:// or host:port).
	OTLPEndpoint string

	// Protocol is the collaborator URL: mem://, ws:// or wss://.
	Protocol string
	// ProtocolToken is sent as a bearer token when dialing a websocket bridge.
	ProtocolToken string
	// PhoneSuffix is appended to bare phone numbers.
	PhoneSuffix string

	// JWTSecret signs bearer tokens (at least 16 bytes).
	JWTSecret string
	// JWTIssuer is the iss claim of issued tokens.
	JWTIssuer string
	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration
	// AuthUsername and AuthPassword configure a single static operator.
	AuthUsername string
	AuthPassword string
	// UsersFile is a YAML document of bcrypt hashed operators, reloaded on change.
	UsersFile string

	// JSONMaxBytes caps incoming JSON payload size.
	JSONMaxBytes int64
	// AudioMaxBytes caps decoded audio and multipart uploads.
	AudioMaxBytes int64
	// MaxMessages bounds the inbound buffer (0 is unbounded).
	MaxMessages int
	// MessageRetention evicts buffered messages older than this (0 disables).
	MessageRetention time.Duration
	// SweeperInterval controls retention sweep cadence.
	SweeperInterval time.Duration

	// InitTimeout bounds a connection attempt.
	InitTimeout time.Duration
	// PairingWait bounds how long session start waits for progress.
	PairingWait time.Duration
	// SendTimeout bounds each outbound protocol command.
	SendTimeout time.Duration
	// EventBuffer sizes the protocol event channel.
	EventBuffer int

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string
	TLSKey  string
	// ShutdownTimeout caps graceful shutdown.
	ShutdownTimeout time.Duration
}

// TLSEnabled reports whether the listener serves HTTPS.
func (c Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Validate fills defaults and rejects invalid combinations.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	switch c.ListenProto {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("config: unsupported listen proto %q", c.ListenProto)
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}

	c.Protocol = strings.TrimSpace(c.Protocol)
	if c.Protocol == "" {
		c.Protocol = DefaultProtocol
	}
	u, err := url.Parse(c.Protocol)
	if err != nil {
		return fmt.Errorf("config: parse protocol: %w", err)
	}
	switch u.Scheme {
	case "mem", "ws", "wss":
	default:
		return fmt.Errorf("config: unsupported protocol scheme %q (options: mem, ws, wss)", u.Scheme)
	}
	c.PhoneSuffix = session.NormalizeSuffix(c.PhoneSuffix)

	if len(c.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("config: jwt-secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = DefaultJWTIssuer
	}
	if c.TokenTTL < 0 {
		return fmt.Errorf("config: token ttl must be >= 0")
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if (c.AuthUsername == "") != (c.AuthPassword == "") {
		return fmt.Errorf("config: auth-username and auth-password must be set together")
	}
	if c.AuthUsername == "" && strings.TrimSpace(c.UsersFile) == "" {
		return fmt.Errorf("config: configure auth-username/auth-password or users-file")
	}

	if c.JSONMaxBytes < 0 || c.AudioMaxBytes < 0 {
		return fmt.Errorf("config: payload limits must be >= 0")
	}
	if c.JSONMaxBytes == 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.AudioMaxBytes == 0 {
		c.AudioMaxBytes = DefaultAudioMaxBytes
	}
	if c.MaxMessages < 0 {
		return fmt.Errorf("config: max messages must be >= 0")
	}
	if c.MessageRetention < 0 {
		return fmt.Errorf("config: message retention must be >= 0")
	}
	if c.SweeperInterval < 0 {
		return fmt.Errorf("config: sweeper interval must be >= 0")
	}
	if c.SweeperInterval == 0 {
		c.SweeperInterval = DefaultSweeperInterval
	}

	for name, d := range map[string]*time.Duration{
		"init timeout":     &c.InitTimeout,
		"pairing wait":     &c.PairingWait,
		"send timeout":     &c.SendTimeout,
		"shutdown timeout": &c.ShutdownTimeout,
	} {
		if *d < 0 {
			return fmt.Errorf("config: %s must be >= 0", name)
		}
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.PairingWait == 0 {
		c.PairingWait = DefaultPairingWait
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("config: event buffer must be >= 0")
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("config: tls-cert and tls-key must be set together")
	}
	return nil
}

// DefaultConfigDir returns the default configuration directory ($HOME/.relayd).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("RELAYD_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".relayd"), nil
}

// DefaultUsersPath returns the default users file location.
func DefaultUsersPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultUsersFileName), nil
}
