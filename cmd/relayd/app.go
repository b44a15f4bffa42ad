package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/pslog"
	"pkt.systems/relayd"
	"pkt.systems/relayd/internal/svcfields"
)

const defaultEnvFile = ".env"

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("RELAYD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "relayd")
	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			if rootInvocation {
				svcfields.WithSubsystem(baseLogger, svcfields.CLIRoot).Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

// invocationTargetsRootCommand reports whether args run the server rather
// than a subcommand, so root failures go to the structured log.
func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return true
	}
	lookupLong := func(name string) *pflag.Flag {
		flag := root.Flags().Lookup(name)
		if flag == nil {
			flag = root.PersistentFlags().Lookup(name)
		}
		return flag
	}
	lookupShort := func(shorthand string) *pflag.Flag {
		flag := root.Flags().ShorthandLookup(shorthand)
		if flag == nil {
			flag = root.PersistentFlags().ShorthandLookup(shorthand)
		}
		return flag
	}
	remainingHasSubcommand := func(rest []string) bool {
		for _, tok := range rest {
			if isSubcommandToken(root, tok) {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(args); {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "--") {
			if strings.IndexByte(arg, '=') >= 0 {
				i++
				continue
			}
			flag := lookupLong(strings.TrimPrefix(arg, "--"))
			if flag == nil {
				return !remainingHasSubcommand(args[i+1:])
			}
			i++
			if flag.NoOptDefVal == "" && i < len(args) {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			sh := strings.TrimPrefix(arg, "-")
			consumeNext := false
			for idx, ch := range sh {
				flag := lookupShort(string(ch))
				if flag == nil {
					return !remainingHasSubcommand(args[i+1:])
				}
				if flag.NoOptDefVal == "" {
					if idx == len(sh)-1 {
						consumeNext = true
					}
					break
				}
			}
			i++
			if consumeNext && i < len(args) {
				i++
			}
			continue
		}
		return !isSubcommandToken(root, arg)
	}
	return true
}

func isSubcommandToken(root *cobra.Command, token string) bool {
	for _, sub := range root.Commands() {
		if token == sub.Name() {
			return true
		}
		for _, alias := range sub.Aliases {
			if token == alias {
				return true
			}
		}
	}
	return false
}

func humanizeBytes(n int64) string {
	return strings.ReplaceAll(humanize.Bytes(uint64(n)), " ", "")
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. An empty path tries ./.env and ignores a
// missing file; an explicit path must exist.
func loadEnvFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", fmt.Errorf("expand env file path %q: %w", path, err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("env file %q: %w", expanded, err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return "", fmt.Errorf("load env file %q: %w", expanded, err)
	}
	return expanded, nil
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := relayd.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, relayd.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg relayd.Config
	var envFile string
	envLoaded := ""

	cmd := &cobra.Command{
		Use:           "relayd",
		Short:         "relayd is a REST gateway for a phone-linked messaging account: pairing, inbound buffer, text and audio sends",
		SilenceErrors: true,
		Example: `
  # Simulated network that pairs itself after 5s (local development)
  RELAYD_JWT_SECRET=$(openssl rand -hex 32) relayd --protocol 'mem://?autopair=5s' \
    --auth-username operator --auth-password secret

  # External protocol bridge with a users file of bcrypt hashes
  relayd --protocol wss://bridge.internal/ws --users-file ~/.relayd/users.yaml

  # Bound the inbound buffer and drop messages older than a day
  relayd --max-messages 5000 --message-retention 24h
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, err := loadEnvFile(envFile)
			if err != nil {
				return err
			}
			envLoaded = path
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, svcfields.CLIRoot)
			ctx := cmd.Context()
			cmd.SilenceUsage = true
			svcfields.WithSubsystem(logger, "server.lifecycle.init").WithLogLevel().Info(
				"welcome to relayd",
				"app", "relayd",
				"pid", os.Getpid(),
				"uid", os.Getuid(),
				"gid", os.Getgid(),
			)
			if envLoaded != "" {
				cliLogger.Info("loaded env file", "path", envLoaded)
			}

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}
			if err := bindConfig(&cfg); err != nil {
				return err
			}

			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			level, ok := pslog.ParseLevel(logLevel)
			if !ok {
				return fmt.Errorf("invalid log level %q", logLevel)
			}
			logger = logger.LogLevel(level)
			cliLogger = svcfields.WithSubsystem(logger, svcfields.CLIRoot)

			server, err := relayd.NewServer(cfg, relayd.WithLogger(logger))
			if err != nil {
				return err
			}
			shutdownTimeout := durationOr(cfg.ShutdownTimeout, relayd.DefaultShutdownTimeout)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.relayd/"+relayd.DefaultConfigFileName+")")
	persistentFlags.StringVar(&envFile, "env-file", "", "dotenv file loaded before reading RELAYD_* variables (defaults to ./"+defaultEnvFile+" when present)")

	flags := cmd.Flags()
	flags.String("listen", relayd.DefaultListen, "listen address (host:port or unix socket path)")
	flags.String("listen-proto", relayd.DefaultListenProto, "listen network (tcp, tcp4, tcp6, unix)")
	flags.String("metrics-listen", relayd.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("pprof-listen", relayd.DefaultPprofListen, "pprof listen address (debug/pprof endpoints; empty disables)")
	flags.Bool("enable-profiling-metrics", false, "enable Go runtime metrics on the Prometheus endpoint")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint (e.g. grpc://localhost:4317)")
	flags.String("protocol", relayd.DefaultProtocol, "messaging collaborator URL (mem://, ws://host/path, wss://host/path)")
	flags.String("protocol-token", "", "bearer token presented to the websocket protocol bridge")
	flags.String("phone-suffix", relayd.DefaultPhoneSuffix, "address suffix appended to bare phone numbers")
	flags.String("jwt-secret", "", "HS256 secret used to sign bearer tokens (at least 16 bytes)")
	flags.String("jwt-issuer", relayd.DefaultJWTIssuer, "iss claim of issued tokens")
	flags.Duration("token-ttl", relayd.DefaultTokenTTL, "lifetime of issued bearer tokens")
	flags.String("auth-username", "", "static operator username")
	flags.String("auth-password", "", "static operator password")
	flags.String("users-file", "", "YAML users file with bcrypt hashes (reloaded on change)")
	flags.String("json-max", humanizeBytes(relayd.DefaultJSONMaxBytes), "maximum JSON payload size")
	flags.String("audio-max", humanizeBytes(relayd.DefaultAudioMaxBytes), "maximum decoded audio size for sends and uploads")
	flags.Int("max-messages", relayd.DefaultMaxMessages, "maximum buffered inbound messages (0 keeps everything)")
	flags.Duration("message-retention", relayd.DefaultMessageRetention, "evict buffered messages older than this (0 disables)")
	flags.Duration("sweeper-interval", relayd.DefaultSweeperInterval, "retention sweep interval")
	flags.Duration("init-timeout", relayd.DefaultInitTimeout, "timeout for a single connection attempt")
	flags.Duration("pairing-wait", relayd.DefaultPairingWait, "how long session start waits for a pairing code or an open connection")
	flags.Duration("send-timeout", relayd.DefaultSendTimeout, "timeout for each outbound protocol command")
	flags.Int("event-buffer", relayd.DefaultEventBuffer, "protocol event channel capacity")
	flags.String("tls-cert", "", "TLS certificate (PEM) for HTTPS")
	flags.String("tls-key", "", "TLS private key (PEM) for HTTPS")
	flags.Duration("shutdown-timeout", relayd.DefaultShutdownTimeout, "overall shutdown timeout")
	flags.String("log-level", "info", "server log level (trace|debug|info|warn|error)")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("RELAYD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config",
		"listen", "listen-proto", "metrics-listen", "pprof-listen", "enable-profiling-metrics", "otlp-endpoint",
		"protocol", "protocol-token", "phone-suffix",
		"jwt-secret", "jwt-issuer", "token-ttl", "auth-username", "auth-password", "users-file",
		"json-max", "audio-max", "max-messages", "message-retention", "sweeper-interval",
		"init-timeout", "pairing-wait", "send-timeout", "event-buffer",
		"tls-cert", "tls-key", "shutdown-timeout", "log-level",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(newAuthCommand())
	cmd.AddCommand(newClientCommand(baseLogger))
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindConfig(cfg *relayd.Config) error {
	cfg.Listen = viper.GetString("listen")
	cfg.ListenProto = viper.GetString("listen-proto")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.PprofListen = viper.GetString("pprof-listen")
	cfg.EnableProfilingMetrics = viper.GetBool("enable-profiling-metrics")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.Protocol = viper.GetString("protocol")
	cfg.ProtocolToken = viper.GetString("protocol-token")
	cfg.PhoneSuffix = viper.GetString("phone-suffix")
	cfg.JWTSecret = viper.GetString("jwt-secret")
	cfg.JWTIssuer = viper.GetString("jwt-issuer")
	cfg.TokenTTL = viper.GetDuration("token-ttl")
	cfg.AuthUsername = viper.GetString("auth-username")
	cfg.AuthPassword = viper.GetString("auth-password")
	usersFile, err := expandPath(strings.TrimSpace(viper.GetString("users-file")))
	if err != nil {
		return fmt.Errorf("expand users-file: %w", err)
	}
	cfg.UsersFile = usersFile
	if raw := viper.GetString("json-max"); raw != "" {
		size, err := humanize.ParseBytes(raw)
		if err != nil {
			return fmt.Errorf("parse json-max: %w", err)
		}
		cfg.JSONMaxBytes = int64(size)
	}
	if raw := viper.GetString("audio-max"); raw != "" {
		size, err := humanize.ParseBytes(raw)
		if err != nil {
			return fmt.Errorf("parse audio-max: %w", err)
		}
		cfg.AudioMaxBytes = int64(size)
	}
	cfg.MaxMessages = viper.GetInt("max-messages")
	cfg.MessageRetention = viper.GetDuration("message-retention")
	cfg.SweeperInterval = viper.GetDuration("sweeper-interval")
	cfg.InitTimeout = viper.GetDuration("init-timeout")
	cfg.PairingWait = viper.GetDuration("pairing-wait")
	cfg.SendTimeout = viper.GetDuration("send-timeout")
	cfg.EventBuffer = viper.GetInt("event-buffer")
	cfg.TLSCert = viper.GetString("tls-cert")
	cfg.TLSKey = viper.GetString("tls-key")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	return nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

// durationOr returns d when positive and fallback otherwise.
func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
