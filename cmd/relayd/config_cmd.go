package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/relayd"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage relayd configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.relayd/" + relayd.DefaultConfigFileName
	if dir, err := relayd.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, relayd.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default relayd configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" {
				dir, err := relayd.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, relayd.DefaultConfigFileName)
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			// The file can carry jwt-secret and auth-password.
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	Listen                 string `yaml:"listen"`
	ListenProto            string `yaml:"listen-proto"`
	MetricsListen          string `yaml:"metrics-listen"`
	PprofListen            string `yaml:"pprof-listen"`
	EnableProfilingMetrics bool   `yaml:"enable-profiling-metrics"`
	OTLPEndpoint           string `yaml:"otlp-endpoint"`
	Protocol               string `yaml:"protocol"`
	ProtocolToken          string `yaml:"protocol-token"`
	PhoneSuffix            string `yaml:"phone-suffix"`
	JWTSecret              string `yaml:"jwt-secret"`
	JWTIssuer              string `yaml:"jwt-issuer"`
	TokenTTL               string `yaml:"token-ttl"`
	AuthUsername           string `yaml:"auth-username"`
	AuthPassword           string `yaml:"auth-password"`
	UsersFile              string `yaml:"users-file"`
	JSONMax                string `yaml:"json-max"`
	AudioMax               string `yaml:"audio-max"`
	MaxMessages            int    `yaml:"max-messages"`
	MessageRetention       string `yaml:"message-retention"`
	SweeperInterval        string `yaml:"sweeper-interval"`
	InitTimeout            string `yaml:"init-timeout"`
	PairingWait            string `yaml:"pairing-wait"`
	SendTimeout            string `yaml:"send-timeout"`
	EventBuffer            int    `yaml:"event-buffer"`
	TLSCert                string `yaml:"tls-cert"`
	TLSKey                 string `yaml:"tls-key"`
	ShutdownTimeout        string `yaml:"shutdown-timeout"`
	LogLevel               string `yaml:"log-level"`
}

func defaultConfigYAML(overrides ...func(*configDefaults)) ([]byte, error) {
	usersFile := ""
	if path, err := relayd.DefaultUsersPath(); err == nil {
		usersFile = path
	}
	defaults := configDefaults{
		Listen:           relayd.DefaultListen,
		ListenProto:      relayd.DefaultListenProto,
		MetricsListen:    relayd.DefaultMetricsListen,
		PprofListen:      relayd.DefaultPprofListen,
		Protocol:         relayd.DefaultProtocol,
		PhoneSuffix:      relayd.DefaultPhoneSuffix,
		JWTIssuer:        relayd.DefaultJWTIssuer,
		TokenTTL:         relayd.DefaultTokenTTL.String(),
		UsersFile:        usersFile,
		JSONMax:          humanizeBytes(relayd.DefaultJSONMaxBytes),
		AudioMax:         humanizeBytes(relayd.DefaultAudioMaxBytes),
		MaxMessages:      relayd.DefaultMaxMessages,
		MessageRetention: relayd.DefaultMessageRetention.String(),
		SweeperInterval:  relayd.DefaultSweeperInterval.String(),
		InitTimeout:      relayd.DefaultInitTimeout.String(),
		PairingWait:      relayd.DefaultPairingWait.String(),
		SendTimeout:      relayd.DefaultSendTimeout.String(),
		EventBuffer:      relayd.DefaultEventBuffer,
		ShutdownTimeout:  relayd.DefaultShutdownTimeout.String(),
		LogLevel:         "info",
	}
	for _, fn := range overrides {
		if fn != nil {
			fn(&defaults)
		}
	}

	out, err := yaml.Marshal(&defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}
