package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/pslog"
	"pkt.systems/relayd/api"
	relaydclient "pkt.systems/relayd/client"
	"pkt.systems/relayd/internal/svcfields"
)

const (
	clientServerKey   = "client.server"
	clientTokenKey    = "client.token"
	clientTimeoutKey  = "client.timeout"
	clientLogLevelKey = "client.log_level"
	clientOutputKey   = "client.output"

	envServerURL      = "RELAYD_CLIENT_SERVER"
	envToken          = "RELAYD_TOKEN"
	envTokenExpires   = "RELAYD_TOKEN_EXPIRES_UNIX"
	envClientPassword = "RELAYD_CLIENT_PASSWORD"
	envCorrelation    = "RELAYD_CLIENT_CORRELATION_ID"

	defaultServerURL = "http://127.0.0.1:8080"
)

type outputMode string

const (
	outputText outputMode = "text"
	outputJSON outputMode = "json"
)

type clientCLIConfig struct {
	baseLogger pslog.Logger
	loaded     bool
	server     string
	token      string
	timeout    time.Duration
	logLevel   string
	output     outputMode
	logger     pslog.Logger
}

func newClientCommand(baseLogger pslog.Logger) *cobra.Command {
	cfg := &clientCLIConfig{baseLogger: baseLogger}
	cmd := &cobra.Command{
		Use:          "client",
		Aliases:      []string{"c"},
		Short:        "Interact with a running relayd server",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("server", "s", defaultServerURL, "relayd server base URL (http://, https:// or unix:///path.sock)")
	flags.String("token", "", "bearer token (defaults to "+envToken+")")
	flags.Duration("timeout", relaydclient.DefaultHTTPTimeout, "HTTP client timeout")
	flags.String("log-level", "none", "client log level (trace|debug|info|warn|error|none)")
	flags.StringP("output", "o", string(outputText), "output format (text|json)")

	mustBindFlag(clientServerKey, envServerURL, flags.Lookup("server"))
	mustBindFlag(clientTokenKey, envToken, flags.Lookup("token"))
	mustBindFlag(clientTimeoutKey, "RELAYD_CLIENT_TIMEOUT", flags.Lookup("timeout"))
	mustBindFlag(clientLogLevelKey, "RELAYD_CLIENT_LOG_LEVEL", flags.Lookup("log-level"))
	mustBindFlag(clientOutputKey, "RELAYD_CLIENT_OUTPUT", flags.Lookup("output"))

	cmd.AddCommand(
		newClientLoginCommand(cfg),
		newClientStartCommand(cfg),
		newClientStatusCommand(cfg),
		newClientLogoutCommand(cfg),
		newClientMessagesCommand(cfg),
		newClientClearCommand(cfg),
		newClientAudioCommand(cfg),
		newClientCheckCommand(cfg),
		newClientSendTextCommand(cfg),
		newClientSendAudioCommand(cfg),
	)
	return cmd
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func (c *clientCLIConfig) load() error {
	if c.loaded {
		return nil
	}
	c.server = strings.TrimSpace(viper.GetString(clientServerKey))
	if c.server == "" {
		c.server = defaultServerURL
	}
	c.token = strings.TrimSpace(viper.GetString(clientTokenKey))
	c.timeout = durationOr(viper.GetDuration(clientTimeoutKey), relaydclient.DefaultHTTPTimeout)
	switch mode := outputMode(strings.ToLower(strings.TrimSpace(viper.GetString(clientOutputKey)))); mode {
	case "", outputText:
		c.output = outputText
	case outputJSON:
		c.output = outputJSON
	default:
		return fmt.Errorf("invalid output format %q (options: text, json)", mode)
	}
	c.logLevel = strings.TrimSpace(viper.GetString(clientLogLevelKey))
	if err := c.setupLogger(); err != nil {
		return err
	}
	c.loaded = true
	return nil
}

func (c *clientCLIConfig) setupLogger() error {
	levelStr := strings.ToLower(c.logLevel)
	if levelStr == "" || levelStr == "none" || levelStr == "off" || levelStr == "disabled" {
		c.logger = nil
		return nil
	}
	level, ok := pslog.ParseLevel(levelStr)
	if !ok {
		return fmt.Errorf("invalid client log level %q", c.logLevel)
	}
	if level == pslog.NoLevel || level == pslog.Disabled {
		c.logger = nil
		return nil
	}
	base := c.baseLogger
	if base == nil {
		base = pslog.NewStructured(context.Background(), os.Stderr)
	}
	c.logger = svcfields.WithSubsystem(base, svcfields.ClientCLI).LogLevel(level)
	return nil
}

func (c *clientCLIConfig) client() (*relaydclient.Client, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	opts := []relaydclient.Option{relaydclient.WithHTTPTimeout(c.timeout)}
	if c.token != "" {
		opts = append(opts, relaydclient.WithToken(c.token))
	}
	if c.logger != nil {
		opts = append(opts, relaydclient.WithLogger(c.logger))
	}
	return relaydclient.New(c.server, opts...)
}

// run builds a client, decorates ctx with the correlation id from the
// environment and translates a missing token into an actionable error.
func (c *clientCLIConfig) run(cmd *cobra.Command, fn func(context.Context, *relaydclient.Client) error) error {
	cmd.SilenceUsage = true
	cli, err := c.client()
	if err != nil {
		return err
	}
	defer cli.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if id, ok := relaydclient.NormalizeCorrelationID(os.Getenv(envCorrelation)); ok {
		ctx = relaydclient.WithCorrelationID(ctx, id)
	}
	err = fn(ctx, cli)
	if errors.Is(err, relaydclient.ErrNoToken) {
		return fmt.Errorf("%w (run 'relayd client login' and export %s, or pass --token)", err, envToken)
	}
	return err
}

func (c *clientCLIConfig) print(out io.Writer, v any, text func(io.Writer) error) error {
	if c.output == outputJSON {
		return writeJSON(out, v)
	}
	return text(out)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func newClientLoginCommand(cfg *clientCLIConfig) *cobra.Command {
	var username, password string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange operator credentials for a bearer token",
		Long: `Log in and print shell export statements for the token:

  eval "$(relayd client login -u operator --password-stdin < secret.txt)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				line, err := readPasswordLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = line
			}
			if password == "" {
				password = os.Getenv(envClientPassword)
			}
			if strings.TrimSpace(username) == "" || password == "" {
				return fmt.Errorf("username and password required (use --username with --password, --password-stdin or %s)", envClientPassword)
			}
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				resp, err := cli.Login(ctx, username, password)
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), resp, func(out io.Writer) error {
					if _, err := fmt.Fprintf(out, "export %s=%s\n", envToken, resp.Token); err != nil {
						return err
					}
					if resp.ExpiresAt > 0 {
						_, err := fmt.Fprintf(out, "export %s=%d\n", envTokenExpires, resp.ExpiresAt)
						return err
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "operator username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "operator password (prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	return cmd
}

func newClientStartCommand(cfg *clientCLIConfig) *cobra.Command {
	var qrOut string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start (or resume) the messaging session and print the pairing QR when needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				st, err := cli.StartSession(ctx)
				if err != nil {
					return err
				}
				if qrOut != "" && st.QRBase64 != "" {
					if err := writeQRFile(qrOut, st.QRBase64); err != nil {
						return err
					}
				}
				if wait > 0 && st.Status != "connected" {
					st, err = waitForStatus(ctx, cli, "connected", wait)
					if err != nil {
						return err
					}
				}
				return cfg.print(cmd.OutOrStdout(), st, func(out io.Writer) error {
					return printSession(out, st)
				})
			})
		},
	}
	cmd.Flags().StringVar(&qrOut, "qr-out", "", "write the pairing QR code PNG to this path")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll status until the session is connected or this much time passes")
	return cmd
}

func newClientStatusCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				st, err := cli.Status(ctx)
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), st, func(out io.Writer) error {
					return printSession(out, st)
				})
			})
		},
	}
}

func newClientLogoutCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the account and end the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				st, err := cli.Logout(ctx)
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), st, func(out io.Writer) error {
					return printSession(out, st)
				})
			})
		},
	}
}

func newClientMessagesCommand(cfg *clientCLIConfig) *cobra.Command {
	var since string
	var limit int
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"ls"},
		Short:   "List buffered inbound messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceAt, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				msgs, err := cli.Messages(ctx, relaydclient.MessagesOptions{Since: sinceAt, Limit: limit})
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), msgs, func(out io.Writer) error {
					return printMessages(out, msgs)
				})
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only messages at or after this point (duration ago like 15m, unix seconds or RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 0, "only the newest N messages")
	return cmd
}

func newClientClearCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the inbound message buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				resp, err := cli.ClearMessages(ctx)
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), resp, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "cleared %d messages\n", resp.Cleared)
					return err
				})
			})
		},
	}
}

func newClientAudioCommand(cfg *clientCLIConfig) *cobra.Command {
	var outPath string
	var asBase64 bool
	cmd := &cobra.Command{
		Use:   "audio MESSAGE_ID",
		Short: "Download the audio attachment of an inbound message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				if asBase64 {
					resp, err := cli.AudioBase64(ctx, id)
					if err != nil {
						return err
					}
					return cfg.print(cmd.OutOrStdout(), resp, func(out io.Writer) error {
						_, err := fmt.Fprintln(out, resp.Base64)
						return err
					})
				}
				audio, err := cli.AudioStream(ctx, id)
				if err != nil {
					return err
				}
				defer audio.Close()
				if outPath == "" || outPath == "-" {
					_, err := io.Copy(cmd.OutOrStdout(), audio.Body)
					return err
				}
				f, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("open output: %w", err)
				}
				n, err := io.Copy(f, audio.Body)
				if closeErr := f.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return fmt.Errorf("write audio: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes (%s) to %s\n", n, audio.MimeType, outPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "O", "", "write the audio to this path (default stdout)")
	cmd.Flags().BoolVar(&asBase64, "base64", false, "fetch the base64 JSON form instead of the raw stream")
	return cmd
}

func newClientCheckCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "check NUMBER",
		Short: "Check whether a phone number has an active account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				resp, err := cli.CheckNumber(ctx, args[0])
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), resp, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "%s registered=%t\n", resp.To, resp.Registered)
					return err
				})
			})
		},
	}
}

func newClientSendTextCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "send-text TO MESSAGE...",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				resp, err := cli.SendText(ctx, args[0], text)
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), resp, func(out io.Writer) error {
					return printSend(out, resp)
				})
			})
		},
	}
}

func newClientSendAudioCommand(cfg *clientCLIConfig) *cobra.Command {
	var mimeType string
	var asBase64 bool
	cmd := &cobra.Command{
		Use:   "send-audio TO FILE",
		Short: "Send an audio file as a voice note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, path := args[0], args[1]
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(path))
			}
			return cfg.run(cmd, func(ctx context.Context, cli *relaydclient.Client) error {
				var (
					resp *api.SendResponse
					err  error
				)
				if asBase64 {
					data, readErr := os.ReadFile(path)
					if readErr != nil {
						return fmt.Errorf("read audio: %w", readErr)
					}
					resp, err = cli.SendAudioBase64(ctx, api.SendAudioBase64Request{
						To:       to,
						Base64:   base64.StdEncoding.EncodeToString(data),
						MimeType: mimeType,
					})
				} else {
					f, openErr := os.Open(path)
					if openErr != nil {
						return fmt.Errorf("open audio: %w", openErr)
					}
					defer f.Close()
					resp, err = cli.SendAudioFile(ctx, relaydclient.AudioUpload{
						To:       to,
						Filename: filepath.Base(path),
						MimeType: mimeType,
						Data:     f,
					})
				}
				if err != nil {
					return err
				}
				return cfg.print(cmd.OutOrStdout(), resp, func(out io.Writer) error {
					return printSend(out, resp)
				})
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mimetype", "", "audio MIME type (defaults to a guess from the file extension)")
	cmd.Flags().BoolVar(&asBase64, "base64", false, "send as a base64 JSON body instead of a multipart upload")
	return cmd
}

func waitForStatus(ctx context.Context, cli *relaydclient.Client, want string, timeout time.Duration) (*api.SessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := cli.Status(ctx)
		if err != nil {
			return nil, err
		}
		if st.Status == want {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("session still %s after %s", st.Status, timeout)
		case <-ticker.C:
		}
	}
}

// parseSince accepts a duration relative to now, unix seconds or RFC3339.
func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs < 0 {
			return time.Time{}, fmt.Errorf("--since must not be negative")
		}
		return time.Unix(secs, 0), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since duration must not be negative")
		}
		return now.Add(-d), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q (use a duration, unix seconds or RFC3339)", raw)
}

func writeQRFile(path, dataURL string) error {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURL, prefix) {
		return fmt.Errorf("unexpected QR payload format")
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, prefix))
	if err != nil {
		return fmt.Errorf("decode QR: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write QR: %w", err)
	}
	return nil
}

func printSession(out io.Writer, st *api.SessionResponse) error {
	fmt.Fprintf(out, "status: %s\n", st.Status)
	if st.Connecting {
		fmt.Fprintln(out, "connecting: true")
	}
	if st.Me != "" {
		fmt.Fprintf(out, "me: %s\n", st.Me)
	}
	if st.Error != "" {
		fmt.Fprintf(out, "error: %s\n", st.Error)
	}
	if st.Message != "" {
		fmt.Fprintf(out, "message: %s\n", st.Message)
	}
	if st.UpdatedAt > 0 {
		fmt.Fprintf(out, "updated: %s\n", formatTime(st.UpdatedAt))
	}
	if st.QR != "" {
		_, err := fmt.Fprintf(out, "qr: %s\n", st.QR)
		return err
	}
	return nil
}

func printMessages(out io.Writer, msgs []api.Message) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFROM\tTIME\tTYPE\tBODY")
	for _, m := range msgs {
		body := m.Text
		if m.Type == "audio" {
			body = fmt.Sprintf("%s %d bytes", m.MimeType, m.Size)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.From, formatTime(m.Timestamp), m.Type, body)
	}
	return tw.Flush()
}

func printSend(out io.Writer, resp *api.SendResponse) error {
	_, err := fmt.Fprintf(out, "sent %s to %s\n", resp.MessageID, resp.To)
	return err
}
