package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"pkt.systems/relayd"
	"pkt.systems/relayd/internal/auth"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "auth",
		Short:        "Credential and token helpers",
		SilenceUsage: true,
	}
	cmd.AddCommand(newAuthHashPasswordCommand())
	cmd.AddCommand(newAuthTokenCommand())
	return cmd
}

func newAuthHashPasswordCommand() *cobra.Command {
	var username string
	var password string
	var passwordStdin bool
	var cost int
	var usersFile string

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password with bcrypt for the users file",
		Example: `
  # Print a users file entry
  relayd auth hash-password --username operator --password-stdin < secret.txt

  # Add or replace the entry in ~/.relayd/users.yaml
  relayd auth hash-password --username operator --users-file ~/.relayd/users.yaml --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin && password != "" {
				return fmt.Errorf("--password and --password-stdin are mutually exclusive")
			}
			if passwordStdin {
				line, err := readPasswordLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = line
			}
			if password == "" {
				return fmt.Errorf("password required (use --password or --password-stdin)")
			}
			hash, err := auth.HashPassword(password, cost)
			if err != nil {
				return err
			}
			username = strings.TrimSpace(username)
			out := cmd.OutOrStdout()
			if usersFile != "" {
				if username == "" {
					return fmt.Errorf("--users-file requires --username")
				}
				path, err := expandPath(usersFile)
				if err != nil {
					return fmt.Errorf("expand users-file: %w", err)
				}
				replaced, err := upsertUser(path, auth.UserEntry{Username: username, PasswordHash: hash})
				if err != nil {
					return err
				}
				verb := "added"
				if replaced {
					verb = "updated"
				}
				_, err = fmt.Fprintf(out, "%s %s in %s\n", verb, username, path)
				return err
			}
			if username == "" {
				_, err := fmt.Fprintln(out, hash)
				return err
			}
			data, err := yaml.Marshal(auth.UsersDocument{Users: []auth.UserEntry{{Username: username, PasswordHash: hash}}})
			if err != nil {
				return fmt.Errorf("marshal users entry: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}
	defaultUsers := "$HOME/.relayd/" + relayd.DefaultUsersFileName
	if path, err := relayd.DefaultUsersPath(); err == nil {
		defaultUsers = path
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username for the generated users file entry")
	cmd.Flags().StringVar(&password, "password", "", "password to hash (prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	cmd.Flags().StringVar(&usersFile, "users-file", "", fmt.Sprintf("add or replace the entry in this users file (e.g. %s)", defaultUsers))
	return cmd
}

func readPasswordLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// upsertUser writes entry into the users file at path, replacing an account
// with the same username. The file is replaced atomically so a watching
// server never reads a partial document.
func upsertUser(path string, entry auth.UserEntry) (bool, error) {
	var doc auth.UsersDocument
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return false, fmt.Errorf("parse users file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return false, fmt.Errorf("read users file: %w", err)
	}
	replaced := false
	for i := range doc.Users {
		if doc.Users[i].Username == entry.Username {
			doc.Users[i] = entry
			replaced = true
		}
	}
	if !replaced {
		doc.Users = append(doc.Users, entry)
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal users file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return false, fmt.Errorf("create users dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".users-*.yaml")
	if err != nil {
		return false, fmt.Errorf("create temp users file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("write users file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("chmod users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close users file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, fmt.Errorf("replace users file: %w", err)
	}
	return replaced, nil
}

func newAuthTokenCommand() *cobra.Command {
	var subject string
	var secret string
	var ttl time.Duration
	var exportEnv bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token offline from the configured JWT secret",
		Long: `Mint a bearer token without calling the server. The secret, issuer and
TTL come from --secret/--ttl, then RELAYD_JWT_SECRET, RELAYD_JWT_ISSUER and
RELAYD_TOKEN_TTL, then the config file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfigFile(); err != nil {
				return err
			}
			if secret == "" {
				secret = viper.GetString("jwt-secret")
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required (use --secret or RELAYD_JWT_SECRET)")
			}
			issuerName := viper.GetString("jwt-issuer")
			if issuerName == "" {
				issuerName = relayd.DefaultJWTIssuer
			}
			if ttl <= 0 {
				ttl = durationOr(viper.GetDuration("token-ttl"), relayd.DefaultTokenTTL)
			}
			subject = strings.TrimSpace(subject)
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			issuer, err := auth.NewIssuer([]byte(secret), issuerName, ttl, nil)
			if err != nil {
				return err
			}
			token, expires, err := issuer.Issue(subject)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if exportEnv {
				_, err = fmt.Fprintf(out, "export %s=%s\nexport %s=%d\n", envToken, token, envTokenExpires, expires.Unix())
				return err
			}
			_, err = fmt.Fprintln(out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (operator username)")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret (defaults to RELAYD_JWT_SECRET or the config file)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to token-ttl)")
	cmd.Flags().BoolVar(&exportEnv, "export", false, "print shell export statements for RELAYD_TOKEN")
	return cmd
}
