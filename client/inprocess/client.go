// Package inprocess runs a relayd server inside the calling process and hands
// back an SDK client wired to it over a private unix socket.
package inprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pkt.systems/relayd"
	"pkt.systems/relayd/client"
)

// Client is a logged in SDK client backed by an embedded server. All SDK
// methods are available through the embedded *client.Client.
type Client struct {
	*client.Client

	server    *relayd.Server
	stop      func(context.Context) error
	cleanup   func()
	closeOnce sync.Once
	closeErr  error
}

// New starts an in-process relayd server on a temporary unix socket and
// returns a client logged in with cfg.AuthUsername/AuthPassword. The returned
// client should be closed when no longer needed to release resources.
// Example:
//
//	ctx := context.Background()
//	cfg := relayd.Config{Protocol: "mem://?autopair=2s", JWTSecret: secret, AuthUsername: "bot", AuthPassword: pw}
//	inproc, err := inprocess.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inproc.Close(ctx)
func New(ctx context.Context, cfg relayd.Config, opts ...relayd.Option) (*Client, error) {
	if cfg.ListenProto == "" {
		cfg.ListenProto = "unix"
	}
	if cfg.ListenProto != "unix" {
		return nil, fmt.Errorf("inprocess: only unix sockets are supported; set ListenProto to 'unix'")
	}
	if cfg.AuthUsername == "" || cfg.AuthPassword == "" {
		return nil, fmt.Errorf("inprocess: AuthUsername and AuthPassword are required to log in")
	}
	cfg.TLSCert, cfg.TLSKey = "", ""
	if ctx == nil {
		ctx = context.Background()
	}

	socketDir, err := os.MkdirTemp("", "relayd-inproc-")
	if err != nil {
		return nil, err
	}
	cleanup := func() { _ = os.RemoveAll(socketDir) }
	if cfg.Listen == "" {
		cfg.Listen = filepath.Join(socketDir, "relayd.sock")
	}

	srv, stop, err := relayd.StartServer(context.Background(), cfg, opts...)
	if err != nil {
		cleanup()
		return nil, err
	}
	cli, err := client.New("unix://" + cfg.Listen)
	if err != nil {
		_ = stop(context.Background())
		cleanup()
		return nil, err
	}
	if _, err := cli.Login(ctx, cfg.AuthUsername, cfg.AuthPassword); err != nil {
		_ = stop(context.Background())
		cleanup()
		return nil, fmt.Errorf("inprocess: login: %w", err)
	}
	return &Client{
		Client:  cli,
		server:  srv,
		stop:    stop,
		cleanup: cleanup,
	}, nil
}

// Server exposes the embedded server.
func (c *Client) Server() *relayd.Server {
	return c.server
}

// Close shuts down the embedded server and releases resources. It is safe
// to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		_ = c.Client.Close()
		if c.stop != nil {
			c.closeErr = c.stop(ctx)
		}
		if c.cleanup != nil {
			c.cleanup()
		}
	})
	return c.closeErr
}
