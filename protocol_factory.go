package relayd

import (
	"fmt"
	"net/url"
	"strconv"

	"pkt.systems/pslog"

	"pkt.systems/relayd/internal/clock"
	"pkt.systems/relayd/internal/protocol"
	"pkt.systems/relayd/internal/protocol/memproto"
	"pkt.systems/relayd/internal/protocol/wsbridge"
)

// openProtocol builds the collaborator named by cfg.Protocol.
func openProtocol(cfg Config, logger pslog.Logger, clk clock.Clock) (protocol.Client, error) {
	u, err := url.Parse(cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("parse protocol URL: %w", err)
	}
	switch u.Scheme {
	case "mem":
		if u.Query().Get("buffer") == "" && cfg.EventBuffer > 0 {
			q := u.Query()
			q.Set("buffer", strconv.Itoa(cfg.EventBuffer))
			u.RawQuery = q.Encode()
		}
		return memproto.FromURL(u, logger, clk)
	case "ws", "wss":
		return wsbridge.New(wsbridge.Options{
			URL:          cfg.Protocol,
			Token:        cfg.ProtocolToken,
			DialTimeout:  cfg.InitTimeout,
			WriteTimeout: cfg.SendTimeout,
			EventBuffer:  cfg.EventBuffer,
			Clock:        clk,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("protocol: unsupported scheme %q", u.Scheme)
	}
}
