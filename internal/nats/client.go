package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/jarvis/internal/config"
)

const reconnectWait = 2 * time.Second

// Client is the service's single NATS connection and its JetStream view.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient connects to cfg.URL and declares the jarvis streams. The
// connection keeps reconnecting for the life of the process; session events
// published while it is down fail and are dropped by the caller.
func NewClient(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("jarvis"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("event bus disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("event bus reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	for _, sc := range Streams() {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			conn.Close()
			return nil, fmt.Errorf("declaring stream %s: %w", sc.Name, err)
		}
	}

	slog.Info("connected to event bus", "url", conn.ConnectedUrlRedacted())
	return &Client{conn: conn, js: js}, nil
}

func (c *Client) JetStream() jetstream.JetStream { return c.js }

// Healthy backs the readiness check.
func (c *Client) Healthy() bool { return c.conn.IsConnected() }

// Close flushes pending publishes, then closes the connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		slog.Warn("draining event bus connection", "error", err)
	}
}
