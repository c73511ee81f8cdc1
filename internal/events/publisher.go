// Package events publishes download lifecycle transitions to NATS and to an in-process feed.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// Publisher emits committed lifecycle transitions.
type Publisher interface {
	Publish(ctx context.Context, evt domain.DownloadEvent) error
	Close() error
}

// Subject is the NATS subject a transition to status is published on.
func Subject(prefix string, status domain.DownloadStatus) string {
	return prefix + "." + string(status)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, domain.DownloadEvent) error {
	return nil
}

func (Nop) Close() error {
	return nil
}

type msgPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher implements Publisher on a core NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	pub    msgPublisher
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher connects to url. The connection reconnects indefinitely.
func NewNATSPublisher(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("tokgrab"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize nats connection: %w", err)
	}

	p := newPublisher(conn, prefix, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(pub msgPublisher, prefix string, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{pub: pub, prefix: prefix, logger: logger}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, evt domain.DownloadEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	subject := Subject(p.prefix, evt.Status)
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
