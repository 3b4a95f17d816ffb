// Package events fans committed powerup uses out to interested consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/splax/pwnarena/internal/domain"
)

// NATSPublisher publishes use events as JSON on "<subject>.<kind>".
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("pwnarena-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}, nil
}

// Publish implements powerup.Publisher.
func (p *NATSPublisher) Publish(_ context.Context, event domain.UseEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.subject + "." + event.Kind.String(),
		Data:    data,
		Header: nats.Header{
			"Event-ID": []string{event.ID},
			"Team-ID":  []string{event.TeamID},
		},
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to nats: %w", err)
	}
	return nil
}

// Connected reports whether the connection is currently up.
func (p *NATSPublisher) Connected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
