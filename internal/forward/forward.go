// Package forward fans accepted events out to downstream consumers.
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vincentbai/webtics/internal/logging"
	"github.com/vincentbai/webtics/internal/models"
)

// HeaderEventID carries the collector-assigned id on forwarded messages.
const HeaderEventID = "Webtics-Event-Id"

type Forwarder interface {
	Forward(ctx context.Context, id string, event models.Event) error
	Close() error
}

// Envelope is the message body published for each stored event.
type Envelope struct {
	ID    string       `json:"id"`
	Event models.Event `json:"event"`
}

// NoOp discards everything.
type NoOp struct{}

func (NoOp) Forward(context.Context, string, models.Event) error { return nil }
func (NoOp) Close() error                                        { return nil }

type Config struct {
	URL           string
	Subject       string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// publisher is the part of *nats.Conn the forwarder needs.
type publisher interface {
	PublishMsg(msg *nats.Msg) error
	Drain() error
}

// NATSForwarder publishes each event as one message on a fixed subject.
type NATSForwarder struct {
	pub     publisher
	subject string
}

func NewNATSForwarder(cfg Config, logger *logging.Logger) (*NATSForwarder, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "webtics-collector"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newForwarder(conn, cfg.Subject), nil
}

func newForwarder(pub publisher, subject string) *NATSForwarder {
	return &NATSForwarder{pub: pub, subject: subject}
}

func (f *NATSForwarder) Forward(ctx context.Context, id string, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Props == nil {
		event.Props = map[string]any{}
	}
	data, err := json.Marshal(Envelope{ID: id, Event: event})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := nats.NewMsg(f.subject)
	msg.Data = data
	msg.Header.Set(HeaderEventID, id)
	if err := f.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish to %s: %w", f.subject, err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (f *NATSForwarder) Close() error {
	return f.pub.Drain()
}
