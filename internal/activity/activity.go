// Package activity publishes relay outcomes (files uploaded, notes created,
// channels archived) to NATS so other services can follow what the bot
// mirrored into the CRM.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Kind identifies what the bot did.
type Kind string

const (
	// FileRelayed means a Slack file was uploaded to a deal.
	FileRelayed Kind = "file_relayed"

	// NoteRelayed means a Slack message was written to a deal as a note.
	NoteRelayed Kind = "note_relayed"

	// ChannelArchived means a deal channel was archived from Slack.
	ChannelArchived Kind = "channel_archived"
)

// DefaultSubject is the NATS subject events are published on.
const DefaultSubject = "dealrelay.activity"

// Event is the JSON payload published for each relay outcome.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	DealID    string    `json:"deal_id,omitempty"`
	ChannelID string    `json:"channel_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives relay outcomes.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event. Used when NATS is not configured.
type Nop struct{}

// Publish implements Sink.
func (Nop) Publish(context.Context, Event) error { return nil }

// Config holds configuration for the NATS publisher.
type Config struct {
	// NatsURL is the NATS server URL (e.g., "nats://host:4222").
	NatsURL string

	// NatsToken is the auth token for NATS (optional).
	NatsToken string

	// Subject overrides DefaultSubject.
	Subject string
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subj string, data []byte) error
	Close()
}

// NATSPublisher publishes events as JSON on a NATS subject.
type NATSPublisher struct {
	conn    conn
	subject string
	logger  *slog.Logger
	now     func() time.Time
}

// Connect dials NATS and returns a publisher. The connection reconnects on
// its own; callers must Close it on shutdown.
func Connect(cfg Config, logger *slog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("dealrelay"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.NatsToken != "" {
		opts = append(opts, nats.Token(cfg.NatsToken))
	}

	nc, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("NATS connect: %w", err)
	}
	return newPublisher(nc, cfg.Subject, logger), nil
}

func newPublisher(c conn, subject string, logger *slog.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{
		conn:    c,
		subject: subject,
		logger:  logger,
		now:     time.Now,
	}
}

// Publish stamps the event with an id and time (when unset) and publishes it.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.logger.Debug("published activity event", "subject", p.subject, "kind", ev.Kind, "id", ev.ID)
	return nil
}

// Close closes the underlying NATS connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

var (
	_ Sink = Nop{}
	_ Sink = (*NATSPublisher)(nil)
)
