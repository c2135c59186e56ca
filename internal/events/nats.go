package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/linkaudit/internal/config"
)

// NATSPublisher publishes audit events to NATS subjects derived from the
// configured subject prefix: <subject>.document and <subject>.link.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS using the events configuration.
func NewNATSPublisher(cfg config.EventsConfig) (*NATSPublisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("events are disabled")
	}
	conn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "linkaudit.audit"
	}

	slog.Info("NATS publisher initialized", "url", cfg.NATSURL, "subject", subject)
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// PublishDocumentAudited emits a per-document completion event.
func (p *NATSPublisher) PublishDocumentAudited(_ context.Context, ev *DocumentAuditedEvent) error {
	return p.publish(p.subject+".document", ev)
}

// PublishLinkIssue emits a per-link issue event.
func (p *NATSPublisher) PublishLinkIssue(_ context.Context, ev *LinkIssueEvent) error {
	return p.publish(p.subject+".link", ev)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Flush(); err != nil {
		p.conn.Close()
		return err
	}
	p.conn.Close()
	return nil
}
