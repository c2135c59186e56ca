// Package events publishes audit outcomes to NATS for downstream consumers
// (dashboards, ticketing). Publication is optional; the pipeline works with
// the noop publisher when events are disabled.
package events

import (
	"context"
	"time"
)

// DocumentAuditedEvent is emitted once per completed document job.
type DocumentAuditedEvent struct {
	RunID       string         `json:"run_id"`
	Path        string         `json:"path"`
	Outcome     string         `json:"outcome"`
	Stage       string         `json:"stage"`
	LinkCount   int            `json:"link_count"`
	Counts      map[string]int `json:"counts,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
	Duration    time.Duration  `json:"duration_ns"`
	CompletedAt time.Time      `json:"completed_at"`
}

// LinkIssueEvent is emitted for each not-found, expired, or erroring link.
type LinkIssueEvent struct {
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	ElementID string    `json:"element_id"`
	LookupKey string    `json:"lookup_key"`
	Address   string    `json:"address,omitempty"`
	Display   string    `json:"display,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	SeenAt    time.Time `json:"seen_at"`
}

// Publisher abstracts event emission so the pipeline does not depend on a
// concrete transport.
type Publisher interface {
	PublishDocumentAudited(ctx context.Context, ev *DocumentAuditedEvent) error
	PublishLinkIssue(ctx context.Context, ev *LinkIssueEvent) error
	Close() error
}

// NoopPublisher drops all events. Default when events are disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishDocumentAudited(context.Context, *DocumentAuditedEvent) error {
	return nil
}
func (NoopPublisher) PublishLinkIssue(context.Context, *LinkIssueEvent) error { return nil }
func (NoopPublisher) Close() error                                            { return nil }
