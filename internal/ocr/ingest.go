package ocr

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Outcome is the terminal state of one ingested callback.
type Outcome string

const (
	// OutcomeCompleted: the result reached the owner's live subscriber.
	OutcomeCompleted Outcome = "completed"
	// OutcomeOrphaned: the token resolved to no deliverable session.
	// The result is logged and discarded; the owner can re-scan.
	OutcomeOrphaned Outcome = "orphaned"
)

// AuditEvent records the fate of one correlation so orphaned results
// are never lost without a trace.
type AuditEvent struct {
	Token     string    `json:"token"`
	Owner     string    `json:"owner,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditPublisher ships audit events out of process. Implementations
// must tolerate being absent; publishing failures never affect the
// callback response.
type AuditPublisher interface {
	PublishReceiptAudit(ctx context.Context, ev AuditEvent) error
}

// Ingestor routes engine callbacks to the session that initiated the
// matching upload: consume the token, look up the subscriber, push the
// result. Exactly-once forwarding is inherited from Tracker.Consume.
type Ingestor struct {
	tracker  *Tracker
	registry *Registry
	audit    AuditPublisher // optional
}

func NewIngestor(tracker *Tracker, registry *Registry, audit AuditPublisher) *Ingestor {
	return &Ingestor{
		tracker:  tracker,
		registry: registry,
		audit:    audit,
	}
}

// HandleCallback drives one inbound callback to a terminal state.
//
// It returns ErrBadCallback for payloads with no token or no result
// body; everything else ends in OutcomeCompleted or OutcomeOrphaned
// with a nil error, so the webhook can answer 200 and the engine never
// retries against an already-consumed token.
func (in *Ingestor) HandleCallback(ctx context.Context, body []byte) (Outcome, error) {
	token, fields, err := parseCallback(body)
	if err != nil {
		slog.WarnContext(ctx, "Rejected malformed engine callback", "error", err)
		return "", err
	}

	owner, err := in.tracker.Consume(token)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			slog.InfoContext(ctx, "Orphaned result: token unknown, expired or already consumed",
				"token", token)
			in.recordAudit(ctx, AuditEvent{Token: token, Outcome: OutcomeOrphaned, Reason: "token not found"})
			return OutcomeOrphaned, nil
		}
		return "", err
	}

	if !in.registry.Deliver(owner, Event{Type: "ocr-result", Data: fields}) {
		slog.InfoContext(ctx, "Orphaned result: owner has no live subscriber",
			"token", token,
			"owner", owner)
		in.recordAudit(ctx, AuditEvent{Token: token, Owner: owner, Outcome: OutcomeOrphaned, Reason: "no live subscriber"})
		return OutcomeOrphaned, nil
	}

	slog.InfoContext(ctx, "Receipt result delivered", "token", token, "owner", owner)
	in.recordAudit(ctx, AuditEvent{Token: token, Owner: owner, Outcome: OutcomeCompleted})
	return OutcomeCompleted, nil
}

func (in *Ingestor) recordAudit(ctx context.Context, ev AuditEvent) {
	if in.audit == nil {
		return
	}
	ev.Timestamp = time.Now()
	if err := in.audit.PublishReceiptAudit(ctx, ev); err != nil {
		slog.WarnContext(ctx, "Failed to publish receipt audit event",
			"token", ev.Token,
			"outcome", ev.Outcome,
			"error", err)
	}
}
