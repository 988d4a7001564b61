// Package pipeline drives each fetched message through extraction,
// dedup, persistence, invite building and dispatch.
package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/ignite/mailcal/internal/event"
	"github.com/ignite/mailcal/internal/mailbox"
	"github.com/ignite/mailcal/internal/store"
)

// Extractor converts an email body into an event record. It never
// fails: extraction errors come back as fallback records.
type Extractor interface {
	Extract(ctx context.Context, emailBody string) event.Record
}

// EventStore persists records. Persist returns (nil, nil) for a
// duplicate; any error it returns corrupts shared batch state and is
// treated as fatal.
type EventStore interface {
	Persist(ctx context.Context, mailboxAddress string, rec event.Record) (*store.StoredEvent, error)
}

// InviteBuilder renders a record as a calendar artifact.
type InviteBuilder interface {
	Build(rec event.Record) ([]byte, error)
}

// Dispatcher sends the artifact back to the original sender.
type Dispatcher interface {
	SendInvite(ctx context.Context, recipient string, rec event.Record, ics []byte) error
}

// Outcome is the terminal state of one message.
type Outcome string

const (
	OutcomeInviteSent       Outcome = "invite_sent"
	OutcomeInviteFailed     Outcome = "invite_failed"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
)

// Summary counts terminal states across a batch run.
type Summary struct {
	Processed int
	Sent      int
	Skipped   int
	Failed    int
}

// Pipeline is the per-batch orchestrator. Messages are processed
// strictly sequentially, in the order the mailbox search returned them.
type Pipeline struct {
	extractor      Extractor
	store          EventStore
	builder        InviteBuilder
	dispatcher     Dispatcher
	mailboxAddress string
}

// New wires the orchestrator. All collaborators are explicit
// dependencies; the pipeline holds no global session state.
func New(extractor Extractor, st EventStore, builder InviteBuilder, dispatcher Dispatcher, mailboxAddress string) *Pipeline {
	return &Pipeline{
		extractor:      extractor,
		store:          st,
		builder:        builder,
		dispatcher:     dispatcher,
		mailboxAddress: mailboxAddress,
	}
}

// Run processes one batch of fetched messages. A storage fault aborts
// the remaining batch and is returned; build and dispatch failures are
// logged and isolate to the current message.
func (p *Pipeline) Run(ctx context.Context, msgs []mailbox.Message) (Summary, error) {
	var sum Summary
	for i, msg := range msgs {
		outcome, err := p.process(ctx, msg)
		if err != nil {
			return sum, fmt.Errorf("message %d of %d: %w", i+1, len(msgs), err)
		}
		sum.Processed++
		switch outcome {
		case OutcomeInviteSent:
			sum.Sent++
		case OutcomeSkippedDuplicate:
			sum.Skipped++
		case OutcomeInviteFailed:
			sum.Failed++
		}
	}
	log.Printf("[Pipeline] Batch complete: %d processed, %d sent, %d duplicates, %d failed",
		sum.Processed, sum.Sent, sum.Skipped, sum.Failed)
	return sum, nil
}

// process drives one message to a terminal state. The returned error is
// non-nil only for storage faults, which the caller treats as fatal.
func (p *Pipeline) process(ctx context.Context, msg mailbox.Message) (Outcome, error) {
	log.Printf("[Pipeline] Processing message from %s", msg.Sender)

	// Extraction always yields a record; failures became fallbacks.
	rec := p.extractor.Extract(ctx, msg.Body)

	stored, err := p.store.Persist(ctx, p.mailboxAddress, rec)
	if err != nil {
		return "", fmt.Errorf("persist event %q: %w", rec.Name, err)
	}
	if stored == nil {
		log.Printf("[Pipeline] Duplicate event %q, no invite sent", rec.Name)
		return OutcomeSkippedDuplicate, nil
	}
	log.Printf("[Pipeline] Persisted event %q as %s", rec.Name, stored.UniqueID)

	if msg.Sender == "" {
		log.Printf("[Pipeline] No sender address for event %q, cannot dispatch invite", rec.Name)
		return OutcomeInviteFailed, nil
	}

	ics, err := p.builder.Build(rec)
	if err != nil {
		log.Printf("[Pipeline] Invite build failed for %q: %v", rec.Name, err)
		return OutcomeInviteFailed, nil
	}

	if err := p.dispatcher.SendInvite(ctx, msg.Sender, rec, ics); err != nil {
		log.Printf("[Pipeline] Invite dispatch to %s failed: %v", msg.Sender, err)
		return OutcomeInviteFailed, nil
	}

	return OutcomeInviteSent, nil
}
