package mailout

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TemplateStore persists named templates.
type TemplateStore interface {
	// CreateTemplate stores a new template. It fails with ErrDuplicateName
	// if the name is taken.
	CreateTemplate(ctx context.Context, tpl Template) (Template, error)
	// UpdateTemplate applies a partial update to the named template. It
	// fails with ErrTemplateNotFound if the template does not exist.
	UpdateTemplate(ctx context.Context, name string, update TemplateUpdate) (Template, error)
	// GetTemplate returns the named template or ErrTemplateNotFound.
	GetTemplate(ctx context.Context, name string) (Template, error)
	// ListTemplates returns all templates ordered by name.
	ListTemplates(ctx context.Context) ([]Template, error)
}

// OutboxStore persists outbox messages and their audit log. Every transition
// method writes the message update and its log row atomically: the stored
// status is never ahead of the log.
type OutboxStore interface {
	// Enqueue inserts msg in StatusQueued, logs the transition, and returns
	// the stored message plus its 1-based position among queued messages
	// ordered by creation time (ties broken by id).
	Enqueue(ctx context.Context, msg Message) (Message, int, error)

	// Claim atomically takes ownership of the oldest eligible message and
	// transitions it to StatusProcessing with a lease expiring at
	// now+leaseFor. Eligible are queued messages, retried messages whose
	// NextAttemptAt has elapsed, and processing messages whose lease has
	// expired (requeued through the Retried edge first, consuming an
	// attempt). Returns ErrNoEligibleMessages when nothing is claimable.
	// At most one caller ever claims a given message version.
	Claim(ctx context.Context, now time.Time, leaseFor time.Duration) (Message, error)

	// MarkSent finalizes a successful attempt. The update is conditional on
	// version; a mismatch returns ErrClaimConflict.
	MarkSent(ctx context.Context, id uuid.UUID, version int64, details string) error
	// MarkRetried schedules another attempt at nextAttemptAt, incrementing
	// the attempt counter. Conditional on version.
	MarkRetried(ctx context.Context, id uuid.UUID, version int64, nextAttemptAt time.Time, details string) error
	// MarkFailed fails the message terminally, incrementing the attempt
	// counter. Conditional on version.
	MarkFailed(ctx context.Context, id uuid.UUID, version int64, details string) error

	// Cancel withdraws a queued or retried message. It returns
	// ErrCancellationConflict while a worker holds the lease,
	// ErrAlreadyTerminal for sent or failed messages, and nil (no-op) for
	// messages already cancelled.
	Cancel(ctx context.Context, id uuid.UUID, details string) error

	// GetMessage returns the message or ErrMessageNotFound.
	GetMessage(ctx context.Context, id uuid.UUID) (Message, error)
	// History returns the message's log rows ordered by creation time.
	History(ctx context.Context, id uuid.UUID) ([]LogEntry, error)
}

// Store combines template and outbox persistence.
type Store interface {
	TemplateStore
	OutboxStore
}

// QueueDepthCounter optionally reports the number of claimable messages.
type QueueDepthCounter interface {
	// QueueDepth returns the current number of queued and retried messages.
	QueueDepth(ctx context.Context) (int, error)
}
