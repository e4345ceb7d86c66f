package mailout

import (
	"time"

	"github.com/google/uuid"
)

// Message is one outbox entry: a single send request with its rendered
// content snapshot. Subject and bodies are captured at enqueue time and never
// re-rendered, so later template edits do not affect queued messages.
type Message struct {
	ID           uuid.UUID
	TemplateName string
	Recipient    string
	Subject      string
	HTMLBody     string
	TextBody     string
	FromAddress  string
	FromName     string
	Status       Status
	// Attempts counts completed delivery attempts. It increments on every
	// Processing -> {Sent, Failed, Retried} edge and never decreases.
	Attempts int
	// NextAttemptAt is the earliest claimable time while Retried.
	NextAttemptAt time.Time
	// LeaseExpiresAt bounds a worker's claim; past it the message is
	// reclaimable.
	LeaseExpiresAt time.Time
	// Version guards conditional updates; every transition increments it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks required message fields before persistence.
func (m Message) Validate() error {
	if m.TemplateName == "" {
		return ErrTemplateNameRequired
	}
	if m.Recipient == "" {
		return ErrRecipientRequired
	}
	if m.Subject == "" {
		return ErrSubjectRequired
	}

	return nil
}

// LogEntry is one immutable audit record of a status transition.
type LogEntry struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	Action    Status
	// Details optionally records context such as a transport error.
	Details   string
	CreatedAt time.Time
}
