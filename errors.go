package mailout

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is returned when creating a template whose name exists.
	ErrDuplicateName = errors.New("mailout: template name already exists")
	// ErrTemplateNotFound is returned when no template has the given name.
	ErrTemplateNotFound = errors.New("mailout: template not found")
	// ErrTemplateInactive is returned when enqueuing against an inactive template.
	ErrTemplateInactive = errors.New("mailout: template is inactive")
	// ErrTemplateNameRequired is returned when Template.Name is empty.
	ErrTemplateNameRequired = errors.New("mailout: template name is required")
	// ErrSubjectRequired is returned when Template.Subject is empty.
	ErrSubjectRequired = errors.New("mailout: template subject is required")
	// ErrBodyRequired is returned when a template has neither HTML nor text body.
	ErrBodyRequired = errors.New("mailout: template body is required")
	// ErrMissingVariable is the target matched by MissingVariableError.
	ErrMissingVariable = errors.New("mailout: missing template variable")
	// ErrRecipientRequired is returned when enqueuing without a valid recipient.
	ErrRecipientRequired = errors.New("mailout: recipient address is required")
	// ErrMessageNotFound is returned when no outbox message has the given id.
	ErrMessageNotFound = errors.New("mailout: message not found")
	// ErrInvalidTransition is returned for a status edge outside the transition table.
	ErrInvalidTransition = errors.New("mailout: invalid status transition")
	// ErrNoEligibleMessages signals that no message is currently claimable.
	ErrNoEligibleMessages = errors.New("mailout: no eligible messages")
	// ErrClaimConflict indicates another worker changed the message first.
	// The dispatcher recovers from it internally; it is never surfaced to callers.
	ErrClaimConflict = errors.New("mailout: message claimed by another worker")
	// ErrCancellationConflict is returned when cancelling a message that a
	// worker is processing; the in-flight attempt is allowed to finish.
	ErrCancellationConflict = errors.New("mailout: message is being processed")
	// ErrAlreadyTerminal is returned when cancelling a sent or failed message.
	ErrAlreadyTerminal = errors.New("mailout: message already in a terminal status")
	// ErrMaxAttemptsExceeded records exhaustion of the retry budget.
	ErrMaxAttemptsExceeded = errors.New("mailout: max delivery attempts exceeded")
	// ErrWorkerPanic indicates a dispatcher worker panic.
	ErrWorkerPanic = errors.New("mailout: worker panic")
)

// MissingVariableError reports a template placeholder with no supplied value.
type MissingVariableError struct {
	Key string
}

// Error implements error.
func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingVariable.Error(), e.Key)
}

// Is matches ErrMissingVariable.
func (e *MissingVariableError) Is(target error) bool {
	return target == ErrMissingVariable
}
