package mailout

import (
	"context"

	"github.com/google/uuid"
)

// Authorizer decides which actors may manage templates or cancel sends.
type Authorizer interface {
	// CanManageTemplates reports whether actor may create or update templates.
	CanManageTemplates(ctx context.Context, actor string) bool
	// CanCancel reports whether actor may cancel the given message.
	CanCancel(ctx context.Context, actor string, id uuid.UUID) bool
}

// AllowAll authorizes every actor for every operation.
type AllowAll struct{}

// CanManageTemplates implements Authorizer.
func (AllowAll) CanManageTemplates(context.Context, string) bool {
	return true
}

// CanCancel implements Authorizer.
func (AllowAll) CanCancel(context.Context, string, uuid.UUID) bool {
	return true
}
