package mailout

import (
	"context"
	"errors"
	"net/mail"

	"github.com/google/uuid"
)

// TemplateResponse is the API-facing result of a template operation.
type TemplateResponse struct {
	Success  bool
	Message  string
	Template *Template
}

// EnqueueResponse is the API-facing result of enqueuing a send. EmailID is
// nil when the enqueue was rejected.
type EnqueueResponse struct {
	Success       bool
	Message       string
	EmailID       *uuid.UUID
	QueuePosition int
}

// CancelResponse is the API-facing result of a cancellation request.
type CancelResponse struct {
	Success bool
	Message string
}

// Service is the surface exposed to the API layer. Domain rejections are
// folded into the response's Success and Message fields; only infrastructure
// failures are returned as errors.
type Service struct {
	store  Store
	authz  Authorizer
	logger Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAuthorizer sets the authorization collaborator. The default allows all.
func WithAuthorizer(authz Authorizer) ServiceOption {
	return func(s *Service) {
		s.authz = authz
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService constructs a Service over the given store.
func NewService(store Store, opts ...ServiceOption) *Service {
	if store == nil {
		panic("mailout: nil Store")
	}

	service := &Service{
		store:  store,
		authz:  AllowAll{},
		logger: NopLogger{},
	}
	for _, opt := range opts {
		opt(service)
	}

	return service
}

// CreateTemplate stores a new template on behalf of actor.
func (s *Service) CreateTemplate(ctx context.Context, actor string, tpl Template) (TemplateResponse, error) {
	if !s.authz.CanManageTemplates(ctx, actor) {
		return TemplateResponse{Message: "not authorized to manage templates"}, nil
	}

	if err := tpl.Validate(); err != nil {
		return templateFailure(err)
	}

	// New templates start active; deactivation goes through UpdateTemplate.
	tpl.Active = true
	tpl.CreatedBy = actor
	created, err := s.store.CreateTemplate(ctx, tpl)
	if err != nil {
		return templateFailure(err)
	}

	s.logger.Info("mailout template created", "name", created.Name, "actor", actor)

	return TemplateResponse{Success: true, Message: "template created", Template: &created}, nil
}

// UpdateTemplate applies a partial update to the named template.
func (s *Service) UpdateTemplate(ctx context.Context, actor, name string, update TemplateUpdate) (TemplateResponse, error) {
	if !s.authz.CanManageTemplates(ctx, actor) {
		return TemplateResponse{Message: "not authorized to manage templates"}, nil
	}

	updated, err := s.store.UpdateTemplate(ctx, name, update)
	if err != nil {
		return templateFailure(err)
	}

	s.logger.Info("mailout template updated", "name", name, "actor", actor)

	return TemplateResponse{Success: true, Message: "template updated", Template: &updated}, nil
}

// GetTemplate returns the named template.
func (s *Service) GetTemplate(ctx context.Context, name string) (TemplateResponse, error) {
	tpl, err := s.store.GetTemplate(ctx, name)
	if err != nil {
		return templateFailure(err)
	}

	return TemplateResponse{Success: true, Message: "ok", Template: &tpl}, nil
}

// EnqueueEmail renders the named template with vars and queues one send to
// recipient. Rendering and validation failures abort before anything is
// persisted: no outbox row or log entry exists for a rejected enqueue.
func (s *Service) EnqueueEmail(ctx context.Context, templateName, recipient string, vars map[string]string) (EnqueueResponse, error) {
	if _, err := mail.ParseAddress(recipient); err != nil {
		return enqueueFailure(ErrRecipientRequired)
	}

	tpl, err := s.store.GetTemplate(ctx, templateName)
	if err != nil {
		return enqueueFailure(err)
	}
	if !tpl.Active {
		return enqueueFailure(ErrTemplateInactive)
	}

	content, err := tpl.Render(vars)
	if err != nil {
		return enqueueFailure(err)
	}

	msg := Message{
		TemplateName: tpl.Name,
		Recipient:    recipient,
		Subject:      content.Subject,
		HTMLBody:     content.HTMLBody,
		TextBody:     content.TextBody,
		FromAddress:  tpl.FromAddress,
		FromName:     tpl.FromName,
	}

	stored, position, err := s.store.Enqueue(ctx, msg)
	if err != nil {
		return enqueueFailure(err)
	}

	s.logger.Info("mailout message queued", "id", stored.ID, "template", tpl.Name, "position", position)

	return EnqueueResponse{
		Success:       true,
		Message:       "email queued",
		EmailID:       &stored.ID,
		QueuePosition: position,
	}, nil
}

// CancelEmail withdraws a pending send on behalf of actor. Cancelling an
// already cancelled message succeeds as a no-op; cancelling a sent or failed
// message is rejected as already terminal.
func (s *Service) CancelEmail(ctx context.Context, actor string, id uuid.UUID) (CancelResponse, error) {
	if !s.authz.CanCancel(ctx, actor, id) {
		return CancelResponse{Message: "not authorized to cancel this email"}, nil
	}

	if err := s.store.Cancel(ctx, id, "cancelled by "+actor); err != nil {
		if isDomainError(err) {
			return CancelResponse{Message: err.Error()}, nil
		}

		return CancelResponse{}, err
	}

	s.logger.Info("mailout message cancelled", "id", id, "actor", actor)

	return CancelResponse{Success: true, Message: "email cancelled"}, nil
}

// GetOutboxHistory returns the ordered transition history of one message.
func (s *Service) GetOutboxHistory(ctx context.Context, id uuid.UUID) ([]LogEntry, error) {
	return s.store.History(ctx, id)
}

func templateFailure(err error) (TemplateResponse, error) {
	if isDomainError(err) {
		return TemplateResponse{Message: err.Error()}, nil
	}

	return TemplateResponse{}, err
}

func enqueueFailure(err error) (EnqueueResponse, error) {
	if isDomainError(err) {
		return EnqueueResponse{Message: err.Error()}, nil
	}

	return EnqueueResponse{}, err
}

var domainErrors = []error{
	ErrDuplicateName,
	ErrTemplateNotFound,
	ErrTemplateInactive,
	ErrTemplateNameRequired,
	ErrSubjectRequired,
	ErrBodyRequired,
	ErrMissingVariable,
	ErrRecipientRequired,
	ErrMessageNotFound,
	ErrInvalidTransition,
	ErrCancellationConflict,
	ErrAlreadyTerminal,
}

func isDomainError(err error) bool {
	for _, domain := range domainErrors {
		if errors.Is(err, domain) {
			return true
		}
	}

	return false
}
