// Package memory provides an in-process mailout store for tests and
// single-node deployments. All operations take the store mutex, so the claim
// protocol is trivially atomic.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/mailout"
)

const defaultMaxAttempts = 5

// Config defines memory store behavior.
type Config struct {
	Clock mailout.Clock
	// MaxAttempts bounds attempts consumed by expired-lease requeues; it
	// should match the dispatcher's retry policy.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = mailout.SystemClock{}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}

	return c
}

// Option configures the memory store.
type Option func(*Config)

// WithClock sets the store clock.
func WithClock(clock mailout.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithMaxAttempts sets the attempt budget applied to lease-expiry requeues.
func WithMaxAttempts(max int) Option {
	return func(c *Config) {
		c.MaxAttempts = max
	}
}

// Store is an in-memory implementation of mailout.Store.
type Store struct {
	mu        sync.Mutex
	cfg       Config
	templates map[string]mailout.Template
	messages  map[uuid.UUID]*mailout.Message
	order     []uuid.UUID
	logs      map[uuid.UUID][]mailout.LogEntry
}

var _ mailout.Store = (*Store)(nil)
var _ mailout.QueueDepthCounter = (*Store)(nil)

// NewStore constructs an empty memory store.
func NewStore(opts ...Option) *Store {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Store{
		cfg:       cfg.withDefaults(),
		templates: make(map[string]mailout.Template),
		messages:  make(map[uuid.UUID]*mailout.Message),
		logs:      make(map[uuid.UUID][]mailout.LogEntry),
	}
}

// CreateTemplate implements mailout.TemplateStore.
func (s *Store) CreateTemplate(_ context.Context, tpl mailout.Template) (mailout.Template, error) {
	if err := tpl.Validate(); err != nil {
		return mailout.Template{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[tpl.Name]; exists {
		return mailout.Template{}, fmt.Errorf("%w: %s", mailout.ErrDuplicateName, tpl.Name)
	}

	now := s.cfg.Clock.Now()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now
	s.templates[tpl.Name] = tpl

	return tpl, nil
}

// UpdateTemplate implements mailout.TemplateStore.
func (s *Store) UpdateTemplate(_ context.Context, name string, update mailout.TemplateUpdate) (mailout.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, exists := s.templates[name]
	if !exists {
		return mailout.Template{}, fmt.Errorf("%w: %s", mailout.ErrTemplateNotFound, name)
	}

	if update.Subject != nil {
		tpl.Subject = *update.Subject
	}
	if update.HTMLBody != nil {
		tpl.HTMLBody = *update.HTMLBody
	}
	if update.TextBody != nil {
		tpl.TextBody = *update.TextBody
	}
	if update.FromAddress != nil {
		tpl.FromAddress = *update.FromAddress
	}
	if update.FromName != nil {
		tpl.FromName = *update.FromName
	}
	if update.Active != nil {
		tpl.Active = *update.Active
	}

	if err := tpl.Validate(); err != nil {
		return mailout.Template{}, err
	}

	tpl.UpdatedAt = s.cfg.Clock.Now()
	s.templates[name] = tpl

	return tpl, nil
}

// GetTemplate implements mailout.TemplateStore.
func (s *Store) GetTemplate(_ context.Context, name string) (mailout.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, exists := s.templates[name]
	if !exists {
		return mailout.Template{}, fmt.Errorf("%w: %s", mailout.ErrTemplateNotFound, name)
	}

	return tpl, nil
}

// ListTemplates implements mailout.TemplateStore.
func (s *Store) ListTemplates(_ context.Context) ([]mailout.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	templates := make([]mailout.Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		templates = append(templates, tpl)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})

	return templates, nil
}

// Enqueue implements mailout.OutboxStore.
func (s *Store) Enqueue(_ context.Context, msg mailout.Message) (mailout.Message, int, error) {
	if err := msg.Validate(); err != nil {
		return mailout.Message{}, 0, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return mailout.Message{}, 0, fmt.Errorf("mailout memory: generate id failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock.Now()
	msg.ID = id
	msg.Status = mailout.StatusQueued
	msg.Attempts = 0
	msg.Version = 1
	msg.CreatedAt = now
	msg.UpdatedAt = now

	position := 1
	for _, otherID := range s.order {
		other := s.messages[otherID]
		if other.Status == mailout.StatusQueued && messageBefore(other, &msg) {
			position++
		}
	}

	s.messages[id] = &msg
	s.order = append(s.order, id)
	s.appendLog(id, mailout.StatusQueued, "", now)

	return msg, position, nil
}

// Claim implements mailout.OutboxStore. Expired leases are requeued through
// the Retried edge (consuming an attempt) before the oldest eligible message
// is taken.
func (s *Store) Claim(_ context.Context, now time.Time, leaseFor time.Duration) (mailout.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requeueExpired(now)

	for _, id := range s.order {
		msg := s.messages[id]
		if !claimable(msg, now) {
			continue
		}

		msg.Status = mailout.StatusProcessing
		msg.Version++
		msg.LeaseExpiresAt = now.Add(leaseFor)
		msg.UpdatedAt = now
		s.appendLog(id, mailout.StatusProcessing, "", now)

		return *msg, nil
	}

	return mailout.Message{}, mailout.ErrNoEligibleMessages
}

func (s *Store) requeueExpired(now time.Time) {
	for _, id := range s.order {
		msg := s.messages[id]
		if msg.Status != mailout.StatusProcessing || msg.LeaseExpiresAt.After(now) {
			continue
		}

		msg.Attempts++
		msg.Version++
		msg.UpdatedAt = now
		if msg.Attempts >= s.cfg.MaxAttempts {
			msg.Status = mailout.StatusFailed
			s.appendLog(id, mailout.StatusFailed, "lease expired: "+mailout.ErrMaxAttemptsExceeded.Error(), now)

			continue
		}
		msg.Status = mailout.StatusRetried
		msg.NextAttemptAt = now
		s.appendLog(id, mailout.StatusRetried, "lease expired", now)
	}
}

func claimable(msg *mailout.Message, now time.Time) bool {
	switch msg.Status {
	case mailout.StatusQueued:
		return true
	case mailout.StatusRetried:
		return !msg.NextAttemptAt.After(now)
	default:
		return false
	}
}

// MarkSent implements mailout.OutboxStore.
func (s *Store) MarkSent(_ context.Context, id uuid.UUID, version int64, details string) error {
	return s.transition(id, version, mailout.StatusSent, details, nil)
}

// MarkRetried implements mailout.OutboxStore.
func (s *Store) MarkRetried(_ context.Context, id uuid.UUID, version int64, nextAttemptAt time.Time, details string) error {
	return s.transition(id, version, mailout.StatusRetried, details, func(msg *mailout.Message) {
		msg.NextAttemptAt = nextAttemptAt
	})
}

// MarkFailed implements mailout.OutboxStore.
func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, version int64, details string) error {
	return s.transition(id, version, mailout.StatusFailed, details, nil)
}

func (s *Store) transition(id uuid.UUID, version int64, to mailout.Status, details string, apply func(*mailout.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return fmt.Errorf("%w: %s", mailout.ErrMessageNotFound, id)
	}
	if msg.Version != version {
		return fmt.Errorf("%w: version %d is stale", mailout.ErrClaimConflict, version)
	}
	if !mailout.CanTransition(msg.Status, to) {
		return fmt.Errorf("%w: %s -> %s", mailout.ErrInvalidTransition, msg.Status, to)
	}

	now := s.cfg.Clock.Now()
	msg.Status = to
	msg.Attempts++
	msg.Version++
	msg.UpdatedAt = now
	if apply != nil {
		apply(msg)
	}
	s.appendLog(id, to, details, now)

	return nil
}

// Cancel implements mailout.OutboxStore.
func (s *Store) Cancel(_ context.Context, id uuid.UUID, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return fmt.Errorf("%w: %s", mailout.ErrMessageNotFound, id)
	}

	switch msg.Status {
	case mailout.StatusCancelled:
		return nil
	case mailout.StatusSent, mailout.StatusFailed:
		return fmt.Errorf("%w: %s", mailout.ErrAlreadyTerminal, msg.Status)
	case mailout.StatusProcessing:
		return mailout.ErrCancellationConflict
	}

	now := s.cfg.Clock.Now()
	msg.Status = mailout.StatusCancelled
	msg.Version++
	msg.UpdatedAt = now
	s.appendLog(id, mailout.StatusCancelled, details, now)

	return nil
}

// GetMessage implements mailout.OutboxStore.
func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (mailout.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return mailout.Message{}, fmt.Errorf("%w: %s", mailout.ErrMessageNotFound, id)
	}

	return *msg, nil
}

// History implements mailout.OutboxStore.
func (s *Store) History(_ context.Context, id uuid.UUID) ([]mailout.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[id]; !exists {
		return nil, fmt.Errorf("%w: %s", mailout.ErrMessageNotFound, id)
	}

	entries := make([]mailout.LogEntry, len(s.logs[id]))
	copy(entries, s.logs[id])

	return entries, nil
}

// QueueDepth implements mailout.QueueDepthCounter.
func (s *Store) QueueDepth(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	depth := 0
	for _, msg := range s.messages {
		if msg.Status == mailout.StatusQueued || msg.Status == mailout.StatusRetried {
			depth++
		}
	}

	return depth, nil
}

func (s *Store) appendLog(id uuid.UUID, action mailout.Status, details string, now time.Time) {
	entry := mailout.LogEntry{
		ID:        uuid.Must(uuid.NewV7()),
		MessageID: id,
		Action:    action,
		Details:   details,
		CreatedAt: now,
	}
	s.logs[id] = append(s.logs[id], entry)
}

func messageBefore(a, b *mailout.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}

	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}
