package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/velmie/mailout"
)

const (
	maxDetailsLen = 1024
	// claimCandidates bounds how many eligible rows one claim inspects; the
	// conditional update retries against the next candidate on conflict.
	claimCandidates = 8
	// requeueBatch bounds how many expired leases one claim pass requeues.
	requeueBatch = 16

	duplicateEntryErrNo = 1062
)

// Store implements mailout.Store on MySQL using polling + SKIP LOCKED and
// version-guarded conditional updates.
type Store struct {
	db      *sql.DB
	cfg     Config
	tables  tableNames
	queries queries
}

var _ mailout.Store = (*Store)(nil)
var _ mailout.QueueDepthCounter = (*Store)(nil)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	prefix, err := sanitizePrefix(cfg.Prefix)
	if err != nil {
		return nil, err
	}

	tables := newTableNames(prefix)

	return &Store{
		db:      db,
		cfg:     cfg,
		tables:  tables,
		queries: newQueries(tables),
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// CreateTemplate implements mailout.TemplateStore.
func (s *Store) CreateTemplate(ctx context.Context, tpl mailout.Template) (mailout.Template, error) {
	if err := tpl.Validate(); err != nil {
		return mailout.Template{}, err
	}

	now := s.cfg.Clock.Now()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		s.queries.insertTemplate,
		tpl.Name,
		tpl.Subject,
		nullString(tpl.HTMLBody),
		nullString(tpl.TextBody),
		nullString(tpl.FromAddress),
		nullString(tpl.FromName),
		tpl.Active,
		nullString(tpl.CreatedBy),
		now,
		now,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return mailout.Template{}, fmt.Errorf("%w: %s", mailout.ErrDuplicateName, tpl.Name)
		}

		return mailout.Template{}, fmt.Errorf("mailout mysql: insert template failed: %w", err)
	}

	return tpl, nil
}

// UpdateTemplate implements mailout.TemplateStore.
func (s *Store) UpdateTemplate(ctx context.Context, name string, update mailout.TemplateUpdate) (mailout.Template, error) {
	var updated mailout.Template

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		tpl, err := scanTemplate(tx.QueryRowContext(ctx, s.queries.selectTemplateForUpdate, name))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", mailout.ErrTemplateNotFound, name)
		}
		if err != nil {
			return err
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
			return err
		}

		tpl.UpdatedAt = s.cfg.Clock.Now()
		if _, err := tx.ExecContext(
			ctx,
			s.queries.updateTemplate,
			tpl.Subject,
			nullString(tpl.HTMLBody),
			nullString(tpl.TextBody),
			nullString(tpl.FromAddress),
			nullString(tpl.FromName),
			tpl.Active,
			tpl.UpdatedAt,
			name,
		); err != nil {
			return fmt.Errorf("mailout mysql: update template failed: %w", err)
		}

		updated = tpl

		return nil
	})
	if err != nil {
		return mailout.Template{}, err
	}

	return updated, nil
}

// GetTemplate implements mailout.TemplateStore.
func (s *Store) GetTemplate(ctx context.Context, name string) (mailout.Template, error) {
	tpl, err := scanTemplate(s.db.QueryRowContext(ctx, s.queries.selectTemplate, name))
	if errors.Is(err, sql.ErrNoRows) {
		return mailout.Template{}, fmt.Errorf("%w: %s", mailout.ErrTemplateNotFound, name)
	}
	if err != nil {
		return mailout.Template{}, err
	}

	return tpl, nil
}

// ListTemplates implements mailout.TemplateStore.
func (s *Store) ListTemplates(ctx context.Context) ([]mailout.Template, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.listTemplates)
	if err != nil {
		return nil, fmt.Errorf("mailout mysql: list templates failed: %w", err)
	}
	defer rows.Close()

	var templates []mailout.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailout mysql: list rows failed: %w", err)
	}

	return templates, nil
}

// Enqueue implements mailout.OutboxStore. The insert, the queue position
// count, and the audit log row share one transaction.
func (s *Store) Enqueue(ctx context.Context, msg mailout.Message) (mailout.Message, int, error) {
	if err := msg.Validate(); err != nil {
		return mailout.Message{}, 0, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return mailout.Message{}, 0, fmt.Errorf("mailout mysql: generate id failed: %w", err)
	}

	now := s.cfg.Clock.Now()
	msg.ID = id
	msg.Status = mailout.StatusQueued
	msg.Attempts = 0
	msg.Version = 1
	msg.CreatedAt = now
	msg.UpdatedAt = now

	position := 0
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			s.queries.insertMessage,
			id[:],
			msg.TemplateName,
			msg.Recipient,
			msg.Subject,
			nullString(msg.HTMLBody),
			nullString(msg.TextBody),
			nullString(msg.FromAddress),
			nullString(msg.FromName),
			mailout.StatusQueued,
			now,
			now,
		); err != nil {
			return fmt.Errorf("mailout mysql: insert message failed: %w", err)
		}

		var earlier int
		if err := tx.QueryRowContext(
			ctx,
			s.queries.queuePosition,
			mailout.StatusQueued,
			now,
			now,
			id[:],
		).Scan(&earlier); err != nil {
			return fmt.Errorf("mailout mysql: queue position failed: %w", err)
		}
		position = earlier + 1

		return s.appendLog(ctx, tx, id, mailout.StatusQueued, "", now)
	})
	if err != nil {
		return mailout.Message{}, 0, err
	}

	return msg, position, nil
}

// Claim implements mailout.OutboxStore. Expired leases are requeued through
// the Retried edge first; then the oldest eligible candidate is taken with a
// version-guarded update. A lost race moves on to the next candidate and is
// never surfaced.
func (s *Store) Claim(ctx context.Context, now time.Time, leaseFor time.Duration) (mailout.Message, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mailout.Message{}, fmt.Errorf("mailout mysql: begin tx failed: %w", err)
	}

	claimed, err := s.claimInTx(ctx, tx, now, leaseFor)
	if errors.Is(err, mailout.ErrNoEligibleMessages) {
		// Commit regardless so expired-lease requeues are kept.
		if commitErr := tx.Commit(); commitErr != nil {
			return mailout.Message{}, errors.Join(err, fmt.Errorf("mailout mysql: claim commit failed: %w", commitErr))
		}

		return mailout.Message{}, err
	}
	if err != nil {
		return mailout.Message{}, errors.Join(err, rollback(tx))
	}

	if err := tx.Commit(); err != nil {
		return mailout.Message{}, fmt.Errorf("mailout mysql: claim commit failed: %w", err)
	}

	return claimed, nil
}

func (s *Store) claimInTx(ctx context.Context, tx *sql.Tx, now time.Time, leaseFor time.Duration) (mailout.Message, error) {
	if err := s.requeueExpired(ctx, tx, now); err != nil {
		return mailout.Message{}, err
	}

	candidates, err := s.selectCandidates(ctx, tx, now)
	if err != nil {
		return mailout.Message{}, err
	}

	leaseExpiry := now.Add(leaseFor)
	for _, candidate := range candidates {
		res, err := tx.ExecContext(
			ctx,
			s.queries.claimMessage,
			mailout.StatusProcessing,
			leaseExpiry,
			now,
			candidate.ID[:],
			candidate.Version,
		)
		if err != nil {
			return mailout.Message{}, fmt.Errorf("mailout mysql: claim update failed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return mailout.Message{}, fmt.Errorf("mailout mysql: claim rows failed: %w", err)
		}
		if affected == 0 {
			continue
		}

		if err := s.appendLog(ctx, tx, candidate.ID, mailout.StatusProcessing, "", now); err != nil {
			return mailout.Message{}, err
		}

		candidate.Status = mailout.StatusProcessing
		candidate.Version++
		candidate.LeaseExpiresAt = leaseExpiry
		candidate.UpdatedAt = now

		return candidate, nil
	}

	return mailout.Message{}, mailout.ErrNoEligibleMessages
}

func (s *Store) selectCandidates(ctx context.Context, tx *sql.Tx, now time.Time) ([]mailout.Message, error) {
	rows, err := tx.QueryContext(
		ctx,
		s.queries.selectCandidates,
		mailout.StatusQueued,
		mailout.StatusRetried,
		now,
		claimCandidates,
	)
	if err != nil {
		return nil, fmt.Errorf("mailout mysql: select candidates failed: %w", err)
	}
	defer rows.Close()

	var candidates []mailout.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailout mysql: candidate rows failed: %w", err)
	}

	return candidates, nil
}

type expiredLease struct {
	id       uuid.UUID
	attempts int
	version  int64
}

func (s *Store) requeueExpired(ctx context.Context, tx *sql.Tx, now time.Time) error {
	rows, err := tx.QueryContext(ctx, s.queries.selectExpired, mailout.StatusProcessing, now, requeueBatch)
	if err != nil {
		return fmt.Errorf("mailout mysql: select expired failed: %w", err)
	}

	var expired []expiredLease
	for rows.Next() {
		var lease expiredLease
		if err := rows.Scan(&lease.id, &lease.attempts, &lease.version); err != nil {
			rows.Close()

			return fmt.Errorf("mailout mysql: scan expired failed: %w", err)
		}
		expired = append(expired, lease)
	}
	if err := rows.Err(); err != nil {
		rows.Close()

		return fmt.Errorf("mailout mysql: expired rows failed: %w", err)
	}
	rows.Close()

	for _, lease := range expired {
		status := mailout.StatusRetried
		details := "lease expired"
		nextAttempt := any(now)
		if lease.attempts+1 >= s.cfg.MaxAttempts {
			status = mailout.StatusFailed
			details = "lease expired: " + mailout.ErrMaxAttemptsExceeded.Error()
			nextAttempt = nil
		}

		if _, err := tx.ExecContext(
			ctx,
			s.queries.requeueMessage,
			status,
			nextAttempt,
			now,
			lease.id[:],
			lease.version,
		); err != nil {
			return fmt.Errorf("mailout mysql: requeue update failed: %w", err)
		}
		if err := s.appendLog(ctx, tx, lease.id, status, details, now); err != nil {
			return err
		}
	}

	return nil
}

// MarkSent implements mailout.OutboxStore.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, version int64, details string) error {
	return s.mark(ctx, id, version, mailout.StatusSent, nil, details)
}

// MarkRetried implements mailout.OutboxStore.
func (s *Store) MarkRetried(ctx context.Context, id uuid.UUID, version int64, nextAttemptAt time.Time, details string) error {
	return s.mark(ctx, id, version, mailout.StatusRetried, nextAttemptAt, details)
}

// MarkFailed implements mailout.OutboxStore.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, version int64, details string) error {
	return s.mark(ctx, id, version, mailout.StatusFailed, nil, details)
}

func (s *Store) mark(ctx context.Context, id uuid.UUID, version int64, to mailout.Status, nextAttemptAt any, details string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.cfg.Clock.Now()
		res, err := tx.ExecContext(
			ctx,
			s.queries.markMessage,
			to,
			nextAttemptAt,
			now,
			id[:],
			version,
			mailout.StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("mailout mysql: mark update failed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mailout mysql: mark rows failed: %w", err)
		}
		if affected == 0 {
			return s.markConflict(ctx, tx, id, version)
		}

		return s.appendLog(ctx, tx, id, to, details, now)
	})
}

// markConflict distinguishes a missing row from a stale version or a status
// already moved past Processing.
func (s *Store) markConflict(ctx context.Context, tx *sql.Tx, id uuid.UUID, version int64) error {
	var one int
	err := tx.QueryRowContext(ctx, s.queries.messageExists, id[:]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", mailout.ErrMessageNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("mailout mysql: existence check failed: %w", err)
	}

	return fmt.Errorf("%w: version %d is stale", mailout.ErrClaimConflict, version)
}

// Cancel implements mailout.OutboxStore.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID, details string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			status  mailout.Status
			version int64
		)
		err := tx.QueryRowContext(ctx, s.queries.selectForCancel, id[:]).Scan(&status, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", mailout.ErrMessageNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("mailout mysql: cancel select failed: %w", err)
		}

		switch status {
		case mailout.StatusCancelled:
			return nil
		case mailout.StatusSent, mailout.StatusFailed:
			return fmt.Errorf("%w: %s", mailout.ErrAlreadyTerminal, status)
		case mailout.StatusProcessing:
			return mailout.ErrCancellationConflict
		}

		now := s.cfg.Clock.Now()
		if _, err := tx.ExecContext(ctx, s.queries.cancelMessage, mailout.StatusCancelled, now, id[:], version); err != nil {
			return fmt.Errorf("mailout mysql: cancel update failed: %w", err)
		}

		return s.appendLog(ctx, tx, id, mailout.StatusCancelled, details, now)
	})
}

// GetMessage implements mailout.OutboxStore.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (mailout.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, s.queries.selectMessage, id[:]))
	if errors.Is(err, sql.ErrNoRows) {
		return mailout.Message{}, fmt.Errorf("%w: %s", mailout.ErrMessageNotFound, id)
	}
	if err != nil {
		return mailout.Message{}, err
	}

	return msg, nil
}

// History implements mailout.OutboxStore.
func (s *Store) History(ctx context.Context, id uuid.UUID) ([]mailout.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.selectHistory, id[:])
	if err != nil {
		return nil, fmt.Errorf("mailout mysql: select history failed: %w", err)
	}
	defer rows.Close()

	var entries []mailout.LogEntry
	for rows.Next() {
		var (
			entry   mailout.LogEntry
			details sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.MessageID, &entry.Action, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("mailout mysql: scan history failed: %w", err)
		}
		entry.Details = details.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailout mysql: history rows failed: %w", err)
	}

	return entries, nil
}

// QueueDepth implements mailout.QueueDepthCounter.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	if err := s.db.QueryRowContext(ctx, s.queries.countQueue, mailout.StatusQueued, mailout.StatusRetried).Scan(&depth); err != nil {
		return 0, fmt.Errorf("mailout mysql: queue depth failed: %w", err)
	}

	return depth, nil
}

func (s *Store) appendLog(ctx context.Context, tx *sql.Tx, messageID uuid.UUID, action mailout.Status, details string, now time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("mailout mysql: generate log id failed: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		s.queries.insertLog,
		id[:],
		messageID[:],
		action,
		nullString(truncateDetails(details)),
		now,
	); err != nil {
		return fmt.Errorf("mailout mysql: insert log failed: %w", err)
	}

	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("mailout mysql: begin tx failed: %w", err)
	}

	if err := fn(tx); err != nil {
		return errors.Join(err, rollback(tx))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mailout mysql: commit failed: %w", err)
	}

	return nil
}

func rollback(tx *sql.Tx) error {
	err := tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (mailout.Template, error) {
	var (
		tpl         mailout.Template
		htmlBody    sql.NullString
		textBody    sql.NullString
		fromAddress sql.NullString
		fromName    sql.NullString
		createdBy   sql.NullString
	)
	err := row.Scan(
		&tpl.Name,
		&tpl.Subject,
		&htmlBody,
		&textBody,
		&fromAddress,
		&fromName,
		&tpl.Active,
		&createdBy,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return mailout.Template{}, err
	}
	if err != nil {
		return mailout.Template{}, fmt.Errorf("mailout mysql: scan template failed: %w", err)
	}

	tpl.HTMLBody = htmlBody.String
	tpl.TextBody = textBody.String
	tpl.FromAddress = fromAddress.String
	tpl.FromName = fromName.String
	tpl.CreatedBy = createdBy.String

	return tpl, nil
}

func scanMessage(row rowScanner) (mailout.Message, error) {
	var (
		msg         mailout.Message
		htmlBody    sql.NullString
		textBody    sql.NullString
		fromAddress sql.NullString
		fromName    sql.NullString
		nextAttempt sql.NullTime
		leaseExpiry sql.NullTime
	)
	err := row.Scan(
		&msg.ID,
		&msg.TemplateName,
		&msg.Recipient,
		&msg.Subject,
		&htmlBody,
		&textBody,
		&fromAddress,
		&fromName,
		&msg.Status,
		&msg.Attempts,
		&nextAttempt,
		&leaseExpiry,
		&msg.Version,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return mailout.Message{}, err
	}
	if err != nil {
		return mailout.Message{}, fmt.Errorf("mailout mysql: scan message failed: %w", err)
	}

	msg.HTMLBody = htmlBody.String
	msg.TextBody = textBody.String
	msg.FromAddress = fromAddress.String
	msg.FromName = fromName.String
	msg.NextAttemptAt = nextAttempt.Time
	msg.LeaseExpiresAt = leaseExpiry.Time

	return msg, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *gomysql.MySQLError

	return errors.As(err, &mysqlErr) && mysqlErr.Number == duplicateEntryErrNo
}

func truncateDetails(details string) string {
	if utf8.RuneCountInString(details) <= maxDetailsLen {
		return details
	}

	runes := []rune(details)

	return string(runes[:maxDetailsLen])
}
