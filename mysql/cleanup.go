package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/mailout"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "mailout:cleanup:"
)

// CleanupOptions defines how terminal outbox rows are removed.
type CleanupOptions struct {
	// Before removes rows that reached a terminal status before this
	// timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
	// IncludeFailed removes failed rows in addition to sent and cancelled.
	IncludeFailed bool
}

// CleanupResult reports how many rows were removed.
type CleanupResult struct {
	Sent      int64
	Cancelled int64
	Failed    int64
}

// CleanupMaintainerConfig controls periodic cleanup of terminal rows.
type CleanupMaintainerConfig struct {
	// Prefix names the mailout tables, as in Config.Prefix.
	Prefix string
	// Retention removes rows older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// IncludeFailed removes failed rows in addition to sent and cancelled.
	IncludeFailed bool
	// LockName is the advisory lock name. Defaults to mailout:cleanup:<prefix>.
	LockName string
	// Clock overrides the time source (useful for tests).
	Clock mailout.Clock
	// Logger receives warnings about cleanup failures.
	Logger mailout.Logger
}

// CleanupMaintainer periodically deletes terminal outbox rows and their log
// rows, guarded by a MySQL advisory lock so only one instance runs at a time.
type CleanupMaintainer struct {
	store *Store
	cfg   CleanupMaintainerConfig
}

// Cleanup removes terminal rows older than opts.Before together with their
// audit log rows.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	remaining := limit
	sent, err := s.cleanupByStatus(ctx, mailout.StatusSent, opts.Before, remaining)
	if err != nil {
		return CleanupResult{}, err
	}
	remaining -= int(sent)

	var cancelled int64
	if remaining > 0 {
		cancelled, err = s.cleanupByStatus(ctx, mailout.StatusCancelled, opts.Before, remaining)
		if err != nil {
			return CleanupResult{}, err
		}
		remaining -= int(cancelled)
	}

	var failed int64
	if opts.IncludeFailed && remaining > 0 {
		failed, err = s.cleanupByStatus(ctx, mailout.StatusFailed, opts.Before, remaining)
		if err != nil {
			return CleanupResult{}, err
		}
	}

	return CleanupResult{Sent: sent, Cancelled: cancelled, Failed: failed}, nil
}

// NewCleanupMaintainer creates a cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = mailout.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = mailout.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	store, err := NewStore(db, WithPrefix(cfg.Prefix), WithClock(cfg.Clock))
	if err != nil {
		return nil, err
	}
	cfg.Prefix = store.cfg.Prefix
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + cfg.Prefix
	}

	return &CleanupMaintainer{store: store, cfg: cfg}, nil
}

// Run periodically deletes old terminal rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Ensure(ctx); err != nil {
		m.cfg.Logger.Warn("mailout cleanup failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Ensure(ctx); err != nil {
				m.cfg.Logger.Warn("mailout cleanup failed", "err", err)
			}
		}
	}
}

// Ensure executes a single cleanup pass.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.store.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("mailout mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("mailout cleanup lock held by another session")

		return CleanupResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.store.Cleanup(ctx, CleanupOptions{
		Before:        before,
		Limit:         m.cfg.Limit,
		IncludeFailed: m.cfg.IncludeFailed,
	})
}

func (s *Store) cleanupByStatus(ctx context.Context, status mailout.Status, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	// #nosec G201 -- table names are internal and sanitized.
	deleteLogs := fmt.Sprintf(
		"DELETE l FROM %s AS l JOIN ("+
			"SELECT id FROM %s WHERE status = ? AND updated_at <= ? ORDER BY id LIMIT ?"+
			") AS o ON o.id = l.message_id",
		s.tables.log,
		s.tables.outbox,
	)
	if _, err := s.db.ExecContext(ctx, deleteLogs, status, before, limit); err != nil {
		return 0, fmt.Errorf("mailout mysql: cleanup log delete failed: %w", err)
	}

	// #nosec G201 -- table names are internal and sanitized.
	deleteMessages := fmt.Sprintf(
		"DELETE FROM %s WHERE status = ? AND updated_at <= ? ORDER BY id LIMIT ?",
		s.tables.outbox,
	)
	res, err := s.db.ExecContext(ctx, deleteMessages, status, before, limit)
	if err != nil {
		return 0, fmt.Errorf("mailout mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mailout mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("mailout mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("mailout cleanup release lock failed", "err", err)
	}
}
