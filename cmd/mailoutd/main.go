// Command mailoutd runs the mailout dispatcher against a MySQL store and the
// ZeptoMail transport.
//
// Configuration comes from the environment (a .env file is loaded when
// present):
//
//	MAILOUT_DSN            MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true (required)
//	MAILOUT_TABLE_PREFIX   table prefix (default "email")
//	MAILOUT_WORKERS        dispatcher workers (default 4)
//	MAILOUT_MAX_ATTEMPTS   delivery attempt budget (default 5)
//	MAILOUT_BASE_DELAY     first retry delay (default 30s)
//	MAILOUT_MAX_DELAY      retry delay cap (default 30m)
//	MAILOUT_LEASE          claim lease duration (default 1m)
//	MAILOUT_SEND_TIMEOUT   per-attempt transport timeout (default 30s)
//	MAILOUT_RETENTION      terminal row retention before cleanup (default 720h)
//	ZEPTO_API_KEY          ZeptoMail authorization key (required)
//	ZEPTO_FROM_EMAIL       default sender address (required)
//	ZEPTO_FROM_NAME        default sender display name
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/velmie/mailout"
	mailoutmysql "github.com/velmie/mailout/mysql"
	"github.com/velmie/mailout/zeptomail"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mailoutd:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapAdapter{sugar: zapLogger.Sugar()}

	dsn := os.Getenv("MAILOUT_DSN")
	if dsn == "" {
		return errors.New("MAILOUT_DSN is required")
	}
	apiKey := os.Getenv("ZEPTO_API_KEY")
	fromEmail := os.Getenv("ZEPTO_FROM_EMAIL")
	if apiKey == "" || fromEmail == "" {
		return errors.New("ZEPTO_API_KEY and ZEPTO_FROM_EMAIL are required")
	}

	workers := envInt("MAILOUT_WORKERS", 4)
	maxAttempts := envInt("MAILOUT_MAX_ATTEMPTS", 5)
	baseDelay := envDuration("MAILOUT_BASE_DELAY", 30*time.Second)
	maxDelay := envDuration("MAILOUT_MAX_DELAY", 30*time.Minute)
	lease := envDuration("MAILOUT_LEASE", time.Minute)
	sendTimeout := envDuration("MAILOUT_SEND_TIMEOUT", 30*time.Second)
	retention := envDuration("MAILOUT_RETENTION", 30*24*time.Hour)
	prefix := os.Getenv("MAILOUT_TABLE_PREFIX")
	if prefix == "" {
		prefix = "email"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	if err := ensureSchema(ctx, db, prefix); err != nil {
		return err
	}

	store, err := mailoutmysql.NewStore(db,
		mailoutmysql.WithPrefix(prefix),
		mailoutmysql.WithMaxAttempts(maxAttempts),
	)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	transport, err := zeptomail.NewClient(apiKey,
		zeptomail.WithDefaultFrom(fromEmail, os.Getenv("ZEPTO_FROM_NAME")),
	)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}

	dispatcher := mailout.NewDispatcher(store, transport,
		mailout.WithWorkers(workers),
		mailout.WithLeaseDuration(lease),
		mailout.WithSendTimeout(sendTimeout),
		mailout.WithRetryPolicy(mailout.RetryPolicy{
			BaseDelay:   baseDelay,
			MaxDelay:    maxDelay,
			MaxAttempts: maxAttempts,
			Jitter:      baseDelay / 2,
			Rand:        rand.Float64,
		}),
		mailout.WithLogger(logger),
	)

	cleanup, err := mailoutmysql.NewCleanupMaintainer(db, mailoutmysql.CleanupMaintainerConfig{
		Prefix:        prefix,
		Retention:     retention,
		IncludeFailed: true,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("init cleanup: %w", err)
	}
	go func() {
		if err := cleanup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("cleanup stopped", "err", err)
		}
	}()

	logger.Info("mailoutd started", "workers", workers, "prefix", prefix)
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("mailoutd stopped")

	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB, prefix string) error {
	statements, err := mailoutmysql.Schema(prefix)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}

	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}

	return value
}

// zapAdapter exposes a zap sugared logger through the mailout.Logger
// interface.
type zapAdapter struct {
	sugar *zap.SugaredLogger
}

func (l zapAdapter) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l zapAdapter) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l zapAdapter) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l zapAdapter) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
