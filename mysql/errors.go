package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("mailout mysql: db is required")
	// ErrPrefixRequired is returned when the table prefix is empty.
	ErrPrefixRequired = errors.New("mailout mysql: table prefix is required")
	// ErrInvalidPrefix is returned when the table prefix has disallowed characters.
	ErrInvalidPrefix = errors.New("mailout mysql: invalid table prefix")
	// ErrCleanupBeforeRequired is returned when the cleanup cutoff is missing.
	ErrCleanupBeforeRequired = errors.New("mailout mysql: cleanup before time is required")
	// ErrCleanupLimitInvalid is returned when the cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("mailout mysql: cleanup limit must be non-negative")
	// ErrCleanupRetentionInvalid is returned when cleanup retention is not positive.
	ErrCleanupRetentionInvalid = errors.New("mailout mysql: cleanup retention must be positive")
)
