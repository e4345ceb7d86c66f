// Package mysql provides a MySQL 8.0+ mailout store.
//
// The claim protocol uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED over eligible candidates
//   - a conditional UPDATE guarded by the message version
//   - ORDER BY created_at, id (FIFO fairness, UUID v7 tie-break)
//
// Status transitions and their audit log rows are written in one
// transaction, so the stored status is never ahead of the log. See Schema
// for the DDL and CleanupMaintainer for periodic removal of terminal rows.
package mysql
