// Package mailout provides a templated email delivery pipeline built around
// a durable outbox.
//
// Typical flow:
//  1. Create named templates, then enqueue sends through the Service; each
//     send is rendered once and stored as a queued outbox message together
//     with an audit log row.
//  2. Run a Dispatcher with a storage backend to claim eligible messages,
//     invoke the Transport, and drive status transitions with exponential
//     backoff between attempts.
//  3. Read a message's full transition history via the Service; terminal
//     statuses are Sent, Failed, and Cancelled.
//
// For the MySQL implementation (polling with SKIP LOCKED plus versioned
// claims), see the mysql package. The memory package provides an in-process
// backend for tests and single-node deployments.
package mailout
