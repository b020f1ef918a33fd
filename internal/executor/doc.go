// Package executor turns abstract transaction requests into signed,
// broadcast, and confirmed ledger transactions, and keeps a bounded
// in-memory history of every completed attempt.
package executor
