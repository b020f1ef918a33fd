// Package ledger manages the connection to an EVM ledger node. It validates
// the endpoint's chain identity before exposing it, tracks connection health
// through block notifications, and performs bounded reconnection when the
// transport degrades. Consumers obtain the live backend through the manager
// and must never cache it across ticks.
package ledger
