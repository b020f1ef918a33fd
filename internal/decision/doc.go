// Package decision defines the contract between the supervisor and pluggable
// decision providers: the immutable Decision value a provider returns each
// tick, the state view it receives, and the action vocabulary both sides
// agree on.
package decision
