// Package agent contains the operational supervisor that drives the
// autonomous trading loop. The supervisor owns the agent state, runs a
// fixed-interval analyze/decide/execute cycle, and publishes an ordered
// lifecycle event stream that external observers consume without being able
// to influence the loop.
package agent
