package shared

import "errors"

// Sentinel errors returned synchronously by the engine components.
// Callers match them with errors.Is; expected distributed-systems
// conditions (missed heartbeats, vote timeouts) are state transitions,
// never errors.
var (
	// Registry errors.
	ErrDuplicateAgent    = errors.New("agent already registered")
	ErrUnknownAgent      = errors.New("agent not registered")
	ErrInvalidTransition = errors.New("invalid agent status transition")

	// Task distribution errors.
	ErrUnknownTask    = errors.New("task not found")
	ErrQueueSaturated = errors.New("pending queue is saturated")

	// Consensus errors.
	ErrUnknownProposal  = errors.New("proposal not found or not open")
	ErrProposalResolved = errors.New("proposal already resolved")
	ErrIneligibleVoter  = errors.New("voter is not a live queen")
	ErrDuplicateVote    = errors.New("voter already voted on proposal")
	ErrNoLiveQueens     = errors.New("no live queens")
)
