package model

import "errors"

// Error taxonomy shared by every dispatch workflow. Callers match with
// errors.Is; adapters and services wrap these with a package prefix.
var (
	// ErrNotFound is returned when a ticket, agent or derivation id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTicketState is returned when an action is attempted from a
	// status that does not allow it. The caller should refresh and retry by hand.
	ErrInvalidTicketState = errors.New("invalid ticket state")

	// ErrAgentInactive is returned when the target agent is not opted in.
	ErrAgentInactive = errors.New("agent is not active")

	// ErrAgentBusy is returned when an agent already serves a ticket.
	ErrAgentBusy = errors.New("agent is busy")

	// ErrQueueFull is returned when the target's personal queue is at capacity.
	ErrQueueFull = errors.New("personal queue is full")

	// ErrSelfDerivation is returned when a ticket is derived to the agent
	// already serving it.
	ErrSelfDerivation = errors.New("ticket is already served by the target agent")

	// ErrInvalidInput is returned when a request struct fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable marks adapter I/O failures. The caller may retry.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTooFrequent is returned by the repeat guard when the same action is
	// repeated faster than the configured minimum interval.
	ErrTooFrequent = errors.New("action repeated too quickly")
)
