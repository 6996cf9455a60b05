package hub

import "errors"

var (
	// ErrProtocolViolation covers malformed messages and illegal state transitions.
	// The connection stays open and the sender gets an error reply.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrRoutingMiss is returned when a relay target or camera cannot be resolved.
	ErrRoutingMiss = errors.New("routing miss")

	// ErrCollaboratorFailure wraps inference or persistence failures.
	// These are logged and never reach peer connections.
	ErrCollaboratorFailure = errors.New("collaborator failure")

	// ErrTransportFailure marks a connection that is closed or closing.
	ErrTransportFailure = errors.New("transport failure")
)
