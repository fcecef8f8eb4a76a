package federation

import "errors"

// Federation error taxonomy. Handlers map these onto HTTP statuses at the
// inbox boundary; nothing below this package panics across it.
var (
	// ErrUnauthorized means the caller's node credentials were missing or
	// wrong. The object is discarded and never retried from our side.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNodeDisabled means the node exists in the registry but is blocked.
	ErrNodeDisabled = errors.New("node disabled")

	// ErrBadRequest means the payload was malformed. Discarded, not retried.
	ErrBadRequest = errors.New("bad request")

	// ErrNotFound means an FQID did not resolve to a known entity.
	ErrNotFound = errors.New("not found")

	// ErrDependencyUnresolved means the object references another object that
	// is not known locally and could not be fetched. Retryable by the sender.
	ErrDependencyUnresolved = errors.New("dependency unresolved")

	// ErrDeliveryTimeout and ErrDeliveryRefused classify outbound failures.
	ErrDeliveryTimeout = errors.New("delivery timeout")
	ErrDeliveryRefused = errors.New("delivery refused")

	// ErrInconsistent marks a follow edge that the peer node does not agree
	// with. Surfaced for manual resolution, never auto-healed.
	ErrInconsistent = errors.New("inconsistent follow state")
)
