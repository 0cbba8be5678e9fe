package memory

import "errors"

var (
	// ErrSyntax is returned when an expression or one of its filters does
	// not parse or compile.
	ErrSyntax = errors.New("memory: syntax error")

	// ErrDestroyed is returned by operations on a destroyed query.
	ErrDestroyed = errors.New("memory: query destroyed")

	// ErrInvalidEvent is returned by SendEvent for events that cannot be
	// normalised.
	ErrInvalidEvent = errors.New("memory: invalid event")
)
