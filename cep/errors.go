package cep

import "errors"

var (
	// ErrConfig is returned for invalid endpoint configuration, e.g. when
	// neither or both of pattern and query are set.
	ErrConfig = errors.New("cep: invalid configuration")

	// ErrQueryCreation is returned when the engine rejects an expression.
	ErrQueryCreation = errors.New("cep: query creation failed")

	// ErrProtocolMisuse is returned when Detach is called without a matching
	// Attach, or a consumer is disposed twice.
	ErrProtocolMisuse = errors.New("cep: attach/detach protocol misuse")

	// ErrEndpointClosed is returned by Attach after the endpoint was closed.
	ErrEndpointClosed = errors.New("cep: endpoint closed")

	// ErrMalformedEvent is returned when the engine delivers an event that
	// cannot be translated.
	ErrMalformedEvent = errors.New("cep: malformed event")

	// ErrConsumerClosed is returned by Receive after the consumer was closed
	// and its queue drained.
	ErrConsumerClosed = errors.New("cep: consumer closed")

	// ErrRejected is returned by Producer.Send when validation rejects a
	// message.
	ErrRejected = errors.New("cep: message rejected")

	// ErrTeardown wraps errors reported by the engine while stopping or
	// destroying a query.
	ErrTeardown = errors.New("cep: query teardown failed")
)
