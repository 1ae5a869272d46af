package retrieval

import (
	"errors"
	"fmt"
)

// Kind classifies a retrieval error so callers can decide between fixing
// configuration, fixing input, retrying, or degrading.
type Kind string

const (
	// KindInvalidConfiguration means component parameters violate an
	// invariant (e.g. chunker overlap >= target size). Not retryable.
	KindInvalidConfiguration Kind = "invalid_configuration"

	// KindInvalidInput means empty or malformed text was passed to
	// chunking or embedding. Not retryable without fixing the input.
	KindInvalidInput Kind = "invalid_input"

	// KindEmbeddingUnavailable means the embedding backend is unreachable
	// or errored. Retryable; the service degrades to keyword search on the
	// query path rather than failing the request.
	KindEmbeddingUnavailable Kind = "embedding_unavailable"

	// KindDimensionMismatch means a vector's dimension does not match the
	// index configuration — a provider/index version skew. Fatal.
	KindDimensionMismatch Kind = "dimension_mismatch"

	// KindStorage means the persistence layer failed during insert, query,
	// or delete. Retryable at the caller's discretion; transactional
	// guarantees ensure no partial state is left behind.
	KindStorage Kind = "storage"
)

// Error is a structured retrieval error carrying the failure kind, the
// originating component, and a message, so callers can distinguish "nothing
// found" (an empty result) from "subsystem broken" (an Error).
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Component names the originating component ("chunker", "embedder",
	// "index", "service").
	Component string

	// Msg is the human-readable description.
	Msg string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Msg)
}

// Unwrap returns the wrapped cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a structured Error without a cause.
func NewError(kind Kind, component, msg string) *Error {
	return &Error{Kind: kind, Component: component, Msg: msg}
}

// WrapError constructs a structured Error wrapping a cause.
func WrapError(kind Kind, component, msg string, err error) *Error {
	return &Error{Kind: kind, Component: component, Msg: msg, Err: err}
}

// IsKind reports whether err is (or wraps) a retrieval Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}
