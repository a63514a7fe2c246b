package engine

import (
	"errors"
	"fmt"
)

// Kind is the stable error classification surfaced to the transport layer.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindNotFound             Kind = "not_found"
	KindContended            Kind = "contended"
	KindEmbedderUnavailable  Kind = "embedder_unavailable"
	KindExtractorUnavailable Kind = "extractor_unavailable"
	KindVectorUnavailable    Kind = "vector_store_unavailable"
	KindGraphUnavailable     Kind = "graph_store_unavailable"
	KindLockUnavailable      Kind = "lock_manager_unavailable"
	KindTimeout              Kind = "timeout"
	KindConflictUnresolved   Kind = "conflict_unresolved"
	KindInternal             Kind = "internal"
)

// Error carries a stable kind, a short message, and correlation IDs when
// known. Transport layers map the kind to their status codes.
type Error struct {
	Kind      Kind
	Msg       string
	ID        string
	ScopeHash string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retriable reports whether the transport may retry with backoff.
func (e *Error) Retriable() bool {
	switch e.Kind {
	case KindContended, KindTimeout,
		KindEmbedderUnavailable, KindExtractorUnavailable,
		KindVectorUnavailable, KindGraphUnavailable, KindLockUnavailable:
		return true
	}
	return false
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
