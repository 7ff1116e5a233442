// Package apperr defines the error-kind/status/chain type shared by every
// component that can fail in a way a caller or an HTTP client needs to react
// to differently. It generalizes the teacher's pkg/utils.Wrap into a carrier
// that also remembers an HTTP status and a Kind, per spec.md §7.
package apperr

import (
	"net/http"
	"strings"
)

// Kind is the closed set of error categories named in spec.md §7.
type Kind string

const (
	KindMalformed        Kind = "Malformed"
	KindInvalidSignature Kind = "InvalidSignature"
	KindMemoTooLong      Kind = "MemoTooLong"
	KindClockRewound     Kind = "ClockRewound"
	KindEmbargoCurrent   Kind = "EmbargoCurrent"
	KindNotFoundShard    Kind = "NotFoundShard"
	KindNotFoundBucket   Kind = "NotFoundBucket"
	KindRngFailure       Kind = "RngFailure"
	KindInternalBug      Kind = "InternalBug"
)

// statusByKind maps each Kind to its default HTTP status. Handlers may
// override the status for a specific error via WithStatus.
var statusByKind = map[Kind]int{
	KindMalformed:        http.StatusBadRequest,
	KindInvalidSignature: http.StatusBadRequest,
	KindMemoTooLong:      http.StatusBadRequest,
	KindClockRewound:     http.StatusConflict,
	KindEmbargoCurrent:   http.StatusForbidden,
	KindNotFoundShard:    http.StatusNotFound,
	KindNotFoundBucket:   http.StatusNotFound,
	KindRngFailure:       http.StatusInternalServerError,
	KindInternalBug:      http.StatusInternalServerError,
}

// Error is the error chain carrier described in spec.md §9: a Kind, an
// ordered chain of context messages (innermost first), and an HTTP status.
type Error struct {
	Kind    Kind
	Status  int
	chain   []string
	wrapped error
}

// New creates an Error of the given kind with a single leading message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: statusByKind[kind], chain: []string{message}}
}

// Wrap attaches a new outermost context message to err, preserving its Kind
// and Status. If err is not already an *Error, it is classified as
// KindInternalBug. Returns nil if err is nil, matching pkg/utils.Wrap.
func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return &Error{
			Kind:    ae.Kind,
			Status:  ae.Status,
			chain:   append(append([]string{}, ae.chain...), message),
			wrapped: ae.wrapped,
		}
	}
	return &Error{Kind: KindInternalBug, Status: http.StatusInternalServerError, chain: []string{message}, wrapped: err}
}

// WithStatus overrides the default status for this error's kind.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// Error implements the error interface, returning the outermost (last
// appended) message only — the single-line human message spec.md §7
// requires to reach the client.
func (e *Error) Error() string {
	if len(e.chain) == 0 {
		return string(e.Kind)
	}
	return e.chain[len(e.chain)-1]
}

// Chain renders the full context chain, innermost to outermost, for
// server-side logging. It never reaches the client.
func (e *Error) Chain() string {
	parts := append([]string{}, e.chain...)
	if e.wrapped != nil {
		parts = append([]string{e.wrapped.Error()}, parts...)
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	return ok && ae.Kind == kind
}

// Fatal reports whether kind represents a condition spec.md §7 marks fatal
// (RngFailure, InternalBug) rather than recoverable/client-facing.
func (k Kind) Fatal() bool {
	return k == KindRngFailure || k == KindInternalBug
}
