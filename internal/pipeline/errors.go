package pipeline

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrorKind classifies a pipeline error for retry, circuit-breaker, and
// escalation decisions. Classification happens once, where the error is
// produced; everything downstream checks the kind, never the cause chain.
type ErrorKind string

// Error kinds.
const (
	// KindTransient covers timeouts, connection resets, and HTTP 5xx.
	KindTransient ErrorKind = "transient"
	// KindRateLimited marks a rejection by the remote source (HTTP 429).
	KindRateLimited ErrorKind = "rate_limited"
	// KindContent marks malformed or unexpected content, including HTTP
	// 4xx other than 404. Never retried.
	KindContent ErrorKind = "content"
	// KindNotFound is not a failure: the item completes with no result.
	KindNotFound ErrorKind = "not_found"
	// KindTimeout marks an Ask that gave up waiting for a reply.
	KindTimeout ErrorKind = "timeout"
	// KindCircuitOpen marks a call rejected by an open circuit breaker.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindExhausted marks a retry policy that ran out of attempts.
	KindExhausted ErrorKind = "exhausted"
	// KindIllegalTransition marks a rejected pipeline state command.
	KindIllegalTransition ErrorKind = "illegal_transition"
	// KindFatal halts the whole pipeline.
	KindFatal ErrorKind = "fatal"
)

// Error is the structured error value carried on every ProcessingError
// event. Kind and Recoverable drive all control flow; the remaining
// fields give the coordinator enough context for retry scheduling.
type Error struct {
	Kind        ErrorKind
	Recoverable bool
	Origin      string
	ItemID      string
	URL         string
	Attempts    int
	Message     string
	Err         error
}

// NewError builds an Error of the given kind with recoverability derived
// from the kind's default.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{
		Kind:        kind,
		Recoverable: kindRecoverable(kind),
		Message:     msg,
	}
}

// WrapError wraps err as an Error of the given kind.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{
		Kind:        kind,
		Recoverable: kindRecoverable(kind),
		Message:     msg,
		Err:         err,
	}
}

func kindRecoverable(kind ErrorKind) bool {
	switch kind {
	case KindTransient, KindRateLimited, KindTimeout, KindCircuitOpen:
		return true
	default:
		return false
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithItem returns a copy annotated with item context.
func (e *Error) WithItem(itemID, url string) *Error {
	cp := *e
	cp.ItemID = itemID
	cp.URL = url
	return &cp
}

// WithOrigin returns a copy annotated with the emitting actor's name.
func (e *Error) WithOrigin(origin string) *Error {
	cp := *e
	cp.Origin = origin
	return &cp
}

// KindOf extracts the ErrorKind from err, or KindContent when err carries
// no pipeline classification.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindContent
}

// IsRecoverable reports whether err should be retried or merely counted.
func IsRecoverable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Recoverable
	}
	return false
}

// IsFatal reports whether err must halt the pipeline.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// ClassifyStatus maps an HTTP status code to an error kind. 2xx maps to
// the zero kind meaning "no error".
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindTransient
	default:
		return KindContent
	}
}

// ClassifyFetch converts a fetch-layer failure into a structured Error.
// Network timeouts and resets are transient; everything else is content.
func ClassifyFetch(url string, err error) *Error {
	kind := KindContent
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = KindTransient
	} else if errors.Is(err, syscall.ECONNRESET) || isTemporaryNetErr(err) {
		kind = KindTransient
	}
	e := WrapError(kind, "fetch failed", err)
	e.URL = url
	return e
}

func isTemporaryNetErr(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
