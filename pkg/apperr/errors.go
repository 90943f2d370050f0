package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so the caller at the edge (REST handler or
// session turn handler) can decide what the user sees.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindTransient
	KindPermanent
	KindProtocol
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindProtocol:
		return "protocol"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the typed failure propagated by every component.
type Error struct {
	Kind Kind
	Op   string // component operation, e.g. "embedding.embed"
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Configuration(op, msg string) error {
	return newError(KindConfiguration, op, nil, msg)
}

func Transient(op string, err error) error {
	return newError(KindTransient, op, err, "")
}

func Permanent(op string, err error) error {
	return newError(KindPermanent, op, err, "")
}

func Protocol(op, msg string) error {
	return newError(KindProtocol, op, nil, msg)
}

func NotFound(op, msg string) error {
	return newError(KindNotFound, op, nil, msg)
}

// KindOf returns the kind of the outermost typed error in the chain.
// A deadline or cancellation anywhere in the chain counts as transient
// unless a typed error says otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }
func IsNotFound(err error) bool  { return KindOf(err) == KindNotFound }

// Wrap classifies a raw backend error: timeouts become transient, anything
// already typed keeps its kind, and the rest is marked with the fallback kind.
func Wrap(op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(KindTransient, op, err, "")
	}
	return newError(fallback, op, err, "")
}

// FromHTTPStatus maps a provider's non-2xx response to a typed failure.
// Throttling, timeouts and server errors may succeed on retry; other client
// errors will not.
func FromHTTPStatus(op string, status int, body string, sentinel error) error {
	cause := fmt.Errorf("%w: status %d, body: %s", sentinel, status, body)
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500 {
		return newError(KindTransient, op, cause, "")
	}
	return newError(KindPermanent, op, cause, "")
}
