package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind classifies gateway failures independently of the provider.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnconfigured means no credential is stored for the provider.
	KindUnconfigured
	// KindAuth means the provider rejected the credential (401/403).
	KindAuth
	// KindNotFound covers missing repositories, paths, branches and owner mismatches.
	KindNotFound
	// KindRateLimited means the provider signalled a rate limit.
	KindRateLimited
	// KindNetwork covers timeouts, transport failures and unreadable responses.
	KindNetwork
	// KindInvalid means the caller supplied malformed input.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindUnconfigured:
		return "unconfigured"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not found"
	case KindRateLimited:
		return "rate limited"
	case KindNetwork:
		return "network"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Sentinel values for errors.Is; they match any *Error of the same Kind.
var (
	ErrUnconfigured = &Error{Kind: KindUnconfigured}
	ErrAuth         = &Error{Kind: KindAuth}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrRateLimited  = &Error{Kind: KindRateLimited}
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrInvalid      = &Error{Kind: KindInvalid}
)

// Error is the typed failure returned by adapters, the registry and the gateway.
//
// Error() never includes Err's text: provider error bodies and request URLs
// stay out of user-facing messages and logs. Err is kept for errors.As.
type Error struct {
	Kind     Kind
	Provider Provider
	Op       string
	// Message is a human-readable detail safe to show to callers.
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	switch {
	case e.Provider != "" && e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Provider == "" && t.Message == "" && t.Kind == e.Kind
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is worth retrying (Network or RateLimited).
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindNetwork || k == KindRateLimited
}

func newError(kind Kind, p Provider, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Provider: p, Op: op, Message: msg, Err: cause}
}

func unconfigured(p Provider, op string) *Error {
	return newError(KindUnconfigured, p, op, "no credential configured", nil)
}

// statusKind maps an HTTP status to a Kind. ok is false for 2xx/3xx.
func statusKind(status int) (Kind, bool) {
	switch {
	case status < 400:
		return KindUnknown, false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth, true
	case status == http.StatusNotFound:
		return KindNotFound, true
	case status == http.StatusTooManyRequests:
		return KindRateLimited, true
	case status >= 500:
		return KindNetwork, true
	default:
		return KindInvalid, true
	}
}

// fromStatus builds an *Error for a non-successful HTTP status.
func fromStatus(p Provider, op string, status int, cause error) *Error {
	kind, _ := statusKind(status)
	msg := fmt.Sprintf("%s (HTTP %d)", kind, status)
	return newError(kind, p, op, msg, cause)
}

// classifyTransport converts transport-level and decoding failures.
func classifyTransport(p Provider, op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindNetwork, p, op, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return newError(KindNetwork, p, op, "request canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(KindNetwork, p, op, "request timed out", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return newError(KindNetwork, p, op, "transport failure", err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return newError(KindNetwork, p, op, "malformed provider response", err)
	}
	return newError(KindNetwork, p, op, "request failed", err)
}
