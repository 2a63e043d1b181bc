package types

import "errors"

// Error kind sentinels (). Every error raised by
// this module's components wraps one of these via fmt.Errorf("...: %w", ...)
// so callers can dispatch with errors.Is rather than string-matching.
var (
	// ErrTransientUpstream covers network failures, timeouts, and 5xx
	// responses. Retried at the ExchangeClient layer with exponential
	// backoff; never surfaces past it on its own.
	ErrTransientUpstream = errors.New("transient upstream error")

	// ErrRateLimitExceeded is raised locally when a rate-limiter wait
	// deadline is missed, or surfaced from the upstream after retries are
	// exhausted.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAuthentication covers an invalid or expired token; the exchange
	// client forces a single refresh and one retry before surfacing this.
	ErrAuthentication = errors.New("authentication error")

	// ErrDomain covers invalid asset ids, insufficient balance, order not
	// found, and similar; never retried, always surfaced to the caller.
	ErrDomain = errors.New("domain error")

	// ErrConfiguration covers missing credentials or missing required
	// session state; fails the operation with a clear reason.
	ErrConfiguration = errors.New("configuration error")

	// ErrBusinessRuleViolation covers e.g. add/reduce without an existing
	// position; fails the operation, never auto-retried.
	ErrBusinessRuleViolation = errors.New("business rule violation")
)

// Code is the stable numeric error code attached to a TradingError, for
// callers (e.g. the HTTP layer) that need a machine-stable identifier
// independent of the English error text.
type Code int

const (
	CodeUnknown Code = iota
	CodeTransientUpstream
	CodeRateLimitExceeded
	CodeAuthentication
	CodeDomain
	CodeConfiguration
	CodeBusinessRuleViolation
)

// TradingError is the interface every sentinel-wrapped error in this module
// satisfies, carrying a stable numeric code alongside the wrapped error.
type TradingError interface {
	error
	Code() Code
	Unwrap() error
}

type tradingError struct {
	code Code
	kind error
	msg  string
}

func (e *tradingError) Error() string {
	if e.msg == "" {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.msg
}

func (e *tradingError) Unwrap() error { return e.kind }
func (e *tradingError) Code() Code    { return e.code }

// NewError constructs a TradingError wrapping one of the sentinel kinds
// above with an additional human-readable detail message.
func NewError(kind error, code Code, msg string) TradingError {
	return &tradingError{code: code, kind: kind, msg: msg}
}

// IsRetryable reports whether err is a kind the ExchangeClient request
// wrapper should retry with backoff: transient upstream or rate-limit
// errors only. Authentication errors get exactly one forced-refresh retry,
// handled separately by the token manager, not by this predicate.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientUpstream) || errors.Is(err, ErrRateLimitExceeded)
}
