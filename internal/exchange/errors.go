package exchange

import (
	"errors"
	"net/http"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// UpstreamErrorCode is the small closed set of upstream signals the
// request wrapper cares about; a concrete adapter (simulator, broker,
// exchange SDK) classifies its own transport errors into one of these
// before returning, so the wrapper's retry and token-refresh logic never
// needs to know the upstream's wire format.
type UpstreamErrorCode int

const (
	UpstreamOK UpstreamErrorCode = iota
	UpstreamRateLimited
	UpstreamAuthExpired
	UpstreamNetwork
	UpstreamDomain // invalid asset, insufficient balance, order not found, etc.
)

// upstreamError is an adapter-level error carrying an UpstreamErrorCode;
// adapters return this (or an error wrapping it) so classify() can route
// it without string matching.
type upstreamError struct {
	code UpstreamErrorCode
	msg  string
}

func (e *upstreamError) Error() string { return e.msg }

// NewUpstreamError constructs an error an adapter returns to signal which
// retry/refresh path the wrapper should take.
func NewUpstreamError(code UpstreamErrorCode, msg string) error {
	return &upstreamError{code: code, msg: msg}
}

// classify maps an adapter error into this module's stable TradingError
// taxonomy. Errors an adapter didn't tag are treated as domain errors:
// safer to surface than to retry blindly.
func classify(err error) types.TradingError {
	if err == nil {
		return nil
	}
	var ue *upstreamError
	if errors.As(err, &ue) {
		switch ue.code {
		case UpstreamRateLimited:
			return types.NewError(types.ErrRateLimitExceeded, types.CodeRateLimitExceeded, ue.msg)
		case UpstreamAuthExpired:
			return types.NewError(types.ErrAuthentication, types.CodeAuthentication, ue.msg)
		case UpstreamNetwork:
			return types.NewError(types.ErrTransientUpstream, types.CodeTransientUpstream, ue.msg)
		default:
			return types.NewError(types.ErrDomain, types.CodeDomain, ue.msg)
		}
	}
	if te, ok := err.(types.TradingError); ok {
		return te
	}
	return types.NewError(types.ErrDomain, types.CodeDomain, err.Error())
}

// classifyHTTPStatus is a convenience an HTTP-based adapter can use to
// build an UpstreamErrorCode from a response status.
func classifyHTTPStatus(status int) UpstreamErrorCode {
	switch {
	case status == http.StatusTooManyRequests:
		return UpstreamRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return UpstreamAuthExpired
	case status >= 500:
		return UpstreamNetwork
	case status >= 400:
		return UpstreamDomain
	default:
		return UpstreamOK
	}
}
