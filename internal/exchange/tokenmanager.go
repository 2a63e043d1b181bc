package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// token is one issued OAuth access token and its expiry.
type token struct {
	value     string
	expiresAt time.Time
}

func (t token) validAt(now time.Time, safetyMargin time.Duration) bool {
	return t.value != "" && now.Add(safetyMargin).Before(t.expiresAt)
}

// Issuer requests a fresh access token from the upstream's auth endpoint.
// An adapter implements this against its own credential format.
type Issuer interface {
	IssueToken(ctx context.Context) (accessToken string, ttl time.Duration, err error)
}

// TokenManager holds the current access token and refreshes it on demand,
// serializing refreshes behind a mutex so at most one is in flight.
type TokenManager struct {
	issuer       Issuer
	safetyMargin time.Duration
	maxRetries   int
	log          zerolog.Logger

	mu  sync.Mutex
	cur token
}

// NewTokenManager constructs a TokenManager. safetyMargin defaults to 5
// minutes and maxRetries to 3 when zero-valued.
func NewTokenManager(issuer Issuer, safetyMargin time.Duration, maxRetries int, log zerolog.Logger) *TokenManager {
	if safetyMargin <= 0 {
		safetyMargin = 5 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &TokenManager{
		issuer:       issuer,
		safetyMargin: safetyMargin,
		maxRetries:   maxRetries,
		log:          log.With().Str("component", "exchange_token_manager").Logger(),
	}
}

// Token returns a currently-valid access token, issuing a new one if the
// cached token is absent or within the safety margin of expiry.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.cur.validAt(time.Now(), tm.safetyMargin) {
		return tm.cur.value, nil
	}
	return tm.refreshLocked(ctx)
}

// ForceRefresh discards the cached token and issues a new one regardless
// of its remaining validity; used after an authentication error.
func (tm *TokenManager) ForceRefresh(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.cur = token{}
	return tm.refreshLocked(ctx)
}

func (tm *TokenManager) refreshLocked(ctx context.Context) (string, error) {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= tm.maxRetries; attempt++ {
		val, ttl, err := tm.issuer.IssueToken(ctx)
		if err == nil {
			expiresAt := time.Now().Add(ttl)
			if ttl <= 0 {
				// Some issuers (the KR broker among them) omit expires_in
				// and encode the expiry only in the JWT's exp claim.
				if exp, ok := jwtExpiry(val); ok {
					expiresAt = exp
				} else {
					expiresAt = time.Now().Add(time.Hour)
				}
			}
			tm.cur = token{value: val, expiresAt: expiresAt}
			return val, nil
		}
		lastErr = err
		ue := classify(err)
		if ue.Code() != types.CodeRateLimitExceeded || attempt == tm.maxRetries {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		wait := backoff + jitter
		tm.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", wait).Msg("token issuance rate limited, retrying")
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", types.NewError(types.ErrTransientUpstream, types.CodeTransientUpstream, "context cancelled during token refresh")
		}
		backoff *= 2
	}
	return "", types.NewError(types.ErrAuthentication, types.CodeAuthentication, fmt.Sprintf("token issuance failed: %v", lastErr))
}

// jwtExpiry extracts the exp claim from an access token that happens to be
// a JWT. The signature is deliberately not verified -- the upstream issued
// the token to us, we only want its self-declared lifetime.
func jwtExpiry(raw string) (time.Time, bool) {
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
