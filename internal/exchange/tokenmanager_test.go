package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingIssuer hands out sequential tokens with a fixed TTL.
type countingIssuer struct {
	mu     sync.Mutex
	issued int
	ttl    time.Duration
	value  string
	err    error
}

func (c *countingIssuer) IssueToken(ctx context.Context) (string, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", 0, c.err
	}
	c.issued++
	v := c.value
	if v == "" {
		v = "tok"
	}
	return v, c.ttl, nil
}

func (c *countingIssuer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issued
}

func TestTokenReusedWhileValid(t *testing.T) {
	issuer := &countingIssuer{ttl: time.Hour}
	tm := NewTokenManager(issuer, 5*time.Minute, 3, zerolog.Nop())

	tok1, err := tm.Token(context.Background())
	require.NoError(t, err)
	tok2, err := tm.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok1, tok2)
	assert.Equal(t, 1, issuer.count(), "a valid token is never re-issued")
}

func TestTokenRefreshedInsideSafetyMargin(t *testing.T) {
	// TTL shorter than the safety margin: every Token() call must refresh.
	issuer := &countingIssuer{ttl: time.Minute}
	tm := NewTokenManager(issuer, 5*time.Minute, 3, zerolog.Nop())

	_, err := tm.Token(context.Background())
	require.NoError(t, err)
	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, issuer.count())
}

func TestForceRefreshDiscardsToken(t *testing.T) {
	issuer := &countingIssuer{ttl: time.Hour}
	tm := NewTokenManager(issuer, 5*time.Minute, 3, zerolog.Nop())

	_, err := tm.Token(context.Background())
	require.NoError(t, err)
	_, err = tm.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, issuer.count())
}

func TestConcurrentTokenCallersConvergeOnOneRefresh(t *testing.T) {
	issuer := &countingIssuer{ttl: time.Hour}
	tm := NewTokenManager(issuer, 5*time.Minute, 3, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tm.Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, issuer.count(), "refresh is serialized behind the mutex")
}

func TestIssuanceFailureSurfacesAsAuthError(t *testing.T) {
	issuer := &countingIssuer{err: errors.New("credentials rejected")}
	tm := NewTokenManager(issuer, 5*time.Minute, 1, zerolog.Nop())

	_, err := tm.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token issuance failed")
}

func TestJWTExpiryFallback(t *testing.T) {
	exp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "autotrader",
		"exp": exp.Unix(),
	}).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)

	got, ok := jwtExpiry(signed)
	require.True(t, ok)
	assert.True(t, got.Equal(exp), "exp claim drives the fallback expiry")

	_, ok = jwtExpiry("not-a-jwt")
	assert.False(t, ok)

	// An issuer that omits expires_in gets its expiry from the JWT.
	issuer := &countingIssuer{ttl: 0, value: signed}
	tm := NewTokenManager(issuer, 5*time.Minute, 3, zerolog.Nop())
	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	tm.mu.Lock()
	assert.True(t, tm.cur.expiresAt.Equal(exp))
	tm.mu.Unlock()
}
