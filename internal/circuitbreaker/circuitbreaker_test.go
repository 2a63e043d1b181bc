package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

func TestExecutePassesThroughSuccess(t *testing.T) {
	m := NewPassthroughManager()
	called := false
	err := m.Execute(context.Background(), m.Exchange(), "exchange", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestExecuteReturnsFnError(t *testing.T) {
	m := NewPassthroughManager()
	boom := errors.New("upstream boom")
	err := m.Execute(context.Background(), m.Exchange(), "exchange", func(ctx context.Context) error {
		return boom
	})
	assert.Equal(t, boom, err)
}

func TestBreakerOpensAfterFailureRatio(t *testing.T) {
	settings := &ServiceSettings{
		MinRequests:     3,
		FailureRatio:    0.5,
		OpenTimeout:     time.Hour, // stay open for the rest of the test
		HalfOpenMaxReqs: 1,
		CountInterval:   0,
	}
	m := NewManager(settings, nil, nil)

	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = m.Execute(context.Background(), m.Exchange(), "exchange", func(ctx context.Context) error {
			return boom
		})
	}

	// The breaker is now open: fn must not run and the error is the
	// module's transient-upstream taxonomy, not a gobreaker internal.
	ran := false
	err := m.Execute(context.Background(), m.Exchange(), "exchange", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, ran)
	te, ok := err.(types.TradingError)
	require.True(t, ok)
	assert.Equal(t, types.CodeTransientUpstream, te.Code())
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestServicesFailIndependently(t *testing.T) {
	settings := &ServiceSettings{MinRequests: 2, FailureRatio: 0.5, OpenTimeout: time.Hour, HalfOpenMaxReqs: 1}
	m := NewManager(settings, nil, nil)

	boom := errors.New("down")
	for i := 0; i < 2; i++ {
		_ = m.Execute(context.Background(), m.Exchange(), "exchange", func(ctx context.Context) error {
			return boom
		})
	}

	// Exchange breaker is open; the store breaker still passes traffic.
	err := m.Execute(context.Background(), m.Store(), "store", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}
