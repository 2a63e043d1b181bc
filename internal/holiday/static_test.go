package holiday

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStaticFetcherBundledTable(t *testing.T) {
	f, err := NewStaticFetcher()
	require.NoError(t, err)

	hs, err := f.FetchHolidays(context.Background(), 2026)
	require.NoError(t, err)
	require.NotEmpty(t, hs)

	byName := map[string]Holiday{}
	for _, h := range hs {
		require.Equal(t, 2026, h.Year)
		require.Equal(t, h.Date.Weekday(), h.DayOfWeek)
		byName[h.Name] = h
	}
	require.Contains(t, byName, "New Year's Day")

	// Uncovered year: empty set, not an error.
	hs, err = f.FetchHolidays(context.Background(), 1999)
	require.NoError(t, err)
	require.Empty(t, hs)
}

func TestCalendarRefreshFromStaticFetcher(t *testing.T) {
	f, err := NewStaticFetcher()
	require.NoError(t, err)

	cal := New(newMemStore(), f, zerolog.Nop())
	require.NoError(t, cal.Refresh(context.Background(), 2026))

	newYear := time.Date(2026, 1, 1, 10, 0, 0, 0, time.Local)
	require.False(t, cal.IsTradingDay(newYear), "bundled holiday must classify as non-trading")

	ordinaryFriday := time.Date(2026, 1, 9, 10, 0, 0, 0, time.Local)
	require.True(t, cal.IsTradingDay(ordinaryFriday))
}
