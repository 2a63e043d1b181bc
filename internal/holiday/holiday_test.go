package holiday

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	byYear map[int][]Holiday
}

func newMemStore() *memStore { return &memStore{byYear: make(map[int][]Holiday)} }

func (m *memStore) ListHolidays(_ context.Context, year int) ([]Holiday, error) {
	return m.byYear[year], nil
}

func (m *memStore) ReplaceHolidays(_ context.Context, year int, holidays []Holiday) error {
	m.byYear[year] = holidays
	return nil
}

func TestIsTradingDayWeekend(t *testing.T) {
	store := newMemStore()
	cal := New(store, nil, zerolog.Nop())
	require.NoError(t, cal.Load(context.Background(), 2026))

	saturday := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	require.False(t, cal.IsTradingDay(saturday))
}

func TestIsTradingDayHoliday(t *testing.T) {
	store := newMemStore()
	newYear := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.byYear[2026] = []Holiday{{Date: newYear, DayOfWeek: newYear.Weekday(), Name: "New Year's Day", Year: 2026}}

	cal := New(store, nil, zerolog.Nop())
	require.NoError(t, cal.Load(context.Background(), 2026))

	require.False(t, cal.IsTradingDay(newYear))

	ordinaryDay := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	require.True(t, cal.IsTradingDay(ordinaryDay))
}
