package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoonsoo-han/autotrader/internal/holiday"
)

func TestStore_ReplaceAndListHolidays(t *testing.T) {
	d, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewStore(d)
	ctx := context.Background()

	year := time.Now().Year() + 50 // keep clear of any real seeded data
	holidays := []holiday.Holiday{
		{Date: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC), Name: "New Year's Day"},
		{Date: time.Date(year, 12, 25, 0, 0, 0, 0, time.UTC), Name: "Christmas"},
	}
	require.NoError(t, store.ReplaceHolidays(ctx, year, holidays))

	got, err := store.ListHolidays(ctx, year)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "New Year's Day", got[0].Name)

	require.NoError(t, store.ReplaceHolidays(ctx, year, holidays[:1]))
	got, err = store.ListHolidays(ctx, year)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
