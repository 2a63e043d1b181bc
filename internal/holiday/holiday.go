// Package holiday maintains the KRX trading-day calendar: it fetches and
// persists the holiday set and classifies any date as trading or
// non-trading. The interesting part, kept here, is the periodic background
// refresh and the day-of-week-aware classification; the actual upstream
// fetch is behind a small Fetcher interface so transport details stay out
// of this package.
package holiday

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Holiday is one persisted record: date -> {day-of-week, name, year}.
type Holiday struct {
	Date      time.Time
	DayOfWeek time.Weekday
	Name      string
	Year      int
}

// Store is the narrow persistence surface HolidayCalendar needs; satisfied
// by db.Store in production and an in-memory fake in tests.
type Store interface {
	ListHolidays(ctx context.Context, year int) ([]Holiday, error)
	ReplaceHolidays(ctx context.Context, year int, holidays []Holiday) error
}

// Fetcher retrieves the authoritative holiday table for a year from
// whatever upstream source the deployment configures (KRX open API, a
// vendor calendar feed, or the bundled StaticFetcher table).
type Fetcher interface {
	FetchHolidays(ctx context.Context, year int) ([]Holiday, error)
}

// Calendar answers trading-day questions from an in-memory set refreshed
// periodically from Store/Fetcher.
type Calendar struct {
	store   Store
	fetcher Fetcher
	log     zerolog.Logger

	mu    sync.RWMutex
	dates map[string]Holiday // key: "2006-01-02"

	cronSched *cron.Cron

	// OpenHour/OpenMinute and CloseHour/CloseMinute bound the KRX regular
	// session in local time (default 09:00-15:30). Consulted only by
	// IsMarketOpen; IsTradingDay stays date-only.
	OpenHour, OpenMinute   int
	CloseHour, CloseMinute int
}

// New constructs a Calendar. fetcher may be nil if the deployment only
// ever reads a pre-populated Store.
func New(store Store, fetcher Fetcher, log zerolog.Logger) *Calendar {
	return &Calendar{
		store:       store,
		fetcher:     fetcher,
		log:         log.With().Str("component", "holiday").Logger(),
		dates:       make(map[string]Holiday),
		OpenHour:    9,
		OpenMinute:  0,
		CloseHour:   15,
		CloseMinute: 30,
	}
}

func key(t time.Time) string { return t.Format("2006-01-02") }

// Load populates the in-memory set from Store for the given years.
func (c *Calendar) Load(ctx context.Context, years ...int) error {
	fresh := make(map[string]Holiday)
	for _, y := range years {
		hs, err := c.store.ListHolidays(ctx, y)
		if err != nil {
			return err
		}
		for _, h := range hs {
			fresh[key(h.Date)] = h
		}
	}
	c.mu.Lock()
	for k, v := range fresh {
		c.dates[k] = v
	}
	c.mu.Unlock()
	return nil
}

// Refresh fetches the holiday table for year from the Fetcher, persists it,
// and merges the fetched holidays into the in-memory set.
func (c *Calendar) Refresh(ctx context.Context, year int) error {
	if c.fetcher == nil {
		return nil
	}
	holidays, err := c.fetcher.FetchHolidays(ctx, year)
	if err != nil {
		c.log.Warn().Err(err).Int("year", year).Msg("holiday refresh fetch failed")
		return err
	}
	if err := c.store.ReplaceHolidays(ctx, year, holidays); err != nil {
		return err
	}
	// Merge the fetched set directly rather than re-reading Store: a
	// deployment without persistence still gets a populated calendar.
	c.mu.Lock()
	for _, h := range holidays {
		c.dates[key(h.Date)] = h
	}
	c.mu.Unlock()
	return nil
}

// IsTradingDay reports whether t is a trading day: not a weekend and not
// in the holiday set.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	c.mu.RLock()
	_, isHoliday := c.dates[key(t)]
	c.mu.RUnlock()
	return !isHoliday
}

// IsMarketOpen reports whether t falls within the KRX regular session on a
// trading day: IsTradingDay(t) and the time-of-day lies in
// [open, close). Used to gate order submission for KRW-stock
// assets; crypto assets trade around the clock and never consult this.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	open := time.Date(t.Year(), t.Month(), t.Day(), c.OpenHour, c.OpenMinute, 0, 0, t.Location())
	close := time.Date(t.Year(), t.Month(), t.Day(), c.CloseHour, c.CloseMinute, 0, 0, t.Location())
	return !t.Before(open) && t.Before(close)
}

// StartDailyRefresh schedules a daily refresh of the current and next
// year's holiday table at the given cron spec (default midnight local
// time). Returns a stop function.
func (c *Calendar) StartDailyRefresh(ctx context.Context, spec string) (func(), error) {
	if spec == "" {
		spec = "0 0 * * *"
	}
	sched := cron.New()
	_, err := sched.AddFunc(spec, func() {
		now := time.Now()
		if err := c.Refresh(ctx, now.Year()); err != nil {
			c.log.Warn().Err(err).Msg("scheduled holiday refresh failed")
		}
		if err := c.Refresh(ctx, now.Year()+1); err != nil {
			c.log.Debug().Err(err).Msg("scheduled next-year holiday refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}
	c.cronSched = sched
	sched.Start()
	return func() { sched.Stop() }, nil
}
