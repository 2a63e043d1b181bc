package db

import (
	"context"
	"fmt"

	"github.com/yoonsoo-han/autotrader/internal/holiday"
)

// ListHolidays implements internal/holiday's Store interface.
func (s *Store) ListHolidays(ctx context.Context, year int) ([]holiday.Holiday, error) {
	const query = `SELECT date, name FROM holidays WHERE year = $1 ORDER BY date`
	var out []holiday.Holiday
	err := s.withBreaker(ctx, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, query, year)
		if err != nil {
			return fmt.Errorf("db: list holidays for %d: %w", year, err)
		}
		defer rows.Close()
		for rows.Next() {
			var h holiday.Holiday
			if err := rows.Scan(&h.Date, &h.Name); err != nil {
				return fmt.Errorf("db: scan holiday: %w", err)
			}
			h.DayOfWeek = h.Date.Weekday()
			h.Year = year
			out = append(out, h)
		}
		return rows.Err()
	})
	return out, err
}

// ReplaceHolidays implements internal/holiday's Store interface: it
// atomically swaps year's whole holiday table, so the stored table for a
// year is exactly the list holiday.Calendar.Refresh last fetched, not an
// incremental patch.
func (s *Store) ReplaceHolidays(ctx context.Context, year int, holidays []holiday.Holiday) error {
	return s.withBreaker(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("db: begin replace holidays tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, `DELETE FROM holidays WHERE year = $1`, year); err != nil {
			return fmt.Errorf("db: clear holidays for %d: %w", year, err)
		}
		for _, h := range holidays {
			if _, err := tx.Exec(ctx,
				`INSERT INTO holidays (year, date, name) VALUES ($1, $2, $3)`,
				year, h.Date, h.Name,
			); err != nil {
				return fmt.Errorf("db: insert holiday %s: %w", h.Name, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("db: commit replace holidays tx: %w", err)
		}
		return nil
	})
}
