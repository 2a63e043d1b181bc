package holiday

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed krx_holidays.yaml
var bundledHolidays []byte

// staticTable mirrors the bundled YAML layout: year -> date/name rows.
type staticTable struct {
	Years map[int][]staticHoliday `yaml:"years"`
}

type staticHoliday struct {
	Date string `yaml:"date"` // 2006-01-02
	Name string `yaml:"name"`
}

// StaticFetcher serves the KRX holiday table bundled with the binary. It
// backs deployments with no upstream calendar feed configured, and acts as
// the fallback when the live feed is unreachable: the bundled table is
// refreshed at release time, so it is always a little stale but never
// empty.
type StaticFetcher struct {
	table staticTable
}

// NewStaticFetcher parses the bundled table once up front so a malformed
// bundle fails at startup, not on the first nightly refresh.
func NewStaticFetcher() (*StaticFetcher, error) {
	var table staticTable
	if err := yaml.Unmarshal(bundledHolidays, &table); err != nil {
		return nil, fmt.Errorf("holiday: parse bundled table: %w", err)
	}
	return &StaticFetcher{table: table}, nil
}

// FetchHolidays implements Fetcher from the bundled table. A year the
// bundle doesn't cover returns an empty set, not an error -- weekends
// still classify correctly and the caller may layer a live feed on top.
func (f *StaticFetcher) FetchHolidays(ctx context.Context, year int) ([]Holiday, error) {
	rows := f.table.Years[year]
	out := make([]Holiday, 0, len(rows))
	for _, r := range rows {
		d, err := time.ParseInLocation("2006-01-02", r.Date, time.Local)
		if err != nil {
			return nil, fmt.Errorf("holiday: bundled entry %q for %d: %w", r.Date, year, err)
		}
		out = append(out, Holiday{Date: d, DayOfWeek: d.Weekday(), Name: r.Name, Year: year})
	}
	return out, nil
}

// Years lists the years the bundled table covers.
func (f *StaticFetcher) Years() []int {
	out := make([]int, 0, len(f.table.Years))
	for y := range f.table.Years {
		out = append(out, y)
	}
	return out
}
