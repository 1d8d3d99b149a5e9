// Package calendar answers market-holiday questions for the trading
// engines: whether a date is a holiday and which trading day comes next.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"wheelhouse/internal/util"
)

// Calendar reports NYSE market holidays.
type Calendar interface {
	// IsMarketHoliday reports whether date is a weekday with no market
	// session. Weekends are not holidays; they are handled by the
	// next-trading-day arithmetic directly.
	IsMarketHoliday(ctx context.Context, date time.Time) (bool, error)
}

// NextTradingDay returns the first trading day after from: Friday rolls to
// Monday, and a holiday pushes one more day ahead (Friday holidays roll to
// the following Monday).
func NextTradingDay(ctx context.Context, cal Calendar, from time.Time) (time.Time, error) {
	next := hopWeekend(from)
	holiday, err := cal.IsMarketHoliday(ctx, next)
	if err != nil {
		return time.Time{}, err
	}
	if holiday {
		next = hopWeekend(next)
	}
	return next, nil
}

func hopWeekend(t time.Time) time.Time {
	if t.Weekday() == time.Friday {
		return t.AddDate(0, 0, 3)
	}
	return t.AddDate(0, 0, 1)
}

// ---------------------------------------------------------------------------
// Alpaca-backed implementation
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Calendar = (*AlpacaCalendar)(nil)

// AlpacaCalendar answers holiday lookups from the Alpaca trading-calendar
// API and caches sessions per date for the life of the process (one
// decision cycle).
type AlpacaCalendar struct {
	client   *alpaca.Client
	sessions map[string]bool // date string -> market session exists
}

// NewAlpacaCalendar creates a calendar backed by the Alpaca API.
func NewAlpacaCalendar(apiKey, apiSecret, baseURL string) *AlpacaCalendar {
	return &AlpacaCalendar{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		sessions: make(map[string]bool),
	}
}

// IsMarketHoliday reports whether date is a weekday without a market
// session.
func (c *AlpacaCalendar) IsMarketHoliday(ctx context.Context, date time.Time) (bool, error) {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}

	key := date.Format("2006-01-02")
	open, ok := c.sessions[key]
	if !ok {
		// Fetch a two-week window around the date so the same cycle's
		// follow-up lookups (next trading day) hit the cache. The lookup
		// gates the whole cycle, so a transient failure gets retried
		// rather than aborting the run.
		start := date.AddDate(0, 0, -1)
		end := date.AddDate(0, 0, 14)

		var days []alpaca.CalendarDay
		err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
			var err error
			days, err = c.client.GetCalendar(alpaca.GetCalendarRequest{
				Start: start,
				End:   end,
			})
			return err
		})
		if err != nil {
			return false, fmt.Errorf("GetCalendar: %w", err)
		}
		for _, day := range days {
			c.sessions[day.Date] = true
		}
		// Dates in the window absent from the response have no session;
		// cache them too so holiday lookups don't refetch.
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			k := d.Format("2006-01-02")
			if _, known := c.sessions[k]; !known {
				c.sessions[k] = false
			}
		}
		open = c.sessions[key]
	}
	return !open, nil
}

// ---------------------------------------------------------------------------
// Static implementation
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Calendar = (*StaticCalendar)(nil)

// StaticCalendar is a fixed holiday set, used in tests and as an offline
// fallback when no calendar credentials are configured.
type StaticCalendar struct {
	holidays map[string]bool
}

// NewStaticCalendar creates a StaticCalendar from a list of YYYY-MM-DD
// holiday dates.
func NewStaticCalendar(dates ...string) *StaticCalendar {
	h := make(map[string]bool, len(dates))
	for _, d := range dates {
		h[d] = true
	}
	return &StaticCalendar{holidays: h}
}

// IsMarketHoliday reports whether date is in the configured holiday set.
func (c *StaticCalendar) IsMarketHoliday(_ context.Context, date time.Time) (bool, error) {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	return c.holidays[date.Format("2006-01-02")], nil
}
