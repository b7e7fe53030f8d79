// Package calendar provides a reference ports.TradingCalendar: a weekday
// calendar with an explicit holiday set and configurable session times.
// Real deployments substitute a calendar backed by an external holiday
// feed; the engine only depends on the ports.TradingCalendar interface.
package calendar

import (
	"sort"
	"time"

	"github.com/alejandrodnm/backalpha/internal/ports"
)

// Simple is a Mon-Fri calendar with a fixed open/close time-of-day and an
// explicit set of holiday dates (compared at day granularity, in the
// calendar's own Location).
type Simple struct {
	Location  *time.Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
	holidays  map[string]bool
	// earlyCloses maps "YYYY-MM-DD" to an early close time-of-day.
	earlyCloses map[string]time.Time
}

// NewSimple creates a Simple calendar with standard 9:30-16:00 session
// times in loc (defaults to UTC if nil).
func NewSimple(loc *time.Location, holidays []time.Time) *Simple {
	if loc == nil {
		loc = time.UTC
	}
	c := &Simple{
		Location:    loc,
		OpenHour:    9,
		OpenMin:     30,
		CloseHour:   16,
		CloseMin:    0,
		holidays:    make(map[string]bool),
		earlyCloses: make(map[string]time.Time),
	}
	for _, h := range holidays {
		c.holidays[dateKey(h)] = true
	}
	return c
}

// SetEarlyClose marks date as an early-close session ending at close
//.
func (c *Simple) SetEarlyClose(date time.Time, close time.Time) {
	c.earlyCloses[dateKey(date)] = close
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// IsTradingDay reports whether date is a weekday and not a holiday.
func (c *Simple) IsTradingDay(date time.Time) bool {
	d := date.In(c.Location)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[dateKey(d)]
}

// SessionTimes returns the open/close instants for date, or false if it
// is not a trading day.
func (c *Simple) SessionTimes(date time.Time) (ports.SessionTimes, bool) {
	if !c.IsTradingDay(date) {
		return ports.SessionTimes{}, false
	}
	d := date.In(c.Location)
	open := time.Date(d.Year(), d.Month(), d.Day(), c.OpenHour, c.OpenMin, 0, 0, c.Location)
	close := time.Date(d.Year(), d.Month(), d.Day(), c.CloseHour, c.CloseMin, 0, 0, c.Location)
	if early, ok := c.earlyCloses[dateKey(d)]; ok {
		close = early
	}
	return ports.SessionTimes{Open: open, Close: close}, true
}

// NextTradingDay returns the first trading day strictly after date.
func (c *Simple) NextTradingDay(date time.Time) time.Time {
	d := date.In(c.Location)
	for {
		d = d.AddDate(0, 0, 1)
		if c.IsTradingDay(d) {
			return d
		}
	}
}

// PreviousTradingDay returns the last trading day strictly before date.
func (c *Simple) PreviousTradingDay(date time.Time) time.Time {
	d := date.In(c.Location)
	for {
		d = d.AddDate(0, 0, -1)
		if c.IsTradingDay(d) {
			return d
		}
	}
}

// TradingDaysBetween returns every trading day in [start, end], sorted
// ascending.
func (c *Simple) TradingDaysBetween(start, end time.Time) []time.Time {
	var days []time.Time
	d := start.In(c.Location)
	for !d.After(end) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
