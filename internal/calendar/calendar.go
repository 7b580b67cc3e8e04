// Package calendar classifies dates as business days for due-date offsets.
// The engine consumes the BusinessDays interface; the default implementation
// treats weekends and a configured holiday list as non-working.
package calendar

import (
	"time"

	"caseline/internal/config"
)

type BusinessDays interface {
	IsBusinessDay(date time.Time, region string) bool
}

type Calendar struct {
	region   string
	holidays map[string]struct{}
}

func New(cfg *config.Config) *Calendar {
	c := &Calendar{
		region:   cfg.Calendar.Region,
		holidays: make(map[string]struct{}, len(cfg.Calendar.Holidays)),
	}
	for _, day := range cfg.Calendar.Holidays {
		c.holidays[day] = struct{}{}
	}
	return c
}

// IsBusinessDay reports whether date is a working day in region. The holiday
// list is maintained for the single configured region; an empty region means
// the configured one, and any other region gets the weekday rule alone.
func (c *Calendar) IsBusinessDay(date time.Time, region string) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if region != "" && region != c.region {
		return true
	}
	_, holiday := c.holidays[date.Format("2006-01-02")]
	return !holiday
}

// AddBusinessDays returns the date n business days after start.
func AddBusinessDays(cal BusinessDays, start time.Time, n int, region string) time.Time {
	d := start
	for added := 0; added < n; {
		d = d.AddDate(0, 0, 1)
		if cal.IsBusinessDay(d, region) {
			added++
		}
	}
	return d
}
