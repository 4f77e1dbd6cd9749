package mailer

import (
	"time"

	"github.com/rotisserie/eris"
)

// BusinessHours holds sends made outside a daily window until the window
// next opens.
type BusinessHours struct {
	loc   *time.Location
	start int
	end   int
}

// NewBusinessHours builds a window [start, end) in hours of the named zone.
func NewBusinessHours(zone string, start, end int) (*BusinessHours, error) {
	if start < 0 || end > 24 || start >= end {
		return nil, eris.Errorf("mailer: invalid business hours %d-%d", start, end)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, eris.Wrapf(err, "mailer: load timezone %q", zone)
	}
	return &BusinessHours{loc: loc, start: start, end: end}, nil
}

// Next returns nil when now is inside the window, otherwise the next window
// start in UTC. Weekends are not skipped.
func (b *BusinessHours) Next(now time.Time) *time.Time {
	local := now.In(b.loc)
	if local.Hour() >= b.start && local.Hour() < b.end {
		return nil
	}
	open := time.Date(local.Year(), local.Month(), local.Day(), b.start, 0, 0, 0, b.loc)
	if !local.Before(open) {
		open = time.Date(local.Year(), local.Month(), local.Day()+1, b.start, 0, 0, 0, b.loc)
	}
	at := open.UTC()
	return &at
}
