// Package calendar holds the free-time calendar of a listing and the
// interval arithmetic that keeps it consistent as bookings are confirmed.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

const layout = "2006-01-02"

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("range end is before range start")

// Day is an opaque calendar day counted from 1970-01-01. It carries no
// timezone; adding one is always exactly the next calendar day.
type Day int32

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// MustParseDay is ParseDay for constants and tests.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DayOf returns the calendar day of t as seen in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	u := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return Day(u.Unix() / 86400)
}

func (d Day) Time() time.Time {
	return time.Unix(int64(d)*86400, 0).UTC()
}

func (d Day) AddDays(n int) Day { return d + Day(n) }

func (d Day) String() string { return d.Time().Format(layout) }

// Range is an inclusive span of days.
type Range struct {
	Start Day
	End   Day
}

// NewRange validates start <= end.
func NewRange(start, end Day) (Range, error) {
	if end < start {
		return Range{}, fmt.Errorf("%w: %s..%s", ErrInvalidRange, start, end)
	}
	return Range{Start: start, End: end}, nil
}

// ParseRange parses two YYYY-MM-DD strings into a validated range.
func ParseRange(start, end string) (Range, error) {
	s, err := ParseDay(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseDay(end)
	if err != nil {
		return Range{}, err
	}
	return NewRange(s, e)
}

// Days is the number of days covered, both ends included.
func (r Range) Days() int { return int(r.End-r.Start) + 1 }

// Overlaps reports whether r and o share at least one day.
func (r Range) Overlaps(o Range) bool {
	return !(o.Start > r.End || o.End < r.Start)
}

// Covers reports whether r contains all of o.
func (r Range) Covers(o Range) bool {
	return r.Start <= o.Start && r.End >= o.End
}

func (r Range) String() string {
	return r.Start.String() + ".." + r.End.String()
}
