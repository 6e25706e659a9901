package schedule

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01-02"

// Period is one week of schedule, starting at local midnight of its first day.
type Period struct {
	Start time.Time
}

// WeekOf returns the period containing t in loc, with weeks starting on weekStart.
func WeekOf(t time.Time, loc *time.Location, weekStart time.Weekday) Period {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	back := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return Period{Start: day.AddDate(0, 0, -back)}
}

// ParsePeriod parses a period key (YYYY-MM-DD of the first day).
func ParsePeriod(key string, loc *time.Location) (Period, error) {
	if key == standingKey {
		return Standing, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(periodLayout, key, loc)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: %w", key, err)
	}
	return Period{Start: t}, nil
}

// Standing is the pseudo-period of records not tied to a week, such as
// recurring availability.
var Standing = Period{}

const standingKey = "standing"

// Key is the storage key of the period.
func (p Period) Key() string {
	if p.Start.IsZero() {
		return standingKey
	}
	return p.Start.Format(periodLayout)
}

func (p Period) End() time.Time { return p.Start.AddDate(0, 0, 7) }

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End())
}

func (p Period) Add(weeks int) Period { return Period{Start: p.Start.AddDate(0, 0, 7*weeks)} }

func (p Period) String() string { return p.Key() }

// Window returns the periods from behind weeks before the current week to
// ahead weeks after it, inclusive, in chronological order.
func Window(now time.Time, loc *time.Location, weekStart time.Weekday, behind, ahead int) []Period {
	cur := WeekOf(now, loc, weekStart)
	out := make([]Period, 0, behind+ahead+1)
	for w := -behind; w <= ahead; w++ {
		out = append(out, cur.Add(w))
	}
	return out
}
