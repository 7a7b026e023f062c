package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const minutesPerDay = 24 * 60

// Clock is a local time of day in minutes after midnight, from 00:00 to 23:59.
type Clock int

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock parses "HH:MM" or "HH:MM:SS" (seconds must be zero).
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec != 0 {
			return 0, fmt.Errorf("invalid time of day %q", s)
		}
	}
	c := NewClock(h, m)
	if h < 0 || c >= minutesPerDay {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return c, nil
}

// ClockOf returns the wall-clock time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// On anchors c to the calendar day of date, in date's location.
func (c Clock) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, int(c), 0, 0, date.Location())
}

// ISOWeekday maps Monday..Sunday to 1..7.
func ISOWeekday(t time.Time) int16 {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int16(t.Weekday())
}

// WorkingDay is a provider's opening window for one weekday. A missing row
// means the provider is closed that day.
type WorkingDay struct {
	bun.BaseModel `bun:"table:working_days,alias:wd"`

	ProviderID uuid.UUID `bun:"provider_id,pk,type:uuid"`
	DayOfWeek  int16     `bun:"day_of_week,pk"`
	StartTime  Clock     `bun:"start_minute,notnull"`
	EndTime    Clock     `bun:"end_minute,notnull"`
}

func (w WorkingDay) Validate() error {
	if w.DayOfWeek < 1 || w.DayOfWeek > 7 {
		return errors.New("invalid weekday")
	}
	if w.StartTime < 0 || w.EndTime >= minutesPerDay {
		return errors.New("working hours out of range")
	}
	if w.StartTime >= w.EndTime {
		return fmt.Errorf("start must be before end for weekday %d", w.DayOfWeek)
	}
	return nil
}

// Window returns the working window on the calendar day of date.
func (w WorkingDay) Window(date time.Time) Interval {
	return Interval{Start: w.StartTime.On(date), End: w.EndTime.On(date)}
}
