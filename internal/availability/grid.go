package availability

import (
	"errors"
	"fmt"
	"time"

	"calgrid/internal/interval"
	"calgrid/internal/tz"
)

var ErrInvalidWorkDay = errors.New("availability: invalid work day")

// WorkDay is the rendered window of a business day, e.g. 8:00-20:00 in
// 30-minute slots. Hours are business-zone wall-clock hours.
type WorkDay struct {
	StartHour   int `yaml:"start_hour" json:"start_hour"`
	EndHour     int `yaml:"end_hour" json:"end_hour"`
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`
}

// DefaultWorkDay is 8:00-20:00 in 30-minute slots.
func DefaultWorkDay() WorkDay {
	return WorkDay{StartHour: 8, EndHour: 20, SlotMinutes: 30}
}

func (w WorkDay) Validate() error {
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return fmt.Errorf("%w: hours %d-%d", ErrInvalidWorkDay, w.StartHour, w.EndHour)
	}
	if w.SlotMinutes <= 0 || w.Minutes()%w.SlotMinutes != 0 {
		return fmt.Errorf("%w: %d-minute slots do not divide %d minutes", ErrInvalidWorkDay, w.SlotMinutes, w.Minutes())
	}
	return nil
}

// Minutes is the length of the window.
func (w WorkDay) Minutes() int {
	return (w.EndHour - w.StartHour) * 60
}

// TimeSlot is one subdivision of the work day. It is derived from WorkDay and
// carries no date; pair it with a Day to get an instant range.
type TimeSlot struct {
	Index              int `json:"index"`
	StartOffsetMinutes int `json:"start_offset_minutes"`
	DurationMinutes    int `json:"duration_minutes"`
}

// Slots generates the grid of w. w must be valid.
func (w WorkDay) Slots() []TimeSlot {
	n := w.Minutes() / w.SlotMinutes
	out := make([]TimeSlot, n)
	for i := range out {
		out[i] = TimeSlot{Index: i, StartOffsetMinutes: i * w.SlotMinutes, DurationMinutes: w.SlotMinutes}
	}
	return out
}

// Day is a calendar date in the business zone.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

const dayLayout = "2006-01-02"

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("availability: invalid day %q: want YYYY-MM-DD", s)
	}
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DayOf returns the business day containing t.
func DayOf(conv tz.Converter, t time.Time) Day {
	lt := conv.ToBusiness(t)
	return Day{Year: lt.Year, Month: lt.Month, Day: lt.Day}
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// AddDays returns the day n days later, normalizing month/year overflow.
func (d Day) AddDays(n int) Day {
	t := time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC)
	return Day{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Day) at(conv tz.Converter, hour, minute int) time.Time {
	return conv.FromBusiness(tz.LocalTime{Year: d.Year, Month: d.Month, Day: d.Day, Hour: hour, Minute: minute})
}

// Bounds is the whole business day [00:00, next 00:00).
func (d Day) Bounds(conv tz.Converter) interval.Interval {
	return interval.Interval{Start: d.at(conv, 0, 0), End: d.at(conv, 24, 0)}
}

// DaysSpanning lists the business days iv touches, in order.
func DaysSpanning(conv tz.Converter, iv interval.Interval) []Day {
	if !iv.Valid() {
		return nil
	}
	first := DayOf(conv, iv.Start)
	var out []Day
	for d := first; ; d = d.AddDays(1) {
		if !interval.Overlaps(d.Bounds(conv), iv) {
			break
		}
		out = append(out, d)
	}
	return out
}
