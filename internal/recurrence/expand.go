// Package recurrence expands a base occurrence and a Rule into a bounded,
// ordered list of concrete occurrences.
//
// Steps are taken in business wall-clock time (a weekly 09:00 meeting stays
// at 09:00 across DST changes) and the duration of the base is preserved.
//
// Monthly day-of-month overflow is clamped: a series started on the 31st
// lands on the last day of shorter months and returns to the 31st when the
// month has one (Jan 31, Feb 28, Mar 31, Apr 30, ...).
package recurrence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"calgrid/internal/interval"
	"calgrid/internal/model"
	"calgrid/internal/tz"
)

// Expansion is the result of Expand.
type Expansion struct {
	Occurrences []interval.Interval `json:"occurrences"`
	// Truncated is set when MaxOccurrences cut the series short of what the
	// rule asked for (or, for open-ended rules, short of forever).
	Truncated bool `json:"truncated"`
}

// Expander holds expansion settings.
type Expander struct {
	Zone tz.Zone
	// AllowOpenEnded accepts rules with neither Count nor Until.
	AllowOpenEnded bool
}

func NewExpander(zone tz.Zone) *Expander {
	return &Expander{Zone: zone}
}

// Expand returns the occurrences of rule starting at base, base included.
func (x *Expander) Expand(base interval.Interval, rule Rule) (Expansion, error) {
	if !base.Valid() {
		_, err := interval.New(base.Start, base.End)
		return Expansion{}, err
	}
	if err := rule.Validate(x.AllowOpenEnded); err != nil {
		return Expansion{}, err
	}
	freq, _ := rule.Frequency.rrule()

	limit := MaxOccurrences
	if rule.hasCount() && rule.Count < limit {
		limit = rule.Count
	}

	start := x.Zone.In(base.Start)
	// rrule works in whole seconds; the remainder is added back to every
	// occurrence so the first one is exactly base.Start
	whole := start.Truncate(time.Second)
	frac := start.Sub(whole)
	opt := rrule.ROption{
		Freq:     freq,
		Interval: rule.Interval,
		Dtstart:  whole,
		// one extra occurrence tells a cap hit apart from a natural end
		Count: limit + 1,
	}
	if rule.hasUntil() {
		opt.Until = rule.Until
	}
	if freq == rrule.MONTHLY && start.Day() > 28 {
		opt.Bymonthday, opt.Bysetpos = clampedMonthDay(start.Day())
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return Expansion{}, fmt.Errorf("%w: %v", ErrInvalidRecurrenceRule, err)
	}
	starts := r.All()
	for i := range starts {
		starts[i] = starts[i].Add(frac)
	}
	if frac > 0 && rule.hasUntil() {
		for len(starts) > 1 && starts[len(starts)-1].After(rule.Until) {
			starts = starts[:len(starts)-1]
		}
	}
	if len(starts) == 0 {
		// the base itself always occurs, even when Until precedes it
		starts = append(starts, start)
	}

	var out Expansion
	if len(starts) > limit {
		starts = starts[:limit]
		out.Truncated = !rule.hasCount() || rule.Count > MaxOccurrences
	}

	dur := base.Duration()
	out.Occurrences = make([]interval.Interval, len(starts))
	for i, s := range starts {
		out.Occurrences[i] = interval.Interval{Start: s, End: s.Add(dur)}
	}
	return out, nil
}

// clampedMonthDay expresses "day d, or the month's last day if shorter" as
// BYMONTHDAY=28..d with BYSETPOS=-1: the latest existing candidate wins.
func clampedMonthDay(d int) (days []int, setpos []int) {
	for day := 28; day <= d; day++ {
		days = append(days, day)
	}
	return days, []int{-1}
}

// Materialize expands ev with rule into concrete events sharing a SeriesID.
// A new series id is generated when ev has none. Occurrence ids are
// "<seriesId>/<n>" with n counted from 0.
func (x *Expander) Materialize(ev model.Event, rule Rule) ([]model.Event, bool, error) {
	exp, err := x.Expand(ev.Interval, rule)
	if err != nil {
		return nil, false, err
	}
	series := ev.SeriesID
	if series == "" {
		series = uuid.NewString()
	}
	out := make([]model.Event, len(exp.Occurrences))
	for i, occ := range exp.Occurrences {
		e := ev
		e.Interval = occ
		e.SeriesID = series
		e.ID = fmt.Sprintf("%s/%d", series, i)
		e.Participants = append([]model.Participant(nil), ev.Participants...)
		out[i] = e
	}
	return out, exp.Truncated, nil
}
