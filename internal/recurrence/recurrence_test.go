package recurrence

import (
	"errors"
	"strings"
	"testing"
	"time"

	"calgrid/internal/interval"
	"calgrid/internal/model"
	"calgrid/internal/tz"
)

var zone = tz.Default()

func local(y int, m time.Month, d, h, min int) time.Time {
	return zone.FromBusiness(tz.LocalTime{Year: y, Month: m, Day: d, Hour: h, Minute: min})
}

func hour(start time.Time) interval.Interval {
	return interval.Interval{Start: start, End: start.Add(time.Hour)}
}

func TestWeeklyEveryOtherWeek(t *testing.T) {
	monday := local(2026, time.October, 19, 9, 0)
	got, err := NewExpander(zone).Expand(hour(monday), Rule{Frequency: Weekly, Interval: 2, Count: 3})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got.Occurrences) != 3 || got.Truncated {
		t.Fatalf("got %d occurrences truncated=%v, want 3", len(got.Occurrences), got.Truncated)
	}
	for i, days := range []int{0, 14, 28} {
		occ := got.Occurrences[i]
		want := monday.AddDate(0, 0, days)
		if !occ.Start.Equal(want) || occ.Duration() != time.Hour {
			t.Errorf("occurrence %d = %s, want start %s lasting 1h", i, occ, want)
		}
		if lt := zone.ToBusiness(occ.Start); lt.Hour != 9 || lt.Minute != 0 {
			t.Errorf("occurrence %d at %02d:%02d business time, want 09:00", i, lt.Hour, lt.Minute)
		}
	}
}

func TestCountIsExact(t *testing.T) {
	got, err := NewExpander(zone).Expand(hour(local(2026, time.January, 5, 8, 0)), Rule{Frequency: Daily, Interval: 1, Count: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Occurrences) != 5 || got.Truncated {
		t.Errorf("count=5 gave %d (truncated=%v)", len(got.Occurrences), got.Truncated)
	}
	for i := 1; i < len(got.Occurrences); i++ {
		if !got.Occurrences[i-1].Start.Before(got.Occurrences[i].Start) {
			t.Fatalf("occurrences not ascending at %d", i)
		}
	}
}

func TestUntilBoundaries(t *testing.T) {
	x := NewExpander(zone)
	base := hour(local(2026, time.March, 2, 10, 0))

	got, err := x.Expand(base, Rule{Frequency: Daily, Interval: 1, Until: base.Start.Add(23 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Occurrences) != 1 || !got.Occurrences[0].Start.Equal(base.Start) {
		t.Errorf("until before 2nd start: got %v, want only the base", got.Occurrences)
	}

	// inclusive: an occurrence exactly on until is kept
	got, _ = x.Expand(base, Rule{Frequency: Daily, Interval: 1, Until: base.Start.AddDate(0, 0, 3)})
	if len(got.Occurrences) != 4 {
		t.Errorf("until on 4th start: got %d occurrences, want 4", len(got.Occurrences))
	}

	// until before the base still yields the base
	got, _ = x.Expand(base, Rule{Frequency: Daily, Interval: 1, Until: base.Start.Add(-time.Hour)})
	if len(got.Occurrences) != 1 {
		t.Errorf("until before base: got %d, want 1", len(got.Occurrences))
	}
}

func TestCapAt180(t *testing.T) {
	x := NewExpander(zone)
	base := hour(local(2026, time.January, 1, 9, 0))

	got, err := x.Expand(base, Rule{Frequency: Daily, Interval: 1, Count: 500})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Occurrences) != MaxOccurrences || !got.Truncated {
		t.Errorf("count=500: %d occurrences truncated=%v, want %d truncated", len(got.Occurrences), got.Truncated, MaxOccurrences)
	}

	got, _ = x.Expand(base, Rule{Frequency: Daily, Interval: 1, Count: MaxOccurrences})
	if len(got.Occurrences) != MaxOccurrences || got.Truncated {
		t.Errorf("count=180: %d truncated=%v, want exactly 180 untruncated", len(got.Occurrences), got.Truncated)
	}

	got, _ = x.Expand(base, Rule{Frequency: Daily, Interval: 1, Until: base.Start.AddDate(2, 0, 0)})
	if len(got.Occurrences) != MaxOccurrences || !got.Truncated {
		t.Errorf("two-year until: %d truncated=%v", len(got.Occurrences), got.Truncated)
	}
}

func TestOpenEnded(t *testing.T) {
	base := hour(local(2026, time.January, 1, 9, 0))
	open := Rule{Frequency: Weekly, Interval: 1}

	if _, err := NewExpander(zone).Expand(base, open); !errors.Is(err, ErrInvalidRecurrenceRule) {
		t.Errorf("open-ended rule accepted by default: %v", err)
	}

	x := &Expander{Zone: zone, AllowOpenEnded: true}
	got, err := x.Expand(base, open)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Occurrences) != MaxOccurrences || !got.Truncated {
		t.Errorf("open-ended: %d truncated=%v, want cap reported", len(got.Occurrences), got.Truncated)
	}
}

func TestMonthlyClampsToLastDay(t *testing.T) {
	base := hour(local(2026, time.January, 31, 9, 0))
	got, err := NewExpander(zone).Expand(base, Rule{Frequency: Monthly, Interval: 1, Count: 5})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		m time.Month
		d int
	}{{time.January, 31}, {time.February, 28}, {time.March, 31}, {time.April, 30}, {time.May, 31}}
	if len(got.Occurrences) != len(want) {
		t.Fatalf("got %d occurrences", len(got.Occurrences))
	}
	for i, w := range want {
		lt := zone.ToBusiness(got.Occurrences[i].Start)
		if lt.Month != w.m || lt.Day != w.d || lt.Hour != 9 {
			t.Errorf("occurrence %d = %d-%02d %02d:00, want %d-%02d 09:00", i, lt.Month, lt.Day, lt.Hour, w.m, w.d)
		}
	}

	leap := hour(local(2028, time.January, 30, 9, 0))
	got, _ = NewExpander(zone).Expand(leap, Rule{Frequency: Monthly, Interval: 1, Count: 2})
	if lt := zone.ToBusiness(got.Occurrences[1].Start); lt.Month != time.February || lt.Day != 29 {
		t.Errorf("leap February = %d-%d, want 2-29", lt.Month, lt.Day)
	}
}

func TestValidation(t *testing.T) {
	until := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	bad := []Rule{
		{Frequency: Daily, Interval: 0, Count: 3},
		{Frequency: Daily, Interval: 1, Count: 3, Until: until},
		{Frequency: Daily, Interval: 1, Count: -1},
		{Frequency: "yearly", Interval: 1, Count: 3},
		{Frequency: Daily, Interval: 1},
	}
	base := hour(local(2026, time.January, 1, 9, 0))
	for _, r := range bad {
		if _, err := NewExpander(zone).Expand(base, r); !errors.Is(err, ErrInvalidRecurrenceRule) {
			t.Errorf("%+v: err = %v, want ErrInvalidRecurrenceRule", r, err)
		}
	}

	inverted := interval.Interval{Start: base.End, End: base.Start}
	if _, err := NewExpander(zone).Expand(inverted, Rule{Frequency: Daily, Interval: 1, Count: 2}); !errors.Is(err, interval.ErrInvalidInterval) {
		t.Errorf("inverted base: err = %v", err)
	}
}

func TestParseRule(t *testing.T) {
	r, err := ParseRule("RRULE:FREQ=WEEKLY;INTERVAL=2;COUNT=3")
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if r.Frequency != Weekly || r.Interval != 2 || r.Count != 3 {
		t.Errorf("got %+v", r)
	}

	r, err = ParseRule("FREQ=DAILY;UNTIL=20261231T235959Z")
	if err != nil {
		t.Fatalf("ParseRule: %v", err)
	}
	if r.Interval != 1 || r.Until.IsZero() || r.Until.Year() != 2026 {
		t.Errorf("got %+v", r)
	}

	for _, s := range []string{"FREQ=YEARLY;COUNT=2", "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=4", "nonsense"} {
		if _, err := ParseRule(s); !errors.Is(err, ErrInvalidRecurrenceRule) {
			t.Errorf("ParseRule(%q) err = %v", s, err)
		}
	}
}

func TestMaterialize(t *testing.T) {
	ev := model.Event{
		ID:           "standup",
		Title:        "Standup",
		Status:       model.StatusConfirmed,
		Interval:     hour(local(2026, time.October, 19, 9, 0)),
		Participants: []model.Participant{{UserID: "ana", ResponseStatus: model.ResponseAccepted}},
	}
	out, truncated, err := NewExpander(zone).Materialize(ev, Rule{Frequency: Daily, Interval: 1, Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || truncated {
		t.Fatalf("got %d events truncated=%v", len(out), truncated)
	}
	series := out[0].SeriesID
	if series == "" {
		t.Fatal("no series id assigned")
	}
	for i, e := range out {
		if e.SeriesID != series || !strings.HasPrefix(e.ID, series+"/") || e.Title != "Standup" {
			t.Errorf("occurrence %d = %+v", i, e)
		}
	}
	out[0].Participants[0].ResponseStatus = model.ResponseDeclined
	if out[1].Participants[0].ResponseStatus != model.ResponseAccepted {
		t.Error("occurrences share the participants slice")
	}
}

func TestSubSecondBaseKeepsExactStart(t *testing.T) {
	start := time.Date(2026, 10, 19, 6, 0, 0, 500_000_000, time.UTC)
	got, err := NewExpander(zone).Expand(hour(start), Rule{Frequency: Daily, Interval: 1, Count: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Occurrences) != 3 {
		t.Fatalf("got %d occurrences", len(got.Occurrences))
	}
	for i, occ := range got.Occurrences {
		if want := start.AddDate(0, 0, i); !occ.Start.Equal(want) || occ.Duration() != time.Hour {
			t.Errorf("occurrence %d = %s, want start %s", i, occ, want)
		}
	}

	// until sits between the whole second and the real start of day 2
	until := start.AddDate(0, 0, 1).Add(-250 * time.Millisecond)
	got, err = NewExpander(zone).Expand(hour(start), Rule{Frequency: Daily, Interval: 1, Until: until})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Occurrences) != 1 || !got.Occurrences[0].Start.Equal(start) {
		t.Errorf("occurrences = %v, want the base only", got.Occurrences)
	}
}
