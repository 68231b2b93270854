package availability

import (
	"errors"
	"testing"
	"time"

	"calgrid/internal/interval"
	"calgrid/internal/model"
	"calgrid/internal/tz"
)

var (
	zone   = tz.Default() // UTC+3
	monday = Day{Year: 2026, Month: time.October, Day: 19}
)

// bt builds an instant from business wall-clock on monday.
func bt(h, m int) time.Time {
	return zone.FromBusiness(tz.LocalTime{Year: 2026, Month: time.October, Day: 19, Hour: h, Minute: m})
}

func meeting(id string, h1, m1, h2, m2 int, people ...model.Participant) model.Event {
	return model.Event{
		ID:           id,
		Status:       model.StatusConfirmed,
		Interval:     interval.Interval{Start: bt(h1, m1), End: bt(h2, m2)},
		Participants: people,
	}
}

func accepted(id string) model.Participant {
	return model.Participant{UserID: id, ResponseStatus: model.ResponseAccepted}
}

func declined(id string) model.Participant {
	return model.Participant{UserID: id, ResponseStatus: model.ResponseDeclined}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultWorkDay(), zone)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// slotAt finds the slot starting at business hh:mm.
func slotAt(e *Engine, h, m int) TimeSlot {
	off := (h-e.WorkDay().StartHour)*60 + m
	return e.Slots()[off/e.WorkDay().SlotMinutes]
}

func TestWorkDayValidation(t *testing.T) {
	bad := []WorkDay{
		{StartHour: 10, EndHour: 9, SlotMinutes: 30},
		{StartHour: 8, EndHour: 25, SlotMinutes: 30},
		{StartHour: 8, EndHour: 20, SlotMinutes: 0},
		{StartHour: 8, EndHour: 9, SlotMinutes: 45},
	}
	for _, w := range bad {
		if err := w.Validate(); !errors.Is(err, ErrInvalidWorkDay) {
			t.Errorf("%+v: err = %v, want ErrInvalidWorkDay", w, err)
		}
	}
	slots := WorkDay{StartHour: 8, EndHour: 20, SlotMinutes: 15}.Slots()
	if len(slots) != 48 {
		t.Fatalf("15-minute grid has %d slots, want 48", len(slots))
	}
	if last := slots[47]; last.StartOffsetMinutes != 705 || last.DurationMinutes != 15 {
		t.Errorf("last slot = %+v", last)
	}
}

func TestSlotBoundariesUseBusinessZone(t *testing.T) {
	e := newEngine(t)
	first := e.SlotInterval(monday, e.Slots()[0])
	// 08:00 at UTC+3 is 05:00Z.
	want := time.Date(2026, 10, 19, 5, 0, 0, 0, time.UTC)
	if !first.Start.Equal(want) || first.Duration() != 30*time.Minute {
		t.Errorf("first slot = %s, want start %s", first, want)
	}
}

func TestSlotState(t *testing.T) {
	e := newEngine(t)
	ana := model.Person("ana")
	events := []model.Event{meeting("m1", 9, 0, 10, 0, accepted("ana"))}

	cases := []struct {
		h, m int
		want State
	}{
		{8, 30, Free},
		{9, 0, Busy},
		{9, 30, Busy},
		{10, 0, Free}, // half-open: event ends when slot starts
	}
	for _, tc := range cases {
		if got := e.SlotState(events, ana, slotAt(e, tc.h, tc.m), monday); got != tc.want {
			t.Errorf("%02d:%02d = %s, want %s", tc.h, tc.m, got, tc.want)
		}
	}
}

func TestDeclinedOnlyFreesThatParticipant(t *testing.T) {
	e := newEngine(t)
	events := []model.Event{meeting("m1", 9, 0, 10, 0, declined("ana"), accepted("bob"))}
	slot := slotAt(e, 9, 0)

	if got := e.SlotState(events, model.Person("ana"), slot, monday); got != Free {
		t.Errorf("declined participant is %s, want free", got)
	}
	if got := e.SlotState(events, model.Person("bob"), slot, monday); got != Busy {
		t.Errorf("accepted participant is %s, want busy", got)
	}
}

func TestNonConfirmedStatusesNeverBusy(t *testing.T) {
	e := newEngine(t)
	slot := slotAt(e, 9, 0)
	for _, st := range []model.Status{model.StatusCancelled, model.StatusTentativeAvailable} {
		m := meeting("m", 9, 0, 10, 0, accepted("ana"))
		m.Status = st
		m.RoomID = "r1"
		if got := e.SlotState([]model.Event{m}, model.Person("ana"), slot, monday); got != Free {
			t.Errorf("%s event makes participant %s", st, got)
		}
		if got := e.SlotState([]model.Event{m}, model.Room("r1"), slot, monday); got != Free {
			t.Errorf("%s event makes room %s", st, got)
		}
	}
}

func TestRoomResource(t *testing.T) {
	e := newEngine(t)
	m := meeting("m", 14, 0, 15, 0)
	m.RoomID = "r1"
	events := []model.Event{m}
	if got := e.SlotState(events, model.Room("r1"), slotAt(e, 14, 30), monday); got != Busy {
		t.Errorf("room r1 = %s, want busy", got)
	}
	if got := e.SlotState(events, model.Room("r2"), slotAt(e, 14, 30), monday); got != Free {
		t.Errorf("room r2 = %s, want free", got)
	}
}

func TestAggregateFree(t *testing.T) {
	e := newEngine(t)
	events := []model.Event{
		meeting("a", 9, 0, 10, 0, accepted("ana")),
		meeting("b", 11, 0, 12, 0, accepted("bob")),
	}
	rs := []model.Resource{model.Person("ana"), model.Person("bob")}

	for _, s := range e.Slots() {
		a := e.SlotState(events, rs[0], s, monday)
		b := e.SlotState(events, rs[1], s, monday)
		want := Busy
		if a == Free && b == Free {
			want = Free
		}
		if got := e.AggregateFree(events, rs, s, monday); got != want {
			t.Errorf("slot %d: aggregate = %s, want %s (a=%s b=%s)", s.Index, got, want, a, b)
		}
	}
}

func TestMultiDayEventIsClampedToWindow(t *testing.T) {
	e := newEngine(t)
	long := model.Event{
		ID:           "trip",
		Status:       model.StatusConfirmed,
		Interval:     interval.Interval{Start: bt(18, 0).Add(-24 * time.Hour), End: bt(9, 0)},
		Participants: []model.Participant{accepted("ana")},
	}
	busy := e.BusyIntervals([]model.Event{long}, model.Person("ana"), monday)
	if len(busy) != 1 {
		t.Fatalf("busy = %v", busy)
	}
	if !busy[0].Start.Equal(bt(8, 0)) || !busy[0].End.Equal(bt(9, 0)) {
		t.Errorf("clamped = %s, want 08:00-09:00", busy[0])
	}
	states := e.DayStates(busy, monday)
	if states[0] != Busy || states[1] != Busy || states[2] != Free {
		t.Errorf("states = %v", states[:3])
	}
}

func TestAggregateDayAndFreeWindows(t *testing.T) {
	e := newEngine(t)
	ana := e.DayStates([]interval.Interval{{Start: bt(8, 0), End: bt(9, 0)}}, monday)
	bob := e.DayStates([]interval.Interval{{Start: bt(12, 0), End: bt(20, 0)}}, monday)
	all := AggregateDay([][]State{ana, bob}, len(e.Slots()))

	windows := e.FreeWindows(all, monday)
	if len(windows) != 1 {
		t.Fatalf("windows = %v", windows)
	}
	if !windows[0].Start.Equal(bt(9, 0)) || !windows[0].End.Equal(bt(12, 0)) {
		t.Errorf("free window = %s, want 09:00-12:00", windows[0])
	}

	if got := AggregateDay(nil, 3); got[0] != Free || got[2] != Free {
		t.Errorf("no resources should be all free: %v", got)
	}
}

func TestDaysSpanning(t *testing.T) {
	iv := interval.Interval{Start: bt(22, 0), End: bt(23, 0).Add(24 * time.Hour)}
	days := DaysSpanning(zone, iv)
	if len(days) != 2 || days[0] != monday || days[1] != monday.AddDays(1) {
		t.Errorf("days = %v", days)
	}
	// ending exactly at midnight does not touch the next day
	iv = interval.Interval{Start: bt(22, 0), End: bt(24, 0)}
	if days := DaysSpanning(zone, iv); len(days) != 1 {
		t.Errorf("days = %v, want only monday", days)
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2026-02-28")
	if err != nil || d.String() != "2026-02-28" || d.AddDays(1).String() != "2026-03-01" {
		t.Errorf("ParseDay = %v, %v", d, err)
	}
	if _, err := ParseDay("28/02/2026"); err == nil {
		t.Error("bad layout accepted")
	}
}

func TestSelection(t *testing.T) {
	work := DefaultWorkDay()
	sel := Selector{Work: work, PixelsPerMinute: 2} // 60px per 30-minute slot
	blocked := make([]State, len(work.Slots()))
	for i := range blocked {
		blocked[i] = Free
	}
	blocked[4] = Busy // 10:00-10:30

	got, ok := sel.Select(70, 230, blocked) // slot 1 .. slot 3
	if !ok || got.StartMinute != 30 || got.EndMinute != 120 || got.Collapsed {
		t.Errorf("free drag = %+v ok=%v", got, ok)
	}

	got, ok = sel.Select(70, 300, blocked) // would cross slot 4
	if !ok || !got.Collapsed || got.StartMinute != 30 || got.EndMinute != 60 {
		t.Errorf("blocked drag = %+v ok=%v, want collapse to anchor slot", got, ok)
	}

	got, ok = sel.Select(230, 70, blocked) // upward drag
	if !ok || got.StartMinute != 30 || got.EndMinute != 120 {
		t.Errorf("upward drag = %+v", got)
	}

	if _, ok := sel.Select(250, 250, blocked); ok {
		t.Error("anchor on a busy slot should be rejected")
	}

	got, _ = sel.Select(-40, 99999, nil)
	if got.StartMinute != 0 || got.EndMinute != work.Minutes() {
		t.Errorf("out of range drag = %+v, want whole window", got)
	}
}
