package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"calgrid/internal/interval"
	"calgrid/internal/model"
)

var t0 = time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)

func ev(id, cal string, fromH, toH int) model.Event {
	return model.Event{
		ID:         id,
		CalendarID: cal,
		Status:     model.StatusConfirmed,
		Interval:   interval.Interval{Start: t0.Add(time.Duration(fromH) * time.Hour), End: t0.Add(time.Duration(toH) * time.Hour)},
	}
}

func ids(events []model.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestMemoryWindowQuery(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Upsert(ctx, ev("c", "team", 4, 5), ev("a", "team", 0, 1), ev("b", "team", 1, 3)); err != nil {
		t.Fatal(err)
	}

	got, err := m.Events(ctx, Query{From: t0.Add(time.Hour), To: t0.Add(4 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	// a ends exactly at From and c starts exactly at To: both excluded
	if g := ids(got); len(g) != 1 || g[0] != "b" {
		t.Errorf("window query = %v, want [b]", g)
	}

	all, _ := m.Events(ctx, Query{})
	if g := ids(all); len(g) != 3 || g[0] != "a" || g[1] != "b" || g[2] != "c" {
		t.Errorf("all = %v, want ordered a b c", g)
	}
}

func TestMemoryResourceAndCalendarFilter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	withRoom := ev("r", "team", 0, 1)
	withRoom.RoomID = "blue"
	withAna := ev("p", "other", 0, 1)
	withAna.Participants = []model.Participant{{UserID: "ana", ResponseStatus: model.ResponseDeclined}}
	_ = m.Upsert(ctx, withRoom, withAna)

	room := model.Room("blue")
	got, _ := m.Events(ctx, Query{Resource: &room})
	if g := ids(got); len(g) != 1 || g[0] != "r" {
		t.Errorf("room filter = %v", g)
	}
	ana := model.Person("ana")
	got, _ = m.Events(ctx, Query{Resource: &ana})
	if g := ids(got); len(g) != 1 || g[0] != "p" {
		t.Errorf("participant filter = %v (declined still listed)", g)
	}
	got, _ = m.Events(ctx, Query{CalendarID: "other"})
	if g := ids(got); len(g) != 1 || g[0] != "p" {
		t.Errorf("calendar filter = %v", g)
	}
}

func TestMemoryMutations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Upsert(ctx, ev("a", "ics", 0, 1), ev("b", "ics", 1, 2), ev("keep", "manual", 0, 1))

	if err := m.ReplaceCalendar(ctx, "ics", []model.Event{ev("z", "", 2, 3)}); err != nil {
		t.Fatal(err)
	}
	all, _ := m.Events(ctx, Query{})
	if g := ids(all); len(g) != 2 || g[0] != "keep" || g[1] != "z" {
		t.Errorf("after replace = %v", g)
	}
	z, err := m.Get(ctx, "z")
	if err != nil || z.CalendarID != "ics" {
		t.Errorf("replaced event = %+v, %v", z, err)
	}

	if err := m.Remove(ctx, "keep"); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove(ctx, "keep"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove err = %v", err)
	}
	if _, err := m.Get(ctx, "keep"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get removed err = %v", err)
	}
}

func TestMemoryRejectsInvalidInterval(t *testing.T) {
	bad := ev("x", "c", 2, 2)
	if err := NewMemory().Upsert(context.Background(), bad); !errors.Is(err, interval.ErrInvalidInterval) {
		t.Errorf("err = %v, want ErrInvalidInterval", err)
	}
}
