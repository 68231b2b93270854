package layout

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"calgrid/internal/interval"
	"calgrid/internal/model"
)

var base = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func ev(id string, h1, m1, h2, m2 int) model.Event {
	return model.Event{
		ID:     id,
		Status: model.StatusConfirmed,
		Interval: interval.Interval{
			Start: base.Add(time.Duration(h1)*time.Hour + time.Duration(m1)*time.Minute),
			End:   base.Add(time.Duration(h2)*time.Hour + time.Duration(m2)*time.Minute),
		},
	}
}

func TestEmptyAndSingle(t *testing.T) {
	if got := Compute(nil); len(got) != 0 {
		t.Errorf("empty input: got %v", got)
	}
	got := Compute([]model.Event{ev("a", 9, 0, 10, 0)})
	if a := got["a"]; a.Column != 0 || a.TotalColumns != 1 || a.Span != 1 {
		t.Errorf("single event = %+v, want {0,1}", a)
	}
}

func TestChainStaysOneComponent(t *testing.T) {
	events := []model.Event{
		ev("a", 9, 0, 10, 0),
		ev("b", 9, 30, 10, 30),
		ev("c", 10, 0, 11, 0),
	}
	comps := Components(events)
	if len(comps) != 1 || len(comps[0]) != 3 {
		t.Fatalf("components = %d, want one of size 3", len(comps))
	}

	got := Compute(events)
	if got["a"].Column != 0 || got["b"].Column != 1 || got["c"].Column != 0 {
		t.Errorf("columns = a:%d b:%d c:%d, want 0,1,0", got["a"].Column, got["b"].Column, got["c"].Column)
	}
	for id, a := range got {
		if a.TotalColumns != 2 {
			t.Errorf("%s totalColumns = %d, want 2", id, a.TotalColumns)
		}
	}
}

func TestTouchingEventsAreSeparateComponents(t *testing.T) {
	got := Compute([]model.Event{ev("a", 9, 0, 10, 0), ev("b", 10, 0, 11, 0)})
	for id, a := range got {
		if a.Column != 0 || a.TotalColumns != 1 {
			t.Errorf("%s = %+v, want {0,1}", id, a)
		}
	}
}

func TestIdenticalIntervalsGetDistinctColumnsInInputOrder(t *testing.T) {
	events := []model.Event{ev("x", 9, 0, 10, 0), ev("y", 9, 0, 10, 0), ev("z", 9, 0, 10, 0)}
	got := Compute(events)
	for i, id := range []string{"x", "y", "z"} {
		if got[id].Column != i || got[id].TotalColumns != 3 {
			t.Errorf("%s = %+v, want column %d of 3", id, got[id], i)
		}
	}
}

func TestSpanExtension(t *testing.T) {
	// a and b overlap, c overlaps b only; in column 0 a then c, column 1 b.
	// d sits alone in the component's tail next to nothing in column 1.
	events := []model.Event{
		ev("a", 9, 0, 10, 0),
		ev("b", 9, 30, 10, 30),
		ev("c", 10, 0, 12, 0),
		ev("d", 12, 0, 13, 0),
	}
	got := ComputeWith(events, Options{Mode: ModeColumns, ExtendSpans: true})
	if got["a"].Span != 1 {
		t.Errorf("a span = %d, want 1 (b overlaps in column 1)", got["a"].Span)
	}
	if got["d"].Span != 1 || got["d"].TotalColumns != 1 {
		t.Errorf("d = %+v, want its own component", got["d"])
	}

	wide := []model.Event{
		ev("long", 9, 0, 12, 0),
		ev("early", 9, 0, 10, 0),
		ev("late", 11, 0, 12, 0),
		ev("mid", 9, 30, 10, 30),
	}
	got = ComputeWith(wide, Options{Mode: ModeColumns, ExtendSpans: true})
	// columns: early 0, long 1, mid 2, late 0
	if got["late"].Column != 0 || got["late"].Span != 1 {
		t.Errorf("late = %+v, want column 0 span 1 (long overlaps it)", got["late"])
	}
	if got["mid"].Column != 2 || got["mid"].Span != 1 {
		t.Errorf("mid = %+v", got["mid"])
	}
	plain := Compute(wide)
	for id, a := range got {
		if a.Column != plain[id].Column || a.TotalColumns != plain[id].TotalColumns {
			t.Errorf("%s: span extension changed column contract: %+v vs %+v", id, a, plain[id])
		}
	}
}

func TestSpanExtensionIntoFreeColumn(t *testing.T) {
	// shorter event first on equal starts: b col 0, a col 1, c reuses col 0
	events := []model.Event{
		ev("a", 9, 0, 10, 0),
		ev("b", 9, 0, 9, 30),
		ev("c", 9, 45, 11, 0),
	}
	got := ComputeWith(events, Options{Mode: ModeColumns, ExtendSpans: true})
	if got["b"].Column != 0 || got["a"].Column != 1 || got["c"].Column != 0 {
		t.Fatalf("unexpected columns: %+v", got)
	}
	if got["b"].Span != 1 {
		t.Errorf("b span = %d, want 1 (a in column 1 overlaps b)", got["b"].Span)
	}

	tail := []model.Event{
		ev("a", 9, 0, 10, 0),
		ev("b", 9, 0, 10, 0),
		ev("c", 10, 0, 11, 0),
		ev("d", 9, 30, 10, 30),
	}
	got = ComputeWith(tail, Options{Mode: ModeColumns, ExtendSpans: true})
	// a 0, b 1, d 2, c 0. c overlaps d (col 2) but not b (col 1): span 2.
	if got["c"].Column != 0 || got["c"].Span != 2 {
		t.Errorf("c = %+v, want column 0 span 2", got["c"])
	}
}

func TestCascadeMode(t *testing.T) {
	events := []model.Event{ev("a", 9, 0, 10, 0), ev("b", 9, 15, 10, 0), ev("c", 9, 30, 10, 0)}
	got := ComputeWith(events, Options{Mode: ModeCascade})
	for id, want := range map[string]int{"a": 3, "b": 2, "c": 1} {
		if got[id].Span != want {
			t.Errorf("%s span = %d, want %d", id, got[id].Span, want)
		}
	}
}

func TestDeterministic(t *testing.T) {
	events := randomEvents(rand.New(rand.NewSource(7)), 60)
	first := ComputeWith(events, Options{Mode: ModeColumns, ExtendSpans: true})
	second := ComputeWith(events, Options{Mode: ModeColumns, ExtendSpans: true})
	for id, a := range first {
		if second[id] != a {
			t.Fatalf("%s differs between runs: %+v vs %+v", id, a, second[id])
		}
	}
}

// TestColoringProperties checks, over random event sets, that no two events
// sharing a column in a component overlap, and that the column count equals
// the maximum point-in-time overlap of the component.
func TestColoringProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		events := randomEvents(rng, 1+rng.Intn(40))
		got := ComputeWith(events, Options{Mode: ModeColumns, ExtendSpans: true})
		if len(got) != len(events) {
			t.Fatalf("round %d: %d assignments for %d events", round, len(got), len(events))
		}

		for _, comp := range Components(events) {
			for i := range comp {
				for j := i + 1; j < len(comp); j++ {
					ai, aj := got[comp[i].ID], got[comp[j].ID]
					if ai.Column == aj.Column && interval.Overlaps(comp[i].Interval, comp[j].Interval) {
						t.Fatalf("round %d: %s and %s overlap in column %d", round, comp[i].ID, comp[j].ID, ai.Column)
					}
					// widened spans must not cover an overlapping neighbour either
					if interval.Overlaps(comp[i].Interval, comp[j].Interval) &&
						(covers(ai, aj.Column) || covers(aj, ai.Column)) {
						t.Fatalf("round %d: span of %s/%s covers an overlapping event", round, comp[i].ID, comp[j].ID)
					}
				}
			}
			want := maxPointOverlap(comp)
			for _, e := range comp {
				if got[e.ID].TotalColumns != want {
					t.Fatalf("round %d: totalColumns = %d, want max overlap %d", round, got[e.ID].TotalColumns, want)
				}
			}
		}
	}
}

func covers(a Assignment, col int) bool {
	return col >= a.Column && col < a.Column+a.Span
}

func randomEvents(rng *rand.Rand, n int) []model.Event {
	out := make([]model.Event, n)
	for i := range out {
		startMin := rng.Intn(12*60) / 15 * 15
		dur := (1 + rng.Intn(8)) * 15
		e := ev(fmt.Sprintf("e%02d", i), 8, 0, 8, 0)
		e.Start = base.Add(8*time.Hour + time.Duration(startMin)*time.Minute)
		e.End = e.Start.Add(time.Duration(dur) * time.Minute)
		out[i] = e
	}
	return out
}

func maxPointOverlap(events []model.Event) int {
	type edge struct {
		at    time.Time
		delta int
	}
	var edges []edge
	for _, e := range events {
		edges = append(edges, edge{e.Start, +1}, edge{e.End, -1})
	}
	// ends before starts at equal instants: half-open intervals
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].at.Equal(edges[j].at) {
			return edges[i].at.Before(edges[j].at)
		}
		return edges[i].delta < edges[j].delta
	})
	cur, best := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > best {
			best = cur
		}
	}
	return best
}
