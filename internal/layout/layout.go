// Package layout assigns rendering columns to temporally overlapping events.
//
// Events are grouped into overlap components (chains count: if A overlaps B
// and B overlaps C, all three share a component even when A and C do not).
// Inside a component columns are assigned greedily in start order, which is
// optimal: the column count equals the largest number of events overlapping
// at a single instant.
package layout

import (
	"sort"

	"calgrid/internal/interval"
	"calgrid/internal/model"
)

// Mode selects how spans are derived once columns are fixed.
type Mode string

const (
	// ModeColumns renders side by side; spans widen only into free columns.
	ModeColumns Mode = "columns"
	// ModeCascade lets every event reach the right edge, later columns stacked on top.
	ModeCascade Mode = "cascade"
)

// ParseMode accepts "columns" or "cascade"; anything else is ModeColumns.
func ParseMode(s string) Mode {
	if Mode(s) == ModeCascade {
		return ModeCascade
	}
	return ModeColumns
}

type Options struct {
	Mode Mode
	// ExtendSpans widens events in ModeColumns into contiguous columns on
	// their right that hold nothing overlapping them.
	ExtendSpans bool
}

// Assignment is the layout of one event. Column and TotalColumns are the
// correctness contract; Span is visual only.
type Assignment struct {
	EventID      string `json:"event_id"`
	Column       int    `json:"column"`
	TotalColumns int    `json:"total_columns"`
	Span         int    `json:"span"`
}

// Compute lays events out in ModeColumns without span extension.
func Compute(events []model.Event) map[string]Assignment {
	return ComputeWith(events, Options{Mode: ModeColumns})
}

// ComputeWith lays events out. Event IDs are expected to be unique; the
// result is only valid for exactly this event set.
func ComputeWith(events []model.Event, opts Options) map[string]Assignment {
	out := make(map[string]Assignment, len(events))
	for _, comp := range Components(events) {
		for _, a := range assign(comp, opts) {
			out[a.EventID] = a
		}
	}
	return out
}

// Components returns the maximal overlap-connected groups of events, each in
// start/end order, groups ordered by their first start.
func Components(events []model.Event) [][]model.Event {
	ordered := make([]model.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return interval.Less(ordered[i].Interval, ordered[j].Interval)
	})

	var (
		comps [][]model.Event
		cur   []model.Event
		// reach spans the current component; its members cover it without gaps,
		// so overlapping reach means overlapping at least one member.
		reach interval.Interval
	)
	for _, e := range ordered {
		if len(cur) > 0 && interval.Overlaps(e.Interval, reach) {
			cur = append(cur, e)
			if e.End.After(reach.End) {
				reach.End = e.End
			}
			continue
		}
		if len(cur) > 0 {
			comps = append(comps, cur)
		}
		cur = []model.Event{e}
		reach = e.Interval
	}
	if len(cur) > 0 {
		comps = append(comps, cur)
	}
	return comps
}

// assign colors one component. comp must be in start/end order.
func assign(comp []model.Event, opts Options) []Assignment {
	// last[c] is the latest event placed in column c.
	var last []interval.Interval
	cols := make([]int, len(comp))
	for i, e := range comp {
		col := -1
		for c := range last {
			if !interval.Overlaps(last[c], e.Interval) {
				col = c
				break
			}
		}
		if col < 0 {
			col = len(last)
			last = append(last, e.Interval)
		} else {
			last[col] = e.Interval
		}
		cols[i] = col
	}

	total := len(last)
	out := make([]Assignment, len(comp))
	for i, e := range comp {
		span := 1
		switch opts.Mode {
		case ModeCascade:
			span = total - cols[i]
		default:
			if opts.ExtendSpans {
				span = freeSpan(comp, cols, i, total)
			}
		}
		out[i] = Assignment{EventID: e.ID, Column: cols[i], TotalColumns: total, Span: span}
	}
	return out
}

// freeSpan counts how many columns, starting at event i's own, it can occupy
// before hitting a column holding an event that overlaps it.
func freeSpan(comp []model.Event, cols []int, i, total int) int {
	span := 1
	for next := cols[i] + 1; next < total; next++ {
		for j, other := range comp {
			if cols[j] == next && interval.Overlaps(other.Interval, comp[i].Interval) {
				return span
			}
		}
		span++
	}
	return span
}
