// Package conflict reports which existing events a candidate interval would
// collide with, per resource.
//
// Results are advisory. Detect and ScanCalendar are pure; Source and Checker
// wrap them for callers that reach the event set over the network and need
// debounced, cancellable checks.
package conflict

import (
	"sort"

	"calgrid/internal/interval"
	"calgrid/internal/model"
)

// Entry is one collision between the candidate and an existing event.
type Entry struct {
	Resource      model.Resource    `json:"resource"`
	EventID       string            `json:"conflicting_event_id"`
	Title         string            `json:"conflicting_title,omitempty"`
	Overlap       interval.Interval `json:"overlap"`
	EventInterval interval.Interval `json:"conflicting_interval"`
	// SubjectEventID is the event that was checked; only ScanCalendar sets it.
	SubjectEventID string `json:"subject_event_id,omitempty"`
}

// Collides reports whether ev holds r. Cancelled events never do, and a
// participant who declined is not held by the event. Tentative events still
// collide.
func Collides(ev model.Event, r model.Resource) bool {
	if ev.Status == model.StatusCancelled {
		return false
	}
	switch r.Kind {
	case model.KindRoom:
		return ev.RoomID != "" && ev.RoomID == r.ID
	case model.KindParticipant:
		p, ok := ev.Participant(r.ID)
		return ok && p.ResponseStatus != model.ResponseDeclined
	}
	return false
}

// Detect returns every event overlapping candidate that holds one of
// resources, skipping excludeID (the event being edited). Entries are grouped
// by resource in the given order, then sorted by start.
func Detect(events []model.Event, candidate interval.Interval, resources []model.Resource, excludeID string) []Entry {
	var out []Entry
	for _, r := range resources {
		var hits []Entry
		for _, ev := range events {
			if excludeID != "" && ev.ID == excludeID {
				continue
			}
			if !Collides(ev, r) {
				continue
			}
			overlap, ok := interval.Intersect(candidate, ev.Interval)
			if !ok {
				continue
			}
			hits = append(hits, Entry{
				Resource:      r,
				EventID:       ev.ID,
				Title:         ev.Title,
				Overlap:       overlap,
				EventInterval: ev.Interval,
			})
		}
		sort.SliceStable(hits, func(i, j int) bool {
			if !hits[i].EventInterval.Start.Equal(hits[j].EventInterval.Start) {
				return hits[i].EventInterval.Start.Before(hits[j].EventInterval.Start)
			}
			return hits[i].EventID < hits[j].EventID
		})
		out = append(out, hits...)
	}
	return out
}

// ResourcesOf lists what ev holds: its room, then every participant who
// has not declined.
func ResourcesOf(ev model.Event) []model.Resource {
	var rs []model.Resource
	if ev.RoomID != "" {
		rs = append(rs, model.Room(ev.RoomID))
	}
	for _, p := range ev.Participants {
		if p.ResponseStatus != model.ResponseDeclined {
			rs = append(rs, model.Person(p.UserID))
		}
	}
	return rs
}

// ScanCalendar checks every non-cancelled event against the others. A pair
// that collides is reported from both sides, once per shared resource.
func ScanCalendar(events []model.Event) []Entry {
	sorted := append([]model.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return interval.Less(sorted[i].Interval, sorted[j].Interval)
	})

	var out []Entry
	for i, subject := range sorted {
		if subject.Status == model.StatusCancelled {
			continue
		}
		// only events starting before subject ends can overlap it
		var near []model.Event
		for j, other := range sorted {
			if j == i {
				continue
			}
			if !other.Start.Before(subject.End) {
				break
			}
			near = append(near, other)
		}
		for _, e := range Detect(near, subject.Interval, ResourcesOf(subject), subject.ID) {
			e.SubjectEventID = subject.ID
			out = append(out, e)
		}
	}
	return out
}
