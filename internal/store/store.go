// Package store is the read side of the ambient event set. The engines never
// talk to a store directly; the service layer loads a window of events and
// hands the slice over.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"calgrid/internal/interval"
	"calgrid/internal/model"
)

var ErrNotFound = errors.New("store: event not found")

// Query selects events. Zero From/To leave that side of the window open;
// an empty CalendarID matches every calendar.
type Query struct {
	From       time.Time
	To         time.Time
	CalendarID string
	// Resource keeps only events the resource appears on (listed as a
	// participant with any response, or booked as the room).
	Resource *model.Resource
}

// Matches reports whether ev falls under q.
func (q Query) Matches(ev model.Event) bool {
	if q.CalendarID != "" && ev.CalendarID != q.CalendarID {
		return false
	}
	if !q.From.IsZero() && !ev.End.After(q.From) {
		return false
	}
	if !q.To.IsZero() && !ev.Start.Before(q.To) {
		return false
	}
	if q.Resource != nil {
		switch q.Resource.Kind {
		case model.KindRoom:
			return ev.RoomID == q.Resource.ID
		case model.KindParticipant:
			_, ok := ev.Participant(q.Resource.ID)
			return ok
		default:
			return false
		}
	}
	return true
}

// Reader returns events ordered by start, then end.
type Reader interface {
	Events(ctx context.Context, q Query) ([]model.Event, error)
	Get(ctx context.Context, id string) (model.Event, error)
}

// Writer mutates the event set.
type Writer interface {
	Upsert(ctx context.Context, events ...model.Event) error
	Remove(ctx context.Context, id string) error
	// ReplaceCalendar swaps every event of calendarID for events.
	ReplaceCalendar(ctx context.Context, calendarID string, events []model.Event) error
}

type ReadWriter interface {
	Reader
	Writer
}

// Memory is a ReadWriter backed by a map. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	events map[string]model.Event
}

var _ ReadWriter = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{events: make(map[string]model.Event)}
}

func (m *Memory) Events(ctx context.Context, q Query) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]model.Event, 0, len(m.events))
	for _, ev := range m.events {
		if q.Matches(ev) {
			out = append(out, ev)
		}
	}
	m.mu.RUnlock()
	SortEvents(out)
	return out, nil
}

func (m *Memory) Get(ctx context.Context, id string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return ev, nil
}

func (m *Memory) Upsert(ctx context.Context, events ...model.Event) error {
	for _, ev := range events {
		if !ev.Valid() {
			_, err := interval.New(ev.Start, ev.End)
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *Memory) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *Memory) ReplaceCalendar(ctx context.Context, calendarID string, events []model.Event) error {
	for _, ev := range events {
		if !ev.Valid() {
			_, err := interval.New(ev.Start, ev.End)
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ev := range m.events {
		if ev.CalendarID == calendarID {
			delete(m.events, id)
		}
	}
	for _, ev := range events {
		ev.CalendarID = calendarID
		m.events[ev.ID] = ev
	}
	return nil
}

// SortEvents orders events by start, end, then id so that every reader
// returns the same sequence for the same set.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.ID < b.ID
	})
}
