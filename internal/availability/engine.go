// Package availability computes per-slot free/busy state of participants and
// rooms over a business work-day grid.
//
// Slot boundaries come from a tz.Converter so that every instant is derived
// from business wall-clock fields; the engine never adds zone offsets itself.
// All functions are pure over their inputs.
package availability

import (
	"calgrid/internal/interval"
	"calgrid/internal/model"
	"calgrid/internal/tz"
)

// State is the free/busy verdict of one slot.
type State string

const (
	Free State = "free"
	Busy State = "busy"
)

type Engine struct {
	work WorkDay
	conv tz.Converter
}

func NewEngine(work WorkDay, conv tz.Converter) (*Engine, error) {
	if err := work.Validate(); err != nil {
		return nil, err
	}
	return &Engine{work: work, conv: conv}, nil
}

func (e *Engine) WorkDay() WorkDay { return e.work }

func (e *Engine) Converter() tz.Converter { return e.conv }

func (e *Engine) Slots() []TimeSlot { return e.work.Slots() }

// Window is the rendered part of day, [StartHour, EndHour).
func (e *Engine) Window(day Day) interval.Interval {
	return interval.Interval{
		Start: day.at(e.conv, e.work.StartHour, 0),
		End:   day.at(e.conv, e.work.EndHour, 0),
	}
}

// SlotInterval is the instant range of slot on day.
func (e *Engine) SlotInterval(day Day, slot TimeSlot) interval.Interval {
	return e.MinuteRange(day, slot.StartOffsetMinutes, slot.StartOffsetMinutes+slot.DurationMinutes)
}

// MinuteRange converts window-relative minute offsets into instants.
func (e *Engine) MinuteRange(day Day, fromMinute, toMinute int) interval.Interval {
	return interval.Interval{
		Start: day.at(e.conv, e.work.StartHour, fromMinute),
		End:   day.at(e.conv, e.work.StartHour, toMinute),
	}
}

// Qualifies reports whether ev makes r busy. Only confirmed events count;
// a participant who declined is not made busy by that event.
func Qualifies(ev model.Event, r model.Resource) bool {
	switch ev.Status {
	case model.StatusConfirmed:
	case model.StatusCancelled, model.StatusTentativeAvailable:
		return false
	default:
		return false
	}
	switch r.Kind {
	case model.KindRoom:
		return ev.RoomID != "" && ev.RoomID == r.ID
	case model.KindParticipant:
		p, ok := ev.Participant(r.ID)
		return ok && p.ResponseStatus != model.ResponseDeclined
	default:
		return false
	}
}

// BusyIntervals returns r's qualifying intervals on day, clamped to the work
// window so multi-day events only cover this day's part.
func (e *Engine) BusyIntervals(events []model.Event, r model.Resource, day Day) []interval.Interval {
	win := e.Window(day)
	var out []interval.Interval
	for _, ev := range events {
		if !Qualifies(ev, r) {
			continue
		}
		if clamped, ok := interval.Clamp(ev.Interval, win.Start, win.End); ok {
			out = append(out, clamped)
		}
	}
	interval.Sort(out)
	return out
}

// SlotState is Busy iff a qualifying event of r overlaps slot on day.
func (e *Engine) SlotState(events []model.Event, r model.Resource, slot TimeSlot, day Day) State {
	return stateOf(e.BusyIntervals(events, r, day), e.SlotInterval(day, slot))
}

// AggregateFree is Free only when every resource is free in slot.
func (e *Engine) AggregateFree(events []model.Event, rs []model.Resource, slot TimeSlot, day Day) State {
	for _, r := range rs {
		if e.SlotState(events, r, slot, day) == Busy {
			return Busy
		}
	}
	return Free
}

// DayStates evaluates every slot of day against busy intervals of one resource.
func (e *Engine) DayStates(busy []interval.Interval, day Day) []State {
	slots := e.work.Slots()
	out := make([]State, len(slots))
	for i, s := range slots {
		out[i] = stateOf(busy, e.SlotInterval(day, s))
	}
	return out
}

// AggregateDay folds per-resource slot states: a slot is Free only if it is
// Free for all of them. No resources means everything is Free.
func AggregateDay(perResource [][]State, slots int) []State {
	out := make([]State, slots)
	for i := range out {
		out[i] = Free
		for _, states := range perResource {
			if i < len(states) && states[i] == Busy {
				out[i] = Busy
				break
			}
		}
	}
	return out
}

// FreeWindows merges consecutive free slots into instant ranges.
func (e *Engine) FreeWindows(states []State, day Day) []interval.Interval {
	var (
		out   []interval.Interval
		start = -1
	)
	flush := func(end int) {
		if start >= 0 {
			out = append(out, e.MinuteRange(day, start*e.work.SlotMinutes, end*e.work.SlotMinutes))
			start = -1
		}
	}
	for i, s := range states {
		if s == Free {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(states))
	return out
}

func stateOf(busy []interval.Interval, slot interval.Interval) State {
	for _, b := range busy {
		if interval.Overlaps(b, slot) {
			return Busy
		}
	}
	return Free
}
