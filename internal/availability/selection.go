package availability

import "math"

// Selector turns drag gestures on the day grid into slot-aligned selections.
type Selector struct {
	Work            WorkDay
	PixelsPerMinute float64
}

// Selection is a range of window-relative minutes, always slot aligned.
type Selection struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
	// Collapsed is set when the drag would have crossed a blocked slot and
	// the selection fell back to the anchor slot.
	Collapsed bool `json:"collapsed"`
}

// Select snaps a drag from anchorPx to currentPx (pixel offsets from the top
// of the window) to whole slots. blocked holds the aggregate states of the
// resources that cannot be overridden (usually the acting user). ok is false
// when the anchor slot itself is busy.
func (s Selector) Select(anchorPx, currentPx float64, blocked []State) (Selection, bool) {
	n := s.Work.Minutes() / s.Work.SlotMinutes
	anchor := s.slotAt(anchorPx, n)
	current := s.slotAt(currentPx, n)

	if isBusy(blocked, anchor) {
		return Selection{}, false
	}

	lo, hi := anchor, current
	if hi < lo {
		lo, hi = hi, lo
	}
	for i := lo; i <= hi; i++ {
		if isBusy(blocked, i) {
			return s.slots(anchor, anchor, true), true
		}
	}
	return s.slots(lo, hi, false), true
}

func (s Selector) slots(lo, hi int, collapsed bool) Selection {
	return Selection{
		StartMinute: lo * s.Work.SlotMinutes,
		EndMinute:   (hi + 1) * s.Work.SlotMinutes,
		Collapsed:   collapsed,
	}
}

// slotAt converts a pixel offset to a slot index inside [0, n).
func (s Selector) slotAt(px float64, n int) int {
	if s.PixelsPerMinute <= 0 {
		return 0
	}
	minute := int(math.Floor(px / s.PixelsPerMinute))
	idx := minute / s.Work.SlotMinutes
	if minute < 0 || idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

func isBusy(states []State, i int) bool {
	return i >= 0 && i < len(states) && states[i] == Busy
}
