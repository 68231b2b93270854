package ics

import (
	"time"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/recurrence"
)

// materialize expands RRULE masters, drops EXDATEs and swaps in
// RECURRENCE-ID overrides. Overrides without a master are kept as plain
// events.
func (p *Parser) materialize(src Source, parsed []vevent) []model.Event {
	masters := make(map[string]int)
	overrides := make(map[string][]vevent)
	for i, v := range parsed {
		if v.recurrenceID.IsZero() {
			masters[v.uid] = i
		} else {
			overrides[v.uid] = append(overrides[v.uid], v)
		}
	}

	var out []model.Event
	for _, v := range parsed {
		if !v.recurrenceID.IsZero() {
			if _, ok := masters[v.uid]; !ok {
				ev := v.event
				ev.ID = eventID(src, v.uid) + "@" + v.recurrenceID.UTC().Format("20060102T150405Z")
				out = append(out, ev)
			}
			continue
		}
		if v.rrule == "" {
			out = append(out, v.event)
			continue
		}
		out = append(out, p.expandSeries(src, v, overrides[v.uid])...)
	}
	return out
}

func (p *Parser) expandSeries(src Source, master vevent, overrides []vevent) []model.Event {
	rule, err := recurrence.ParseRule(master.rrule)
	if err == nil {
		err = rule.Validate(p.Expander.AllowOpenEnded)
	}
	if err != nil {
		// unsupported parts (BYDAY lists, yearly...) keep the first instance only
		appLog.Warn("ics rrule not expanded", "id", src.ID, "uid", master.uid, "rrule", master.rrule, "err", err)
		return []model.Event{master.event}
	}

	base := master.event
	base.SeriesID = master.event.ID
	occurrences, truncated, err := p.Expander.Materialize(base, rule)
	if err != nil {
		appLog.Warn("ics series skipped", "id", src.ID, "uid", master.uid, "err", err)
		return nil
	}
	if truncated {
		appLog.Warn("ics series truncated", "id", src.ID, "uid", master.uid, "cap", recurrence.MaxOccurrences)
	}

	out := occurrences[:0]
	for _, occ := range occurrences {
		if containsInstant(master.exdates, occ.Start) {
			continue
		}
		if o, ok := findOverride(overrides, occ.Start); ok {
			repl := o.event
			repl.ID = occ.ID
			repl.SeriesID = occ.SeriesID
			occ = repl
		}
		out = append(out, occ)
	}
	return out
}

func findOverride(overrides []vevent, start time.Time) (vevent, bool) {
	for _, o := range overrides {
		if o.recurrenceID.Equal(start) {
			return o, true
		}
	}
	return vevent{}, false
}

func containsInstant(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}
