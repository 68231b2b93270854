// Package ics turns iCalendar subscriptions into model events: it fetches
// feeds with HTTP caching, maps VEVENTs (attendees, rooms, status) onto the
// domain model and materializes RRULE series through the recurrence package.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calgrid/internal/interval"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/recurrence"
	"calgrid/internal/tz"
)

// vevent is one VEVENT before series handling.
type vevent struct {
	uid   string
	event model.Event

	rrule   string
	exdates []time.Time
	// recurrenceID is set on overrides of a single series instance.
	recurrenceID time.Time
}

// Parser maps ICS payloads to events. Date-only values and floating times
// (no TZID, no Z) are read as business wall-clock.
type Parser struct {
	Zone     tz.Zone
	Expander *recurrence.Expander
}

// NewParser accepts open-ended RRULEs since feeds rarely bound their
// series; the expander cap still applies.
func NewParser(zone tz.Zone) *Parser {
	return &Parser{Zone: zone, Expander: &recurrence.Expander{Zone: zone, AllowOpenEnded: true}}
}

// Parse returns the concrete events of body for src. A VEVENT that cannot
// be read is logged and skipped.
func (p *Parser) Parse(src Source, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics parse %s: %w", src.ID, err)
	}

	var parsed []vevent
	for _, ve := range cal.Events() {
		v, err := p.parseVEvent(src, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "err", err)
			continue
		}
		parsed = append(parsed, v)
	}

	events := p.materialize(src, parsed)
	appLog.Info("ics parse completed", "id", src.ID, "vevents", len(parsed), "events", len(events))
	return events, nil
}

func (p *Parser) parseVEvent(src Source, ve *ical.VEvent) (vevent, error) {
	var v vevent
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return v, errors.New("missing UID")
	}
	v.uid = uidProp.Value

	ev := model.Event{
		ID:         eventID(src, v.uid),
		CalendarID: src.CalendarID,
		Status:     model.StatusConfirmed,
	}
	if prop := ve.GetProperty(ical.ComponentPropertySummary); prop != nil {
		ev.Title = prop.Value
	}
	if prop := ve.GetProperty(ical.ComponentPropertyStatus); prop != nil &&
		strings.EqualFold(prop.Value, string(ical.ObjectStatusCancelled)) {
		ev.Status = model.StatusCancelled
	} else if prop := ve.GetProperty(ical.ComponentPropertyTransp); prop != nil &&
		strings.EqualFold(prop.Value, string(ical.TransparencyTransparent)) {
		ev.Status = model.StatusTentativeAvailable
	}

	start, end, allDay, err := p.times(ve)
	if err != nil {
		return v, fmt.Errorf("uid %s: %w", v.uid, err)
	}
	iv, err := interval.New(start, end)
	if err != nil {
		return v, fmt.Errorf("uid %s: %w", v.uid, err)
	}
	ev.Interval, ev.AllDay = iv, allDay

	for _, a := range ve.Attendees() {
		email := strings.ToLower(strings.TrimSpace(a.Email()))
		if email == "" {
			continue
		}
		if strings.EqualFold(firstParam(&a.BaseProperty, ical.ParameterCutype), string(ical.CalendarUserTypeRoom)) {
			if ev.RoomID == "" {
				ev.RoomID = email
			}
			continue
		}
		ev.Participants = append(ev.Participants, model.Participant{
			UserID:         email,
			Email:          email,
			ResponseStatus: responseStatus(a.ParticipationStatus()),
		})
	}

	if prop := ve.GetProperty(ical.ComponentPropertyRrule); prop != nil {
		v.rrule = prop.Value
	}
	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(prop.Value, ",") {
			if t, err := p.parseTime(strings.TrimSpace(part), firstParam(&prop.BaseProperty, ical.ParameterTzid)); err == nil {
				v.exdates = append(v.exdates, t)
			}
		}
	}
	if prop := ve.GetProperty(ical.ComponentPropertyRecurrenceId); prop != nil {
		t, err := p.parseTime(prop.Value, firstParam(&prop.BaseProperty, ical.ParameterTzid))
		if err != nil {
			return v, fmt.Errorf("uid %s: RECURRENCE-ID: %w", v.uid, err)
		}
		v.recurrenceID = t
	}

	v.event = ev
	return v, nil
}

// times reads DTSTART with DTEND or DURATION. All-day events span whole
// business days; with neither end property an all-day event lasts one day
// and a timed one is an error.
func (p *Parser) times(ve *ical.VEvent) (start, end time.Time, allDay bool, err error) {
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return start, end, false, errors.New("missing DTSTART")
	}
	allDay = strings.EqualFold(firstParam(&dtStart.BaseProperty, ical.ParameterValue), "DATE") ||
		!strings.Contains(dtStart.Value, "T")

	if allDay {
		s, err := ve.GetAllDayStartAt()
		if err != nil {
			return start, end, true, err
		}
		start = p.midnight(s)
		end = start.AddDate(0, 0, 1)
		if ve.GetProperty(ical.ComponentPropertyDtEnd) != nil {
			if e, err := ve.GetAllDayEndAt(); err == nil {
				end = p.midnight(e)
			}
		} else if d := ve.GetProperty(ical.ComponentPropertyDuration); d != nil {
			dur, err := parseDuration(d.Value)
			if err != nil {
				return start, end, true, err
			}
			end = dur.after(start)
		}
		return start, end, true, nil
	}

	start, err = p.parseTime(dtStart.Value, firstParam(&dtStart.BaseProperty, ical.ParameterTzid))
	if err != nil {
		return start, end, false, err
	}
	dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)
	if dtEnd == nil {
		d := ve.GetProperty(ical.ComponentPropertyDuration)
		if d == nil {
			return start, end, false, errors.New("missing DTEND and DURATION")
		}
		dur, err := parseDuration(d.Value)
		if err != nil {
			return start, end, false, err
		}
		return start, dur.after(start), false, nil
	}
	end, err = p.parseTime(dtEnd.Value, firstParam(&dtEnd.BaseProperty, ical.ParameterTzid))
	return start, end, false, err
}

// midnight re-reads the calendar date of t as business midnight.
func (p *Parser) midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return p.Zone.FromBusiness(tz.LocalTime{Year: y, Month: m, Day: d})
}

// parseTime reads DATE-TIME and DATE values. UTC values carry Z, zoned ones
// a TZID; anything else is business wall-clock.
func (p *Parser) parseTime(v, tzid string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case tzid != "":
		loc, err := time.LoadLocation(tzid)
		if err != nil {
			return time.Time{}, err
		}
		return time.ParseInLocation("20060102T150405", v, loc)
	case strings.Contains(v, "T"):
		t, err := time.Parse("20060102T150405", v)
		if err != nil {
			return time.Time{}, err
		}
		return p.Zone.FromBusiness(tz.LocalTime{Year: t.Year(), Month: t.Month(), Day: t.Day(), Hour: t.Hour(), Minute: t.Minute()}), nil
	default:
		t, err := time.Parse("20060102", v)
		if err != nil {
			return time.Time{}, err
		}
		return p.midnight(t), nil
	}
}

func firstParam(prop *ical.BaseProperty, name ical.Parameter) string {
	if vs := prop.ICalParameters[string(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func responseStatus(ps ical.ParticipationStatus) model.ResponseStatus {
	switch ical.ParticipationStatus(strings.ToUpper(string(ps))) {
	case ical.ParticipationStatusAccepted:
		return model.ResponseAccepted
	case ical.ParticipationStatusDeclined:
		return model.ResponseDeclined
	default:
		return model.ResponsePending
	}
}

// eventID scopes a UID to its calendar; the same invitation often shows up
// in several subscribed calendars.
func eventID(src Source, uid string) string {
	return src.CalendarID + "/" + uid
}
