package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"calgrid/internal/model"
	"calgrid/internal/tz"
)

// Export renders events as an iCalendar document. All-day events are written
// as DATE values in zone.
func Export(name string, events []model.Event, zone tz.Zone) string {
	cal := ical.NewCalendarFor("calgrid")
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}
	stamp := time.Now()

	for _, e := range events {
		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(stamp)
		ve.SetSummary(e.Title)
		if e.AllDay {
			ve.SetAllDayStartAt(zone.In(e.Start))
			ve.SetAllDayEndAt(zone.In(e.End))
		} else {
			ve.SetStartAt(e.Start)
			ve.SetEndAt(e.End)
		}

		switch e.Status {
		case model.StatusCancelled:
			ve.SetStatus(ical.ObjectStatusCancelled)
		case model.StatusTentativeAvailable:
			ve.SetStatus(ical.ObjectStatusConfirmed)
			ve.SetTimeTransparency(ical.TransparencyTransparent)
		default:
			ve.SetStatus(ical.ObjectStatusConfirmed)
		}

		if e.RoomID != "" {
			ve.AddAttendee(e.RoomID, ical.CalendarUserTypeRoom)
		}
		for _, p := range e.Participants {
			addr := p.Email
			if addr == "" {
				addr = p.UserID
			}
			ve.AddAttendee(addr, partStat(p.ResponseStatus))
		}
	}
	return cal.Serialize()
}

func partStat(rs model.ResponseStatus) ical.ParticipationStatus {
	switch rs {
	case model.ResponseAccepted:
		return ical.ParticipationStatusAccepted
	case model.ResponseDeclined:
		return ical.ParticipationStatusDeclined
	default:
		return ical.ParticipationStatusNeedsAction
	}
}
