package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"calgrid/internal/interval"
	"calgrid/internal/model"
)

// eventRow mirrors the events table.
type eventRow struct {
	ID         string
	CalendarID string
	Title      string
	AllDay     bool
	Status     string
	RoomID     pgtype.Text
	SeriesID   pgtype.Text
	StartsAt   pgtype.Timestamptz
	EndsAt     pgtype.Timestamptz
}

type participantRow struct {
	EventID        string
	UserID         string
	Email          string
	ResponseStatus string
}

func timestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

func textOrEmpty(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func eventToDomain(r eventRow) (model.Event, error) {
	status, err := model.ParseStatus(r.Status)
	if err != nil {
		return model.Event{}, err
	}
	iv, err := interval.New(timestamptzToTime(r.StartsAt), timestamptzToTime(r.EndsAt))
	if err != nil {
		return model.Event{}, err
	}
	return model.Event{
		Interval:   iv,
		ID:         r.ID,
		CalendarID: r.CalendarID,
		Title:      r.Title,
		AllDay:     r.AllDay,
		Status:     status,
		RoomID:     textOrEmpty(r.RoomID),
		SeriesID:   textOrEmpty(r.SeriesID),
	}, nil
}

func eventToRow(e model.Event) eventRow {
	status := e.Status
	if status == "" {
		status = model.StatusConfirmed
	}
	return eventRow{
		ID:         e.ID,
		CalendarID: e.CalendarID,
		Title:      e.Title,
		AllDay:     e.AllDay,
		Status:     string(status),
		RoomID:     nullableText(e.RoomID),
		SeriesID:   nullableText(e.SeriesID),
		StartsAt:   pgtype.Timestamptz{Time: e.Start, Valid: true},
		EndsAt:     pgtype.Timestamptz{Time: e.End, Valid: true},
	}
}

func participantToDomain(p participantRow) (model.Participant, error) {
	rs, err := model.ParseResponseStatus(p.ResponseStatus)
	if err != nil {
		return model.Participant{}, err
	}
	return model.Participant{UserID: p.UserID, Email: p.Email, ResponseStatus: rs}, nil
}

func participantToRow(eventID string, p model.Participant) participantRow {
	rs := p.ResponseStatus
	if rs == "" {
		rs = model.ResponsePending
	}
	return participantRow{EventID: eventID, UserID: p.UserID, Email: p.Email, ResponseStatus: string(rs)}
}
