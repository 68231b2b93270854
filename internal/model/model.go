package model

import (
	"errors"
	"fmt"
	"strings"

	"calgrid/internal/interval"
)

// Status is the lifecycle state of an Event.
type Status string

const (
	StatusConfirmed          Status = "confirmed"
	StatusCancelled          Status = "cancelled"
	StatusTentativeAvailable Status = "tentative-available"
)

// ParseStatus maps a stored/wire value to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusConfirmed, "":
		return StatusConfirmed, nil
	case StatusCancelled:
		return StatusCancelled, nil
	case StatusTentativeAvailable:
		return StatusTentativeAvailable, nil
	default:
		return "", fmt.Errorf("model: unknown event status %q", s)
	}
}

// ResponseStatus is a participant's answer to an invitation.
type ResponseStatus string

const (
	ResponseAccepted ResponseStatus = "accepted"
	ResponseDeclined ResponseStatus = "declined"
	ResponsePending  ResponseStatus = "pending"
)

func ParseResponseStatus(s string) (ResponseStatus, error) {
	switch ResponseStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ResponseAccepted:
		return ResponseAccepted, nil
	case ResponseDeclined:
		return ResponseDeclined, nil
	case ResponsePending, "":
		return ResponsePending, nil
	default:
		return "", fmt.Errorf("model: unknown response status %q", s)
	}
}

// Participant is a user invited to an Event.
type Participant struct {
	UserID         string         `json:"user_id"`
	Email          string         `json:"email"`
	ResponseStatus ResponseStatus `json:"response_status"`
}

// Event is one concrete calendar entry. Recurring series are stored as
// already materialized occurrences sharing a SeriesID.
type Event struct {
	interval.Interval

	ID           string        `json:"id"`
	CalendarID   string        `json:"calendar_id,omitempty"`
	Title        string        `json:"title"`
	AllDay       bool          `json:"all_day"`
	Status       Status        `json:"status"`
	RoomID       string        `json:"room_id,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	SeriesID     string        `json:"series_id,omitempty"`
}

// Participant returns the entry for userID, if any.
func (e Event) Participant(userID string) (Participant, bool) {
	for _, p := range e.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// SplitAllDay separates all-day events (laid out in their own row) from timed ones.
func SplitAllDay(events []Event) (timed, allDay []Event) {
	for _, e := range events {
		if e.AllDay {
			allDay = append(allDay, e)
		} else {
			timed = append(timed, e)
		}
	}
	return timed, allDay
}

// ResourceKind discriminates Resource.
type ResourceKind string

const (
	KindParticipant ResourceKind = "participant"
	KindRoom        ResourceKind = "room"
)

var ErrInvalidResource = errors.New("model: invalid resource")

// Resource is the unit of free/busy computation: a participant or a room.
type Resource struct {
	Kind ResourceKind `json:"kind"`
	ID   string       `json:"id"`
}

// Person is the participant Resource for userID.
func Person(userID string) Resource { return Resource{Kind: KindParticipant, ID: userID} }

func Room(roomID string) Resource { return Resource{Kind: KindRoom, ID: roomID} }

// Key is the stable "kind:id" form used in URLs and cache keys.
func (r Resource) Key() string {
	return string(r.Kind) + ":" + r.ID
}

func (r Resource) String() string { return r.Key() }

// ParseResource parses the "kind:id" form produced by Key.
func ParseResource(s string) (Resource, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return Resource{}, fmt.Errorf("%w %q: want kind:id", ErrInvalidResource, s)
	}
	switch ResourceKind(kind) {
	case KindParticipant, KindRoom:
		return Resource{Kind: ResourceKind(kind), ID: id}, nil
	default:
		return Resource{}, fmt.Errorf("%w %q: unknown kind", ErrInvalidResource, s)
	}
}
