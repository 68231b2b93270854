package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"calgrid/internal/interval"
	"calgrid/internal/model"
	"calgrid/internal/store"
)

var _ store.ReadWriter = (*EventRepository)(nil)

type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

const eventColumns = `id, calendar_id, title, all_day, status, room_id, series_id, starts_at, ends_at`

// buildEventsQuery renders q as SQL with positional arguments.
func buildEventsQuery(q store.Query) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.CalendarID != "" {
		where = append(where, "calendar_id = "+arg(q.CalendarID))
	}
	if !q.From.IsZero() {
		where = append(where, "ends_at > "+arg(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "starts_at < "+arg(q.To))
	}
	if r := q.Resource; r != nil {
		switch r.Kind {
		case model.KindRoom:
			where = append(where, "room_id = "+arg(r.ID))
		case model.KindParticipant:
			where = append(where, "EXISTS (SELECT 1 FROM event_participants p WHERE p.event_id = events.id AND p.user_id = "+arg(r.ID)+")")
		default:
			where = append(where, "FALSE")
		}
	}

	sql := "SELECT " + eventColumns + " FROM events"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY starts_at, ends_at, id"
	return sql, args
}

func scanEvent(row pgx.Row) (eventRow, error) {
	var r eventRow
	err := row.Scan(&r.ID, &r.CalendarID, &r.Title, &r.AllDay, &r.Status, &r.RoomID, &r.SeriesID, &r.StartsAt, &r.EndsAt)
	return r, err
}

func (r *EventRepository) Events(ctx context.Context, q store.Query) ([]model.Event, error) {
	sql, args := buildEventsQuery(q)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	raw, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (eventRow, error) { return scanEvent(row) })
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	out := make([]model.Event, 0, len(raw))
	ids := make([]string, 0, len(raw))
	for _, er := range raw {
		e, err := eventToDomain(er)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", er.ID, err)
		}
		out = append(out, e)
		ids = append(ids, e.ID)
	}
	if err := r.attachParticipants(ctx, out, ids); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EventRepository) Get(ctx context.Context, id string) (model.Event, error) {
	er, err := scanEvent(r.pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Event{}, store.ErrNotFound
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event %s: %w", id, err)
	}
	e, err := eventToDomain(er)
	if err != nil {
		return model.Event{}, fmt.Errorf("event %s: %w", id, err)
	}
	events := []model.Event{e}
	if err := r.attachParticipants(ctx, events, []string{id}); err != nil {
		return model.Event{}, err
	}
	return events[0], nil
}

func (r *EventRepository) attachParticipants(ctx context.Context, events []model.Event, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, user_id, email, response_status FROM event_participants
		 WHERE event_id = ANY($1) ORDER BY event_id, user_id`, ids)
	if err != nil {
		return fmt.Errorf("get participants: %w", err)
	}
	raw, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (participantRow, error) {
		var p participantRow
		err := row.Scan(&p.EventID, &p.UserID, &p.Email, &p.ResponseStatus)
		return p, err
	})
	if err != nil {
		return fmt.Errorf("scan participants: %w", err)
	}

	index := make(map[string]int, len(events))
	for i, e := range events {
		index[e.ID] = i
	}
	for _, pr := range raw {
		i, ok := index[pr.EventID]
		if !ok {
			continue
		}
		p, err := participantToDomain(pr)
		if err != nil {
			return fmt.Errorf("participant %s of %s: %w", pr.UserID, pr.EventID, err)
		}
		events[i].Participants = append(events[i].Participants, p)
	}
	return nil
}

func (r *EventRepository) Upsert(ctx context.Context, events ...model.Event) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, e := range events {
			if err := upsertEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *EventRepository) Remove(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM events WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *EventRepository) ReplaceCalendar(ctx context.Context, calendarID string, events []model.Event) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM events WHERE calendar_id = $1", calendarID); err != nil {
			return fmt.Errorf("clear calendar %s: %w", calendarID, err)
		}
		for _, e := range events {
			e.CalendarID = calendarID
			if err := upsertEvent(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertEvent(ctx context.Context, tx pgx.Tx, e model.Event) error {
	if _, err := interval.New(e.Start, e.End); err != nil {
		return fmt.Errorf("event %s: %w", e.ID, err)
	}
	row := eventToRow(e)
	_, err := tx.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			calendar_id = EXCLUDED.calendar_id,
			title       = EXCLUDED.title,
			all_day     = EXCLUDED.all_day,
			status      = EXCLUDED.status,
			room_id     = EXCLUDED.room_id,
			series_id   = EXCLUDED.series_id,
			starts_at   = EXCLUDED.starts_at,
			ends_at     = EXCLUDED.ends_at,
			updated_at  = now()`,
		row.ID, row.CalendarID, row.Title, row.AllDay, row.Status, row.RoomID, row.SeriesID, row.StartsAt, row.EndsAt)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM event_participants WHERE event_id = $1", e.ID); err != nil {
		return fmt.Errorf("clear participants of %s: %w", e.ID, err)
	}
	if len(e.Participants) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range e.Participants {
		pr := participantToRow(e.ID, p)
		batch.Queue(`INSERT INTO event_participants (event_id, user_id, email, response_status) VALUES ($1, $2, $3, $4)`,
			pr.EventID, pr.UserID, pr.Email, pr.ResponseStatus)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert participants of %s: %w", e.ID, err)
	}
	return nil
}
