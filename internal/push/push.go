// Package push subscribes to the event mutation channel over a websocket.
// A mutation only says which event changed and where; receivers re-read
// whatever they derived from it instead of patching state.
package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"calgrid/internal/interval"
	appLog "calgrid/internal/log"
)

// MutationType is the kind of change.
type MutationType string

const (
	Created MutationType = "created"
	Updated MutationType = "updated"
	Deleted MutationType = "deleted"
)

// Mutation is one message on the channel.
type Mutation struct {
	Type       MutationType `json:"type"`
	EventID    string       `json:"event_id"`
	CalendarID string       `json:"calendar_id,omitempty"`
	interval.Interval
	// Previous is the interval before an update moved the event.
	Previous *interval.Interval `json:"previous,omitempty"`
}

// Handler consumes mutations. An error is logged; the stream continues.
type Handler func(ctx context.Context, m Mutation) error

// Listener keeps a websocket subscription open, reconnecting with
// exponential backoff.
type Listener struct {
	URL     string
	Header  http.Header
	Handler Handler
	Dialer  *websocket.Dialer

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewListener(url string, h Handler) *Listener {
	return &Listener{
		URL:        url,
		Handler:    h,
		Dialer:     websocket.DefaultDialer,
		MinBackoff: time.Second,
		MaxBackoff: time.Minute,
	}
}

// Run blocks until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.MinBackoff
	for {
		received, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received > 0 {
			backoff = l.MinBackoff
		}
		appLog.Warn("push channel disconnected", "url", l.URL, "err", err, "retry_in", backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.MaxBackoff {
			backoff = l.MaxBackoff
		}
	}
}

// session reads until the connection fails; it returns how many messages
// were handled.
func (l *Listener) session(ctx context.Context) (int, error) {
	conn, _, err := l.Dialer.DialContext(ctx, l.URL, l.Header)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	appLog.Info("push channel connected", "url", l.URL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	n := 0
	for {
		var m Mutation
		if err := conn.ReadJSON(&m); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return n, nil
			}
			return n, err
		}
		n++
		if m.EventID == "" {
			appLog.Warn("push mutation without event id ignored", "type", m.Type)
			continue
		}
		if err := l.Handler(ctx, m); err != nil {
			appLog.Error("push mutation handling failed", err, "event", m.EventID, "type", m.Type)
		}
	}
}
