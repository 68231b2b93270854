package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calgrid/internal/interval"
	"calgrid/internal/model"
	"calgrid/internal/store"
)

// ErrUnreachableConflictSource wraps any failure to obtain existing events.
var ErrUnreachableConflictSource = errors.New("conflict source unreachable")

// Query is one conflict check.
type Query struct {
	CalendarID string
	Candidate  interval.Interval
	Resources  []model.Resource
	ExcludeID  string
}

// Source answers conflict queries.
type Source interface {
	Conflicts(ctx context.Context, q Query) ([]Entry, error)
}

// Response is the JSON body of GET /api/conflicts. A server that could not
// answer reports StatusUnknown rather than an empty list.
type Response struct {
	Status    Status  `json:"status,omitempty"`
	Conflicts []Entry `json:"conflicts"`
}

// LocalSource runs Detect over events read from a store.
type LocalSource struct {
	Events store.Reader
}

func (s LocalSource) Conflicts(ctx context.Context, q Query) ([]Entry, error) {
	events, err := s.Events.Events(ctx, store.Query{
		From:       q.Candidate.Start,
		To:         q.Candidate.End,
		CalendarID: q.CalendarID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachableConflictSource, err)
	}
	return Detect(events, q.Candidate, q.Resources, q.ExcludeID), nil
}

// HTTPSource asks a remote calgrid instance.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) Conflicts(ctx context.Context, q Query) ([]Entry, error) {
	v := url.Values{}
	v.Set("calendar", q.CalendarID)
	v.Set("from", q.Candidate.Start.Format(time.RFC3339))
	v.Set("to", q.Candidate.End.Format(time.RFC3339))
	for _, r := range q.Resources {
		v.Add("resource", r.Key())
	}
	if q.ExcludeID != "" {
		v.Set("exclude", q.ExcludeID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/conflicts?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachableConflictSource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrUnreachableConflictSource, resp.Status)
	}
	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnreachableConflictSource, err)
	}
	if body.Status == StatusUnknown {
		return nil, fmt.Errorf("%w: remote could not check", ErrUnreachableConflictSource)
	}
	return body.Conflicts, nil
}
