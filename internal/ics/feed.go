package ics

import (
	"context"
	"errors"
	"fmt"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/store"
)

// Feed loads subscriptions into a store, replacing each calendar wholesale.
type Feed struct {
	Fetcher *Fetcher
	Parser  *Parser
	Store   store.ReadWriter
	Sources []Source

	// OnReplace is called with the events a calendar held before and after a
	// refresh, so derived caches can drop the days either set touches.
	OnReplace func(ctx context.Context, before, after []model.Event)
}

// Refresh fetches, parses and stores every source. A source that fails keeps
// its previous events. The returned error joins the per-source failures.
func (f *Feed) Refresh(ctx context.Context) (int, error) {
	results, errs := f.Fetcher.FetchAll(ctx, f.Sources)
	total := 0
	for _, res := range results {
		events, err := f.Parser.Parse(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "id", res.Source.ID)
			errs = append(errs, err)
			continue
		}

		before, err := f.Store.Events(ctx, store.Query{CalendarID: res.Source.CalendarID})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Source.ID, err))
			continue
		}
		if err := f.Store.ReplaceCalendar(ctx, res.Source.CalendarID, events); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Source.ID, err))
			continue
		}
		if f.OnReplace != nil {
			f.OnReplace(ctx, before, events)
		}
		total += len(events)
		appLog.Info("ics calendar refreshed", "id", res.Source.ID, "calendar", res.Source.CalendarID,
			"events", len(events), "from_cache", res.FromCache)
	}
	return total, errors.Join(errs...)
}
