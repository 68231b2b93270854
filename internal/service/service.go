// Package service composes the event sources, the availability cache and the
// four engines into the operations the HTTP API exposes.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"calgrid/internal/availability"
	"calgrid/internal/cache"
	"calgrid/internal/conflict"
	"calgrid/internal/interval"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/push"
	"calgrid/internal/recurrence"
	"calgrid/internal/store"
	"calgrid/internal/tz"
)

// Options configures New. Cache and Conflicts default to an in-memory cache
// and a store-backed conflict source.
type Options struct {
	Events    store.Reader
	Cache     cache.DayCache
	Conflicts conflict.Source
	Zone      tz.Zone
	WorkDay   availability.WorkDay
	Layout    layout.Options
	// MaxFanOut bounds concurrent per-resource loads.
	MaxFanOut int
	// Debounce is handed to the per-session conflict checkers.
	Debounce time.Duration
}

type Service struct {
	events    store.Reader
	cache     cache.DayCache
	conflicts conflict.Source
	zone      tz.Zone
	engine    *availability.Engine
	layout    layout.Options
	expander  *recurrence.Expander
	fanOut    int
	debounce  time.Duration

	loads singleflight.Group

	checkMu  sync.Mutex
	checkers map[string]*sessionChecker
}

type sessionChecker struct {
	c    *conflict.Checker
	used time.Time
}

const (
	// checkerIdle is how long an editing session's checker survives without use.
	checkerIdle = 10 * time.Minute
	// loadTimeout bounds a shared busy-interval load.
	loadTimeout = 30 * time.Second
)

func New(opts Options) (*Service, error) {
	if opts.Events == nil {
		return nil, errors.New("service: no event source")
	}
	engine, err := availability.NewEngine(opts.WorkDay, opts.Zone)
	if err != nil {
		return nil, err
	}
	s := &Service{
		events:    opts.Events,
		cache:     opts.Cache,
		conflicts: opts.Conflicts,
		zone:      opts.Zone,
		engine:    engine,
		layout:    opts.Layout,
		expander:  recurrence.NewExpander(opts.Zone),
		fanOut:    opts.MaxFanOut,
		debounce:  opts.Debounce,
		checkers:  make(map[string]*sessionChecker),
	}
	if s.cache == nil {
		s.cache = cache.NewMemory(0)
	}
	if s.conflicts == nil {
		s.conflicts = conflict.LocalSource{Events: opts.Events}
	}
	if s.fanOut <= 0 {
		s.fanOut = 8
	}
	return s, nil
}

func (s *Service) Engine() *availability.Engine { return s.engine }

func (s *Service) Zone() tz.Zone { return s.zone }

// Events passes q through to the event source.
func (s *Service) Events(ctx context.Context, q store.Query) ([]model.Event, error) {
	return s.events.Events(ctx, q)
}

// Busy returns the busy intervals of r on day, clamped to the work-day
// window. Results are cached per (resource, day); concurrent misses for the
// same key share one load.
func (s *Service) Busy(ctx context.Context, r model.Resource, day availability.Day) ([]interval.Interval, error) {
	key := cache.Key{Resource: r.Key(), Day: day.String()}
	if busy, ok, err := s.cache.Get(ctx, key); err != nil {
		appLog.Warn("availability cache read failed", "key", key.String(), "err", err)
	} else if ok {
		return busy, nil
	}

	ch := s.loads.DoChan(key.String(), func() (any, error) {
		// shared by every waiter on key, so it outlives any one request
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		gen, genErr := s.cache.Generation(lctx, key.Day)
		if genErr != nil {
			appLog.Warn("availability cache generation read failed", "key", key.String(), "err", genErr)
		}
		window := s.engine.Window(day)
		events, err := s.events.Events(lctx, store.Query{From: window.Start, To: window.End, Resource: &r})
		if err != nil {
			return nil, fmt.Errorf("load events for %s on %s: %w", r, day, err)
		}
		busy := s.engine.BusyIntervals(events, r, day)
		if genErr != nil {
			return busy, nil
		}
		if stored, err := s.cache.Set(lctx, key, gen, busy); err != nil {
			appLog.Warn("availability cache write failed", "key", key.String(), "err", err)
		} else if !stored {
			appLog.Debug("availability load raced an invalidation, not cached", "key", key.String())
		}
		return busy, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]interval.Interval), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResourceDay is the grid of one resource.
type ResourceDay struct {
	Resource model.Resource       `json:"resource"`
	States   []availability.State `json:"states"`
	Busy     []interval.Interval  `json:"busy"`
}

// DayAvailability is the grid of a set of resources on one day.
type DayAvailability struct {
	Day         string                  `json:"day"`
	Window      interval.Interval       `json:"window"`
	Slots       []availability.TimeSlot `json:"slots"`
	Resources   []ResourceDay           `json:"resources"`
	Aggregate   []availability.State    `json:"aggregate"`
	FreeWindows []interval.Interval     `json:"free_windows"`
}

// Availability computes per-slot states of every resource, loading them in
// parallel, plus the aggregate (busy if anyone is busy).
func (s *Service) Availability(ctx context.Context, day availability.Day, resources []model.Resource) (DayAvailability, error) {
	out := DayAvailability{
		Day:       day.String(),
		Window:    s.engine.Window(day),
		Slots:     s.engine.Slots(),
		Resources: make([]ResourceDay, len(resources)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, r := range resources {
		i, r := i, r
		g.Go(func() error {
			busy, err := s.Busy(gctx, r, day)
			if err != nil {
				return err
			}
			out.Resources[i] = ResourceDay{Resource: r, Busy: busy, States: s.engine.DayStates(busy, day)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DayAvailability{}, err
	}

	per := make([][]availability.State, len(out.Resources))
	for i, rd := range out.Resources {
		per[i] = rd.States
	}
	out.Aggregate = availability.AggregateDay(per, len(out.Slots))
	out.FreeWindows = s.engine.FreeWindows(out.Aggregate, day)
	return out, nil
}

// LayoutResult positions the events of a window. Timed and all-day events
// are laid out separately.
type LayoutResult struct {
	Events []model.Event                `json:"events"`
	Timed  map[string]layout.Assignment `json:"timed"`
	AllDay map[string]layout.Assignment `json:"all_day"`
}

func (s *Service) Layout(ctx context.Context, calendarID string, from, to time.Time) (LayoutResult, error) {
	if _, err := interval.New(from, to); err != nil {
		return LayoutResult{}, err
	}
	events, err := s.events.Events(ctx, store.Query{CalendarID: calendarID, From: from, To: to})
	if err != nil {
		return LayoutResult{}, err
	}
	visible := events[:0:0]
	for _, e := range events {
		if e.Status != model.StatusCancelled {
			visible = append(visible, e)
		}
	}
	timed, allDay := model.SplitAllDay(visible)
	return LayoutResult{
		Events: visible,
		Timed:  layout.ComputeWith(timed, s.layout),
		AllDay: layout.ComputeWith(allDay, s.layout),
	}, nil
}

// Conflicts checks a candidate against the conflict source.
func (s *Service) Conflicts(ctx context.Context, q conflict.Query) ([]conflict.Entry, error) {
	if _, err := interval.New(q.Candidate.Start, q.Candidate.End); err != nil {
		return nil, err
	}
	return s.conflicts.Conflicts(ctx, q)
}

// CheckCandidate runs q through the conflict checker of an editing session:
// a newer check of the same session supersedes an older one still in
// flight, which then reports StatusStale. Source failures come back as
// StatusUnknown inside the report.
func (s *Service) CheckCandidate(ctx context.Context, session string, q conflict.Query) (conflict.Report, error) {
	if _, err := interval.New(q.Candidate.Start, q.Candidate.End); err != nil {
		return conflict.Report{}, err
	}
	return s.checker(session).Check(ctx, q), nil
}

func (s *Service) checker(session string) *conflict.Checker {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	now := time.Now()
	for k, sc := range s.checkers {
		if k != session && now.Sub(sc.used) > checkerIdle {
			sc.c.Close()
			delete(s.checkers, k)
		}
	}
	sc, ok := s.checkers[session]
	if !ok {
		sc = &sessionChecker{c: conflict.NewChecker(s.conflicts, s.debounce)}
		s.checkers[session] = sc
	}
	sc.used = now
	return sc.c
}

// Close stops the session checkers.
func (s *Service) Close() {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	for k, sc := range s.checkers {
		sc.c.Close()
		delete(s.checkers, k)
	}
}

// CalendarConflicts lists every collision between events of calendarID in
// [from, to).
func (s *Service) CalendarConflicts(ctx context.Context, calendarID string, from, to time.Time) ([]conflict.Entry, error) {
	if _, err := interval.New(from, to); err != nil {
		return nil, err
	}
	events, err := s.events.Events(ctx, store.Query{CalendarID: calendarID, From: from, To: to})
	if err != nil {
		return nil, err
	}
	return conflict.ScanCalendar(events), nil
}

// SeriesPlan is a materialized series together with the conflicts of each
// occurrence.
type SeriesPlan struct {
	Occurrences []model.Event    `json:"occurrences"`
	Truncated   bool             `json:"truncated"`
	Conflicts   []conflict.Entry `json:"conflicts"`
}

// PlanSeries expands ev with rule and checks every occurrence against the
// existing events of ev's calendar. Conflict failures do not fail the plan;
// they come back as ErrUnreachableConflictSource next to a valid plan.
func (s *Service) PlanSeries(ctx context.Context, ev model.Event, rule recurrence.Rule) (SeriesPlan, error) {
	occ, truncated, err := s.expander.Materialize(ev, rule)
	if err != nil {
		return SeriesPlan{}, err
	}
	plan := SeriesPlan{Occurrences: occ, Truncated: truncated}
	resources := conflict.ResourcesOf(ev)
	if len(resources) == 0 {
		return plan, nil
	}
	for _, o := range occ {
		entries, err := s.conflicts.Conflicts(ctx, conflict.Query{
			CalendarID: ev.CalendarID,
			Candidate:  o.Interval,
			Resources:  resources,
			ExcludeID:  ev.ID,
		})
		if err != nil {
			if !errors.Is(err, conflict.ErrUnreachableConflictSource) {
				err = fmt.Errorf("%w: %v", conflict.ErrUnreachableConflictSource, err)
			}
			return plan, err
		}
		for _, e := range entries {
			e.SubjectEventID = o.ID
			plan.Conflicts = append(plan.Conflicts, e)
		}
	}
	return plan, nil
}

// InvalidateInterval drops cached availability of every business day iv touches.
func (s *Service) InvalidateInterval(ctx context.Context, iv interval.Interval) error {
	if !iv.Valid() {
		return nil
	}
	var errs []error
	for _, day := range availability.DaysSpanning(s.zone, iv) {
		if err := s.cache.InvalidateDay(ctx, day.String()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InvalidateEvents drops the days touched by any event in the given sets.
func (s *Service) InvalidateEvents(ctx context.Context, sets ...[]model.Event) error {
	days := make(map[string]struct{})
	for _, set := range sets {
		for _, e := range set {
			if !e.Valid() {
				continue
			}
			for _, d := range availability.DaysSpanning(s.zone, e.Interval) {
				days[d.String()] = struct{}{}
			}
		}
	}
	var errs []error
	for d := range days {
		if err := s.cache.InvalidateDay(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyMutation is the push.Handler: it invalidates the days of the new
// interval, of the previous one, and of whatever the store currently holds
// for the event.
func (s *Service) ApplyMutation(ctx context.Context, m push.Mutation) error {
	errs := []error{s.InvalidateInterval(ctx, m.Interval)}
	if m.Previous != nil {
		errs = append(errs, s.InvalidateInterval(ctx, *m.Previous))
	}
	if stored, err := s.events.Get(ctx, m.EventID); err == nil {
		errs = append(errs, s.InvalidateInterval(ctx, stored.Interval))
	} else if !errors.Is(err, store.ErrNotFound) {
		errs = append(errs, err)
	}
	appLog.Debug("push mutation applied", "event", m.EventID, "type", m.Type)
	return errors.Join(errs...)
}
