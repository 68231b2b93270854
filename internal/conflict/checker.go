package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "calgrid/internal/log"
)

// DefaultDebounce is the quiet period Submit waits for before querying.
const DefaultDebounce = 400 * time.Millisecond

// Status qualifies a Report.
type Status string

const (
	// StatusKnown: Entries is the answer (possibly empty).
	StatusKnown Status = "known"
	// StatusUnknown: the source failed; Err says why. Callers show a soft
	// warning and let the user proceed.
	StatusUnknown Status = "unknown"
	// StatusStale: a newer query superseded this one. Discard it.
	StatusStale Status = "stale"
)

// Report is the outcome of one check.
type Report struct {
	Query   Query
	Status  Status
	Entries []Entry
	Err     error
}

// Checker runs conflict queries against a Source. Only the latest query
// counts: a new Submit or Check cancels the one in flight, and results that
// arrive after being superseded come back as StatusStale.
type Checker struct {
	src      Source
	debounce time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	seq      uint64
	timer    *time.Timer
	inflight context.CancelFunc
	closed   bool

	reports chan Report
}

func NewChecker(src Source, debounce time.Duration) *Checker {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Checker{
		src:      src,
		debounce: debounce,
		timeout:  10 * time.Second,
		reports:  make(chan Report, 1),
	}
}

// Reports delivers the results of Submit. Only the newest undelivered report
// is kept; stale ones are never sent.
func (c *Checker) Reports() <-chan Report { return c.reports }

// Submit schedules q after the debounce period, replacing anything pending.
func (c *Checker) Submit(q Query) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	seq := c.supersedeLocked()
	c.timer = time.AfterFunc(c.debounce, func() {
		ctx, cancel, ok := c.start(context.Background(), seq)
		if !ok {
			return
		}
		defer cancel()
		rep := c.run(ctx, seq, q)
		if rep.Status == StatusStale || !c.deliver(seq, rep) {
			appLog.Debug("conflict check superseded", "calendar", q.CalendarID)
		}
	})
}

// Check runs q now and returns its report. It supersedes any pending or
// in-flight query, including earlier Submit calls.
func (c *Checker) Check(ctx context.Context, q Query) Report {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Report{Query: q, Status: StatusStale}
	}
	seq := c.supersedeLocked()
	c.mu.Unlock()

	ctx, cancel, ok := c.start(ctx, seq)
	if !ok {
		return Report{Query: q, Status: StatusStale}
	}
	defer cancel()
	return c.run(ctx, seq, q)
}

// Close stops pending work. Reports is not closed.
func (c *Checker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked()
	c.closed = true
}

func (c *Checker) supersedeLocked() uint64 {
	c.seq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
	return c.seq
}

// start registers the in-flight query seq; ok is false if it is already outdated.
func (c *Checker) start(parent context.Context, seq uint64) (context.Context, context.CancelFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != seq || c.closed {
		return nil, nil, false
	}
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	c.inflight = cancel
	return ctx, cancel, true
}

func (c *Checker) current(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq == seq
}

func (c *Checker) run(ctx context.Context, seq uint64, q Query) Report {
	entries, err := c.src.Conflicts(ctx, q)
	if !c.current(seq) {
		return Report{Query: q, Status: StatusStale}
	}
	if err != nil {
		if !errors.Is(err, ErrUnreachableConflictSource) {
			err = fmt.Errorf("%w: %v", ErrUnreachableConflictSource, err)
		}
		appLog.Warn("conflict check failed", "calendar", q.CalendarID, "err", err)
		return Report{Query: q, Status: StatusUnknown, Err: err}
	}
	return Report{Query: q, Status: StatusKnown, Entries: entries}
}

// deliver publishes rep unless seq was superseded. The check and the send
// share c.mu so an outdated report can never replace a newer one.
func (c *Checker) deliver(seq uint64, rep Report) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != seq {
		return false
	}
	for {
		select {
		case c.reports <- rep:
			return true
		default:
		}
		// drop the undelivered older report
		select {
		case <-c.reports:
		default:
		}
	}
}
