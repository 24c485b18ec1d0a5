// Package streak derives consecutive-day completion streaks.
package streak

import (
	"context"
	"sync"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/db"
)

// Date is a calendar day in the calculator's location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{y, m, d}
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC)
	return Date{t.Year(), t.Month(), t.Day()}
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
}

// Calculator computes streaks against an injected clock. Days are
// calendar days in Location.
type Calculator struct {
	clock    clock.Clock
	location *time.Location
}

// NewCalculator creates a Calculator. A nil loc means time.Local.
func NewCalculator(clk clock.Clock, loc *time.Location) *Calculator {
	if clk == nil {
		clk = clock.System{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Calculator{clock: clk, location: loc}
}

// Location returns the day-boundary location.
func (c *Calculator) Location() *time.Location {
	return c.location
}

// Today returns the current calendar day.
func (c *Calculator) Today() Date {
	return DateOf(c.clock.Now(), c.location)
}

// Current returns the number of consecutive days, ending today, with at
// least one completion. A day with no completion yet does not break the
// streak until it is over, so an empty today counts back from yesterday.
func (c *Calculator) Current(completions []time.Time) int {
	days := make(map[Date]struct{}, len(completions))
	for _, t := range completions {
		days[DateOf(t, c.location)] = struct{}{}
	}

	day := c.Today()
	if _, ok := days[day]; !ok {
		day = day.AddDays(-1)
	}

	n := 0
	for {
		if _, ok := days[day]; !ok {
			return n
		}
		n++
		day = day.AddDays(-1)
	}
}

// Record is the persisted streak state. Longest is a high-water mark: it
// is only ever raised from an observed current streak, never recomputed
// from the full history.
type Record struct {
	Current   int       `json:"current"`
	Longest   int       `json:"longest"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Observe folds a freshly computed current streak into r and reports
// whether Longest moved.
func (r *Record) Observe(current int, now time.Time) bool {
	r.Current = current
	r.UpdatedAt = now
	if current > r.Longest {
		r.Longest = current
		return true
	}
	return false
}

// MetaStore persists small JSON values. *store.Store implements it.
type MetaStore interface {
	ReadMeta(ctx context.Context, k db.MetaKey, v interface{}) (bool, error)
	WriteMeta(ctx context.Context, k db.MetaKey, v interface{}) error
}

// Tracker keeps the persisted Record in step with the session history.
// Refresh calls are serialized so the stored Longest never moves down.
type Tracker struct {
	calc  *Calculator
	store MetaStore

	mu sync.Mutex
}

// NewTracker creates a Tracker.
func NewTracker(calc *Calculator, store MetaStore) *Tracker {
	return &Tracker{calc: calc, store: store}
}

// Calculator returns the tracker's calculator.
func (t *Tracker) Calculator() *Calculator {
	return t.calc
}

// Load returns the persisted record, or a zero record if none was saved.
func (t *Tracker) Load(ctx context.Context) (Record, error) {
	var r Record
	if _, err := t.store.ReadMeta(ctx, db.MetaStreak, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Refresh recomputes the current streak from completions, raises the
// persisted longest streak if needed and returns the result. The record is
// only written when it changed.
func (t *Tracker) Refresh(ctx context.Context, completions []time.Time) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.Load(ctx)
	if err != nil {
		return Record{}, err
	}

	current := t.calc.Current(completions)
	prev := r
	r.Observe(current, t.calc.clock.Now())
	if prev.Current == r.Current && prev.Longest == r.Longest {
		return prev, nil
	}

	if err := t.store.WriteMeta(ctx, db.MetaStreak, r); err != nil {
		return Record{}, err
	}
	return r, nil
}
