package streak

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/db"
)

func at(day string, hour int, loc *time.Location) time.Time {
	d, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		panic(err)
	}
	return d.Add(time.Duration(hour) * time.Hour)
}

func TestCurrent(t *testing.T) {
	loc := time.UTC
	now := at("2025-01-20", 18, loc)

	tests := []struct {
		name        string
		completions []time.Time
		want        int
	}{
		{
			name: "three consecutive days ending today",
			completions: []time.Time{
				at("2025-01-18", 8, loc), at("2025-01-19", 8, loc), at("2025-01-20", 8, loc),
			},
			want: 3,
		},
		{
			name:        "gap on the 19th",
			completions: []time.Time{at("2025-01-18", 8, loc), at("2025-01-20", 8, loc)},
			want:        1,
		},
		{
			name:        "two sessions on the same day",
			completions: []time.Time{at("2025-01-20", 7, loc), at("2025-01-20", 17, loc)},
			want:        1,
		},
		{
			name:        "nothing yet today keeps yesterday's streak",
			completions: []time.Time{at("2025-01-18", 8, loc), at("2025-01-19", 8, loc)},
			want:        2,
		},
		{
			name:        "last session two days ago",
			completions: []time.Time{at("2025-01-17", 8, loc), at("2025-01-18", 8, loc)},
			want:        0,
		},
		{
			name: "unsorted input",
			completions: []time.Time{
				at("2025-01-20", 8, loc), at("2025-01-18", 8, loc), at("2025-01-19", 8, loc),
			},
			want: 3,
		},
		{
			name: "no sessions",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calc := NewCalculator(clock.NewManual(now), loc)
			assert.Equal(t, tt.want, calc.Current(tt.completions))
		})
	}
}

func TestCurrent_LocalDayBoundary(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*60*60)
	// 2025-01-20 22:00 local is already the 21st in UTC
	now := at("2025-01-20", 22, loc)
	completions := []time.Time{
		at("2025-01-19", 23, loc), // 2025-01-20 07:00 UTC
		at("2025-01-20", 10, loc), // 2025-01-20 18:00 UTC
	}

	assert.Equal(t, 2, NewCalculator(clock.NewManual(now), loc).Current(completions))
	assert.Equal(t, 1, NewCalculator(clock.NewManual(now), time.UTC).Current(completions))
}

func TestDate(t *testing.T) {
	d := Date{2024, time.December, 31}
	assert.Equal(t, Date{2025, time.January, 1}, d.AddDays(1))
	assert.Equal(t, Date{2024, time.February, 29}, Date{2024, time.March, 1}.AddDays(-1))
	assert.Equal(t, "2024-12-31", d.String())
}

func TestRecord_Observe(t *testing.T) {
	now := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	var r Record

	assert.True(t, r.Observe(3, now))
	assert.False(t, r.Observe(1, now))
	assert.Equal(t, 1, r.Current)
	assert.Equal(t, 3, r.Longest, "longest never goes down")
	assert.True(t, r.Observe(4, now))
	assert.Equal(t, 4, r.Longest)
}

type memoryMeta struct {
	values map[db.MetaKey][]byte
	writes int
}

func (m *memoryMeta) ReadMeta(_ context.Context, k db.MetaKey, v interface{}) (bool, error) {
	data, ok := m.values[k]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (m *memoryMeta) WriteMeta(_ context.Context, k db.MetaKey, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.values[k] = data
	m.writes++
	return nil
}

func TestTracker_Refresh(t *testing.T) {
	loc := time.UTC
	clk := clock.NewManual(at("2025-01-20", 12, loc))
	meta := &memoryMeta{values: map[db.MetaKey][]byte{}}
	tracker := NewTracker(NewCalculator(clk, loc), meta)
	ctx := context.Background()

	history := []time.Time{at("2025-01-18", 8, loc), at("2025-01-19", 8, loc), at("2025-01-20", 8, loc)}
	r, err := tracker.Refresh(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Current)
	assert.Equal(t, 3, r.Longest)
	assert.Equal(t, 1, meta.writes)

	// Unchanged state is not rewritten
	_, err = tracker.Refresh(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.writes)

	// Two days later the streak is broken but the high-water mark stays
	clk.Advance(48 * time.Hour)
	r, err = tracker.Refresh(ctx, history)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Current)
	assert.Equal(t, 3, r.Longest)

	loaded, err := tracker.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Longest)
}

// gatedMeta parks the first WriteMeta until release is closed.
type gatedMeta struct {
	mu      sync.Mutex
	inner   *memoryMeta
	first   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedMeta) ReadMeta(ctx context.Context, k db.MetaKey, v interface{}) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.ReadMeta(ctx, k, v)
}

func (g *gatedMeta) WriteMeta(ctx context.Context, k db.MetaKey, v interface{}) error {
	g.mu.Lock()
	park := !g.first
	g.first = true
	g.mu.Unlock()
	if park {
		close(g.entered)
		<-g.release
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inner.WriteMeta(ctx, k, v)
}

func TestTracker_RefreshConcurrentKeepsLongest(t *testing.T) {
	loc := time.UTC
	clk := clock.NewManual(at("2025-01-20", 12, loc))
	meta := &gatedMeta{
		inner:   &memoryMeta{values: map[db.MetaKey][]byte{}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	tracker := NewTracker(NewCalculator(clk, loc), meta)
	ctx := context.Background()

	older := []time.Time{at("2025-01-18", 8, loc), at("2025-01-19", 8, loc), at("2025-01-20", 8, loc)}
	newer := append([]time.Time{at("2025-01-17", 8, loc)}, older...)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := tracker.Refresh(ctx, older)
		assert.NoError(t, err)
	}()
	<-meta.entered

	go func() {
		defer wg.Done()
		_, err := tracker.Refresh(ctx, newer)
		assert.NoError(t, err)
	}()
	// give the second refresh a chance to run ahead of the parked write
	time.Sleep(20 * time.Millisecond)
	close(meta.release)
	wg.Wait()

	r, err := tracker.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Longest)
	assert.Equal(t, 4, r.Current)
}

func TestTracker_RefreshParallel(t *testing.T) {
	loc := time.UTC
	clk := clock.NewManual(at("2025-01-20", 12, loc))
	meta := &gatedMeta{
		inner:   &memoryMeta{values: map[db.MetaKey][]byte{}},
		first:   true,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	tracker := NewTracker(NewCalculator(clk, loc), meta)
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 1; n <= 10; n++ {
		var history []time.Time
		for d := 0; d < n; d++ {
			history = append(history, at("2025-01-20", 8, loc).AddDate(0, 0, -d))
		}
		wg.Add(1)
		go func(history []time.Time) {
			defer wg.Done()
			_, err := tracker.Refresh(ctx, history)
			assert.NoError(t, err)
		}(history)
	}
	wg.Wait()

	r, err := tracker.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, r.Longest)
}
