package store

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/db"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/sync/queue"
)

// benchStore opens a store over backend for benchmarks.
func benchStore(tb testing.TB, backend db.Backend) *Store {
	tb.Helper()
	log := logging.Discard()
	clk := clock.NewManual(t0)
	q := queue.NewSyncQueue(backend, queue.Options{Clock: clk, Logger: log})
	return New(backend, q, Options{Clock: clk, Logger: log})
}

func populate(tb testing.TB, s *Store, n int) {
	tb.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		m := &models.MeditationSession{Duration: 10, CompletedAt: t0.Add(time.Duration(i) * time.Hour)}
		if _, err := s.Meditations.Create(ctx, m); err != nil {
			tb.Fatalf("Create failed: %v", err)
		}
	}
}

func backends(b *testing.B) map[string]func() db.Backend {
	return map[string]func() db.Backend{
		"memory": func() db.Backend { return db.NewMemoryBackend() },
		"sqlite": func() db.Backend {
			backend, err := db.OpenSQLite(b.TempDir())
			if err != nil {
				b.Fatalf("OpenSQLite failed: %v", err)
			}
			return backend
		},
	}
}

// BenchmarkCreate measures one record write plus its outbox item.
func BenchmarkCreate(b *testing.B) {
	for name, open := range backends(b) {
		b.Run(name, func(b *testing.B) {
			backend := open()
			defer backend.Close()
			s := benchStore(b, backend)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				m := &models.MeditationSession{Duration: 10, CompletedAt: t0}
				if _, err := s.Meditations.Create(ctx, m); err != nil {
					b.Fatalf("Create failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkList1000 measures decoding a year's worth of sessions.
func BenchmarkList1000(b *testing.B) {
	for name, open := range backends(b) {
		b.Run(name, func(b *testing.B) {
			backend := open()
			defer backend.Close()
			s := benchStore(b, backend)
			populate(b, s, 1000)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				records, err := s.Meditations.List(ctx)
				if err != nil {
					b.Fatalf("List failed: %v", err)
				}
				if len(records) != 1000 {
					b.Fatalf("List returned %d records, want 1000", len(records))
				}
			}
		})
	}
}

// TestRepeatedListMemory checks that listing over and over does not keep
// growing the heap.
func TestRepeatedListMemory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping memory profile in short mode")
	}
	s := benchStore(t, db.NewMemoryBackend())
	populate(t, s, 500)
	ctx := context.Background()

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	for i := 0; i < 200; i++ {
		if _, err := s.Meditations.List(ctx); err != nil {
			t.Fatalf("List failed: %v", err)
		}
	}

	runtime.GC()
	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	t.Logf("heap before: %s, after: %s, total allocated: %s",
		humanize.Bytes(before.HeapAlloc), humanize.Bytes(after.HeapAlloc),
		humanize.Bytes(after.TotalAlloc-before.TotalAlloc))

	if after.HeapAlloc > before.HeapAlloc && after.HeapAlloc-before.HeapAlloc > 50<<20 {
		t.Errorf("heap grew by %s across repeated lists", humanize.Bytes(after.HeapAlloc-before.HeapAlloc))
	}
}
