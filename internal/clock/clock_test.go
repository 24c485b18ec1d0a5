package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystem_Now(t *testing.T) {
	before := time.Now()
	got := System{}.Now()
	assert.False(t, got.Before(before))
}

func TestManual_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Hour), c.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Set(start.Add(-24 * time.Hour))
	assert.Equal(t, start.Add(-24*time.Hour), c.Now())
}

func TestManual_ConcurrentAdvance(t *testing.T) {
	start := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(100*time.Second), c.Now())
}
