package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2025, time.January, 10, 12, 0, 0, 0, time.UTC)

func TestFakeClock_StartsFrozen(t *testing.T) {
	clock := NewFakeClock(start)
	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(start)

	assert.Equal(t, start.Add(time.Hour), clock.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), clock.Now())

	// Never backwards
	assert.Equal(t, start.Add(time.Hour), clock.Advance(-time.Minute))
}

func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(start)

	later := start.AddDate(0, 7, 0)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())

	clock.Set(start)
	assert.Equal(t, later, clock.Now(), "Set must not move the clock backwards")
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(start)
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Second)
				_ = clock.Now()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, start.Add(numGoroutines*callsPerGoroutine*time.Second), clock.Now())
}
