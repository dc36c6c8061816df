package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowFIFOOrder(t *testing.T) {
	sw := NewSlidingWindow(1)
	defer sw.Stop()

	// Take the first grant so every later caller has to queue.
	require.NoError(t, sw.Admit(context.Background()))

	const callers = 3

	order := make(chan int, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(t, sw.Admit(context.Background()))
			order <- n
		}(i)

		// Enqueue callers one at a time so arrival order is deterministic.
		for sw.Pending() < i+1 {
			time.Sleep(time.Millisecond)
		}
	}

	wg.Wait()
	close(order)

	var got []int
	for n := range order {
		got = append(got, n)
	}
	require.Len(t, got, callers)
	for i, n := range got {
		assert.Equal(t, i, n, "tickets must be served in arrival order")
	}
}

func TestSlidingWindowRateBound(t *testing.T) {
	const limit = 3
	sw := NewSlidingWindow(limit)
	defer sw.Stop()

	const callers = 9

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, sw.Admit(context.Background()))
		}()
	}
	wg.Wait()

	// 9 admissions at 3/s need at least two extra windows beyond the first.
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 1500*time.Millisecond,
		"admissions completed faster than the configured rate allows")
}

func TestSlidingWindowAdmitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1)
	defer sw.Stop()

	// Fill the current window.
	require.NoError(t, sw.Admit(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sw.Admit(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, sw.Pending(), "cancelled ticket must leave the queue")
}
