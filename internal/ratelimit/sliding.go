// Package ratelimit implements the two outbound quota policies the provider
// clients run under: a FIFO-fair sliding-window admission queue and a
// fixed-window cooldown. One limiter instance exists per provider and lives
// for the whole process.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ticket is one caller waiting for admission. ready is closed exactly once,
// when the ticket reaches the head of the queue and the window has room.
type ticket struct {
	id    uuid.UUID
	ready chan struct{}
}

// SlidingWindow admits up to limit requests per second in strict arrival
// order. Callers block in Admit until their ticket is granted; a maintenance
// goroutine opens a new window once per second.
type SlidingWindow struct {
	limit int

	mu          sync.Mutex
	queue       []*ticket
	windowCount int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewSlidingWindow creates a started limiter admitting limit requests per
// second. Call Stop when the owning process shuts down.
func NewSlidingWindow(limit int) *SlidingWindow {
	if limit < 1 {
		limit = 1
	}
	sw := &SlidingWindow{
		limit:  limit,
		stopCh: make(chan struct{}),
	}
	go sw.tick()
	return sw
}

// Admit blocks until the caller is allowed to make a request or ctx is done.
// Grants are strictly FIFO: a ticket is only served once every earlier
// ticket has been served.
func (sw *SlidingWindow) Admit(ctx context.Context) error {
	t := &ticket{id: uuid.New(), ready: make(chan struct{})}

	sw.mu.Lock()
	sw.queue = append(sw.queue, t)
	sw.dispatch()
	sw.mu.Unlock()

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		sw.abandon(t)
		return ctx.Err()
	}
}

// dispatch grants queued tickets while the current window has room.
// Caller must hold mu.
func (sw *SlidingWindow) dispatch() {
	for len(sw.queue) > 0 && sw.windowCount < sw.limit {
		head := sw.queue[0]
		sw.queue = sw.queue[1:]
		sw.windowCount++
		close(head.ready)
	}
}

// abandon removes a cancelled ticket from the queue. The grant may have
// raced the cancellation; a granted ticket is simply left spent, which keeps
// the window accounting conservative.
func (sw *SlidingWindow) abandon(t *ticket) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	for i, queued := range sw.queue {
		if queued.id == t.id {
			sw.queue = append(sw.queue[:i], sw.queue[i+1:]...)
			return
		}
	}
}

// tick opens a fresh admission window once per second.
func (sw *SlidingWindow) tick() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stopCh:
			return
		case <-ticker.C:
			sw.mu.Lock()
			sw.windowCount = 0
			sw.dispatch()
			sw.mu.Unlock()
		}
	}
}

// Pending returns the number of callers still waiting for admission.
func (sw *SlidingWindow) Pending() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return len(sw.queue)
}

// Stop terminates the maintenance goroutine. Waiting callers are not
// released; the process is shutting down anyway.
func (sw *SlidingWindow) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopCh) })
}
