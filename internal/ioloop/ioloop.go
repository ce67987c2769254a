// Package ioloop implements the per-channel poll/timer loop of spec
// §3.4/§4.3: one goroutine owns a channel's socket and drives reads,
// writes, and timers, so nothing else ever touches that channel's
// state concurrently. Other goroutines reach into the loop only by
// posting a closure through Post, the same pattern the teacher uses
// for its retention sweep goroutine selecting on a ticker and a done
// channel (internal/memorystore.Retention).
package ioloop

import (
	"context"
	"time"
)

// Callbacks are invoked on the loop's own goroutine, never
// concurrently with each other or with a posted closure.
type Callbacks struct {
	// OnTick fires once per Period, e.g. to drive heartbeats and stale
	// detection (spec §3.4).
	OnTick func(now time.Time)
	// OnReadReady is polled every iteration; it should perform a
	// non-blocking read attempt and return quickly.
	OnReadReady func() error
	// OnWriteReady is polled every iteration when PendingWrite reports
	// true; it should flush as much as the socket will accept without
	// blocking.
	OnWriteReady func() error
	// PendingWrite reports whether OnWriteReady has work to do this
	// iteration, avoiding a busy-spin flush attempt when the send queue
	// is empty.
	PendingWrite func() bool
	// OnIdle fires once per iteration after read/write dispatch, useful
	// for assemblers that need to age out incomplete sequences.
	OnIdle func()
}

// Loop drives one channel's I/O and timer dispatch on its own
// goroutine per spec §3.4 ("one thread per channel").
type Loop struct {
	cb      Callbacks
	period  time.Duration
	workQ   chan func()
	stopped chan struct{}
}

// New creates a Loop with the given callbacks and tick period
// (defaults to 1 second, matching spec §3.4's heartbeat granularity).
func New(cb Callbacks, period time.Duration) *Loop {
	if period <= 0 {
		period = time.Second
	}
	return &Loop{
		cb:      cb,
		period:  period,
		workQ:   make(chan func(), 256),
		stopped: make(chan struct{}),
	}
}

// Post queues fn to run on the loop's goroutine. Safe to call from
// any goroutine, including from within a callback. Post never blocks
// the caller for long: the work queue is generously buffered, and a
// full queue drops the oldest convention is deliberately not
// implemented here — callers posting faster than the loop drains
// indicates a configuration problem the caller should fix, not paper
// over silently.
func (l *Loop) Post(fn func()) {
	select {
	case l.workQ <- fn:
	case <-l.stopped:
	}
}

// Run drives the loop until ctx is cancelled.
// It blocks the calling goroutine; callers run it via `go loop.Run(ctx)`.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	pollInterval := 10 * time.Millisecond
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			close(l.stopped)
			return
		case fn := <-l.workQ:
			fn()
		case now := <-ticker.C:
			if l.cb.OnTick != nil {
				l.cb.OnTick(now)
			}
		case <-poll.C:
			if l.cb.OnReadReady != nil {
				if err := l.cb.OnReadReady(); err != nil {
					// Read errors are surfaced to the owner via its own
					// OnDisconnect/reconnect handling; the loop itself
					// keeps running so timers and posted work still fire.
					_ = err
				}
			}
			if l.cb.PendingWrite != nil && l.cb.PendingWrite() && l.cb.OnWriteReady != nil {
				if err := l.cb.OnWriteReady(); err != nil {
					_ = err
				}
			}
			if l.cb.OnIdle != nil {
				l.cb.OnIdle()
			}
		}
	}
}

// Stopped returns a channel closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}
