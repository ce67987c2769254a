package ioloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostRunsOnLoopGoroutine(t *testing.T) {
	var ran int32
	l := New(Callbacks{}, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	done := make(chan struct{})
	l.Post(func() {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted work never ran")
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&ran))
}

func TestOnTickFiresPeriodically(t *testing.T) {
	var ticks int32
	l := New(Callbacks{OnTick: func(time.Time) { atomic.AddInt32(&ticks, 1) }}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	time.Sleep(60 * time.Millisecond)
	require.GreaterOrEqual(t, atomic.LoadInt32(&ticks), int32(2))
}

func TestWriteReadyOnlyFiresWhenPending(t *testing.T) {
	var pending int32
	var writeCalls int32
	l := New(Callbacks{
		PendingWrite: func() bool { return atomic.LoadInt32(&pending) == 1 },
		OnWriteReady: func() error {
			atomic.AddInt32(&writeCalls, 1)
			atomic.StoreInt32(&pending, 0)
			return nil
		},
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer cancel()

	time.Sleep(30 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&writeCalls))

	atomic.StoreInt32(&pending, 1)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&writeCalls) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l := New(Callbacks{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()

	select {
	case <-l.Stopped():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}
