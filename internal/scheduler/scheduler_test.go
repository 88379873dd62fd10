package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestQueuePopDueOrder(t *testing.T) {
	q := NewQueue()
	q.Push("c", epoch.Add(3*time.Minute))
	q.Push("a", epoch.Add(time.Minute))
	q.Push("b", epoch.Add(time.Minute))
	q.Push("d", epoch.Add(time.Hour))

	assert.Equal(t, []string{"a", "b", "c"}, q.PopDue(epoch.Add(5*time.Minute)))
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Contains("d"))
}

func TestQueuePushReschedulesExistingKey(t *testing.T) {
	q := NewQueue()
	q.Push("a", epoch.Add(time.Hour))
	q.Push("a", epoch)

	assert.Equal(t, 1, q.Len())
	e, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, epoch, e.DueAt)
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Push("a", epoch)
	q.Push("b", epoch.Add(time.Second))

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"))
	assert.Equal(t, []string{"b"}, q.PopDue(epoch.Add(time.Minute)))
}

func TestFakeClockAdvanceWakesSleeper(t *testing.T) {
	c := NewFakeClock(epoch)
	done := make(chan error, 1)
	go func() { done <- c.Sleep(context.Background(), time.Minute) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.BlockUntil(ctx, 1))

	c.Advance(30 * time.Second)
	select {
	case <-done:
		t.Fatal("woke before deadline")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleeper not woken")
	}
	assert.Equal(t, epoch.Add(time.Minute), c.Now())
}

func TestFakeClockSleepCancelled(t *testing.T) {
	c := NewFakeClock(epoch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Sleep(ctx, time.Hour) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, c.BlockUntil(waitCtx, 1))
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFakeClockAutoAdvanceRecordsSleeps(t *testing.T) {
	c := NewFakeClock(epoch)
	c.SetAutoAdvance(true)

	require.NoError(t, c.Sleep(context.Background(), 2*time.Second))
	require.NoError(t, c.Sleep(context.Background(), 30*time.Second))

	assert.Equal(t, epoch.Add(32*time.Second), c.Now())
	assert.Equal(t, []time.Duration{2 * time.Second, 30 * time.Second}, c.Sleeps())
}

func TestSchedulerTickRunsDueAndKeepsFuture(t *testing.T) {
	c := NewFakeClock(epoch)
	var mu sync.Mutex
	var fired []string
	s := New(c, time.Minute, func(_ context.Context, key string) error {
		mu.Lock()
		fired = append(fired, key)
		mu.Unlock()
		if key == "bad" {
			return errors.New("boom")
		}
		return nil
	}, nil)

	s.Schedule("bad", epoch.Add(-time.Second))
	s.Schedule("now", epoch)
	s.Schedule("later", epoch.Add(time.Hour))

	assert.Equal(t, 2, s.Tick(context.Background()))
	assert.Equal(t, []string{"bad", "now"}, fired)
	assert.Equal(t, 1, s.Pending())

	assert.True(t, s.Cancel("later"))
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerRefillEachTick(t *testing.T) {
	c := NewFakeClock(epoch)
	c.SetAutoAdvance(true)
	var fired []string
	refills := 0
	s := New(c, time.Minute, func(_ context.Context, key string) error {
		fired = append(fired, key)
		return nil
	}, func(_ context.Context, now time.Time) ([]Entry, error) {
		refills++
		if refills == 1 {
			return []Entry{{Key: "camp-1", DueAt: now.Add(90 * time.Second)}}, nil
		}
		return nil, errors.New("store down")
	})

	assert.Equal(t, 0, s.Tick(context.Background()))
	require.NoError(t, c.Sleep(context.Background(), time.Minute))
	assert.Equal(t, 0, s.Tick(context.Background()))
	require.NoError(t, c.Sleep(context.Background(), time.Minute))
	assert.Equal(t, 1, s.Tick(context.Background()), "refill errors do not drop queued keys")
	assert.Equal(t, []string{"camp-1"}, fired)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	c := NewFakeClock(epoch)
	ticks := make(chan string, 10)
	s := New(c, time.Minute, func(_ context.Context, key string) error {
		ticks <- key
		return nil
	}, nil)
	s.Schedule("k1", epoch.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, c.BlockUntil(waitCtx, 1))
	c.Advance(time.Minute)

	select {
	case key := <-ticks:
		assert.Equal(t, "k1", key)
	case <-time.After(time.Second):
		t.Fatal("due key not fired")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
