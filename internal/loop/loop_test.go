package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/homegraph/internal/clock"
	"github.com/sweeney/homegraph/internal/timer"
)

func newLoop(opts ...Option) (*Loop, *clock.Fake) {
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(c, timer.New(c), opts...), c
}

func TestPostRunsOnStep(t *testing.T) {
	l, _ := newLoop()
	var got []int
	require.True(t, l.Post(func() { got = append(got, 1) }))
	require.True(t, l.Post(func() { got = append(got, 2) }))

	assert.Empty(t, got, "posted work must not run before Step")
	assert.Equal(t, 2, l.Step())
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 0, l.Step())
}

func TestPostDropsWhenFull(t *testing.T) {
	l, _ := newLoop(WithQueueSize(2))
	assert.True(t, l.Post(func() {}))
	assert.True(t, l.Post(func() {}))
	assert.False(t, l.Post(func() {}))
	assert.Equal(t, uint64(1), l.Dropped())

	l.Step()
	assert.True(t, l.Post(func() {}))
}

func TestPostFromManyGoroutines(t *testing.T) {
	l, _ := newLoop(WithQueueSize(100))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() {})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Step())
}

func TestStepPollsTimers(t *testing.T) {
	l, c := newLoop()
	fired := 0
	l.Timers().After(time.Second, func() { fired++ })

	l.Step()
	assert.Equal(t, 0, fired)
	c.Advance(time.Second)
	l.Step()
	assert.Equal(t, 1, fired)
}

func TestWorkPostedDuringStepWaitsForNextStep(t *testing.T) {
	l, _ := newLoop()
	ran := []string{}
	l.Post(func() {
		ran = append(ran, "first")
		l.Post(func() { ran = append(ran, "second") })
	})
	l.Step()
	assert.Equal(t, []string{"first"}, ran)
	l.Step()
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestAfterStepHook(t *testing.T) {
	l, _ := newLoop()
	var stats []Stats
	l.AfterStep = func(s Stats) { stats = append(stats, s) }

	l.Step()
	assert.Empty(t, stats, "idle steps do not report")

	l.Post(func() {})
	l.Step()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(1), stats[0].Processed)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := clock.System{}
	l := New(c, timer.New(c), WithMaxWait(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	l.Post(func() { close(done) })

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "posted callback never ran")
	}
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Run did not return after cancel")
	}
}

func TestRunFiresRealTimers(t *testing.T) {
	c := clock.System{}
	l := New(c, timer.New(c), WithMaxWait(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{})
	l.Post(func() {
		l.Timers().After(20*time.Millisecond, func() { close(fired) })
	})
	go l.Run(ctx)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timer never fired")
	}
}
