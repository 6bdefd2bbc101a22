package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startCoordinator(t *testing.T, c Coordinator) {
	t.Helper()

	started := make(chan struct{})
	go func() {
		close(started)
		_ = c.Start(context.Background())
	}()
	<-started
	t.Cleanup(func() { _ = c.Stop() })
}

func TestCoordinator_RunsJobsImmediately(t *testing.T) {
	t.Parallel()

	var contentRuns, monitorRuns atomic.Int32
	c := New(
		[]Job{{Name: "content", Run: func(context.Context) (int, error) {
			contentRuns.Add(1)
			return 0, nil
		}}},
		[]Job{{Name: "monitor", Run: func(context.Context) (int, error) {
			monitorRuns.Add(1)
			return 0, nil
		}}},
		WithContentInterval(time.Hour),
		WithMonitorInterval(time.Hour),
	)

	startCoordinator(t, c)

	require.Eventually(t, func() bool {
		return contentRuns.Load() == 1 && monitorRuns.Load() == 1
	}, time.Second, 5*time.Millisecond, "both groups should run once on boot")
}

func TestCoordinator_TicksGroupsIndependently(t *testing.T) {
	t.Parallel()

	var contentRuns, monitorRuns atomic.Int32
	c := New(
		[]Job{{Name: "content", Run: func(context.Context) (int, error) {
			contentRuns.Add(1)
			return 0, nil
		}}},
		[]Job{{Name: "monitor", Run: func(context.Context) (int, error) {
			monitorRuns.Add(1)
			return 0, nil
		}}},
		WithContentInterval(time.Hour),
		WithMonitorInterval(20*time.Millisecond),
	)

	startCoordinator(t, c)

	require.Eventually(t, func() bool {
		return monitorRuns.Load() >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), contentRuns.Load(), "the slow group should only have its boot run")
}

func TestCoordinator_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var runs atomic.Int32
	var once sync.Once
	c := New(nil,
		[]Job{{Name: "slow", Run: func(context.Context) (int, error) {
			runs.Add(1)
			once.Do(func() { <-release })
			return 0, nil
		}}},
		WithMonitorInterval(10*time.Millisecond),
	)

	startCoordinator(t, c)

	// Several ticks elapse while the first run blocks; each one must be
	// skipped rather than queued.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond, "runs resume once the stuck job finishes")
}

func TestCoordinator_StopWaitsForInflightJobs(t *testing.T) {
	t.Parallel()

	jobStarted := make(chan struct{})
	var finished atomic.Bool
	c := New(nil,
		[]Job{{Name: "slow", Run: func(context.Context) (int, error) {
			close(jobStarted)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return 0, nil
		}}},
		WithMonitorInterval(time.Hour),
	)

	go func() { _ = c.Start(context.Background()) }()
	<-jobStarted

	require.NoError(t, c.Stop())
	assert.True(t, finished.Load(), "Stop should not return before in-flight jobs finish")
}
