// Package coordinator schedules the background sync and monitor jobs.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breachymba/hub/internal/telemetry"
)

const (
	// defaultContentInterval is how often workshop and collection syncs run.
	defaultContentInterval = 10 * time.Minute
	// defaultMonitorInterval is how often server liveness checks run.
	defaultMonitorInterval = 2 * time.Minute
)

// Job is one schedulable unit of background work. Run returns how many
// changes it applied.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Coordinator manages the background job loops.
type Coordinator interface {
	// Start begins the scheduling loops and blocks until the context is
	// cancelled. Every job group runs once immediately on start.
	Start(ctx context.Context) error

	// Stop cancels the loops and waits for in-flight jobs to finish.
	Stop() error
}

type defaultCoordinator struct {
	contentJobs []Job
	monitorJobs []Job

	contentInterval time.Duration
	monitorInterval time.Duration

	metrics *telemetry.SyncMetrics

	// inFlight guards each job against overlapping runs: a tick that lands
	// while the previous run is still going is skipped, not queued.
	inFlight map[string]*atomic.Bool
	wg       sync.WaitGroup

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option configures the coordinator.
type Option func(*defaultCoordinator)

// WithContentInterval overrides the content sync interval. Zero keeps the
// default.
func WithContentInterval(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		if d > 0 {
			c.contentInterval = d
		}
	}
}

// WithMonitorInterval overrides the monitor interval. Zero keeps the
// default.
func WithMonitorInterval(d time.Duration) Option {
	return func(c *defaultCoordinator) {
		if d > 0 {
			c.monitorInterval = d
		}
	}
}

// WithMetrics attaches sync metrics to the coordinator.
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.metrics = metrics
	}
}

// New creates a coordinator for the given job groups.
func New(contentJobs, monitorJobs []Job, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		contentJobs:     contentJobs,
		monitorJobs:     monitorJobs,
		contentInterval: defaultContentInterval,
		monitorInterval: defaultMonitorInterval,
		inFlight:        make(map[string]*atomic.Bool),
		done:            make(chan struct{}),
	}
	for _, job := range contentJobs {
		c.inFlight[job.Name] = &atomic.Bool{}
	}
	for _, job := range monitorJobs {
		c.inFlight[job.Name] = &atomic.Bool{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the scheduling loops and blocks until the context is
// cancelled.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background coordinator",
		"content_interval", c.contentInterval,
		"monitor_interval", c.monitorInterval,
		"content_jobs", len(c.contentJobs),
		"monitor_jobs", len(c.monitorJobs))

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background coordinator shutting down")
	}()

	contentTicker := time.NewTicker(c.contentInterval)
	defer contentTicker.Stop()
	monitorTicker := time.NewTicker(c.monitorInterval)
	defer monitorTicker.Stop()

	// All jobs run once immediately on boot.
	c.runGroup(coordCtx, c.contentJobs)
	c.runGroup(coordCtx, c.monitorJobs)

	for {
		select {
		case <-contentTicker.C:
			c.runGroup(coordCtx, c.contentJobs)
		case <-monitorTicker.C:
			c.runGroup(coordCtx, c.monitorJobs)
		case <-coordCtx.Done():
			slog.Info("Coordinator stopping")
			c.wg.Wait()
			return nil
		}
	}
}

// Stop cancels the loops and waits for the coordinator to finish.
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// runGroup launches every job in the group concurrently, skipping any whose
// previous run has not finished.
func (c *defaultCoordinator) runGroup(ctx context.Context, jobs []Job) {
	for _, job := range jobs {
		if !c.inFlight[job.Name].CompareAndSwap(false, true) {
			slog.Warn("Skipping job run, previous run still in progress", "job", job.Name)
			c.metrics.RecordOverlapSkip(ctx, job.Name)
			continue
		}

		c.wg.Add(1)
		go func(job Job) {
			defer c.wg.Done()
			defer c.inFlight[job.Name].Store(false)

			start := time.Now()
			applied, err := job.Run(ctx)
			duration := time.Since(start)

			if err != nil && ctx.Err() == nil {
				slog.Error("Job run failed", "job", job.Name, "duration", duration, "error", err)
			} else {
				slog.Debug("Job run finished", "job", job.Name, "duration", duration, "applied", applied)
			}
			c.metrics.RecordRun(ctx, job.Name, duration, applied, err == nil)
		}(job)
	}
}
