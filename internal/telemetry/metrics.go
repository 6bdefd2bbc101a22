package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/breachymba/hub/sync"

	// MonitorMetricsMeterName is the name used for the monitor metrics meter
	MonitorMetricsMeterName = "github.com/breachymba/hub/monitor"
)

// SyncMetrics holds the OpenTelemetry instruments for sync job metrics
type SyncMetrics struct {
	syncDuration   metric.Float64Histogram
	changesApplied metric.Int64Counter
	overlapSkips   metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"hub_sync_duration_seconds",
		metric.WithDescription("Duration of sync job runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	changesApplied, err := meter.Int64Counter(
		"hub_sync_changes_total",
		metric.WithDescription("Total number of recorded source changes"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	overlapSkips, err := meter.Int64Counter(
		"hub_sync_overlap_skips_total",
		metric.WithDescription("Ticks skipped because the previous run was still in progress"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		syncDuration:   syncDuration,
		changesApplied: changesApplied,
		overlapSkips:   overlapSkips,
	}, nil
}

// RecordRun records the outcome of one sync job run
func (m *SyncMetrics) RecordRun(ctx context.Context, job string, duration time.Duration, applied int, success bool) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("job", job),
		attribute.Bool("success", success),
	)
	m.syncDuration.Record(ctx, duration.Seconds(), attrs)
	if applied > 0 {
		m.changesApplied.Add(ctx, int64(applied), metric.WithAttributes(attribute.String("job", job)))
	}
}

// RecordOverlapSkip records a scheduler tick skipped due to a running job
func (m *SyncMetrics) RecordOverlapSkip(ctx context.Context, job string) {
	if m == nil {
		return
	}
	m.overlapSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job)))
}

// MonitorMetrics holds the OpenTelemetry instruments for server probing
type MonitorMetrics struct {
	probesTotal metric.Int64Counter
	transitions metric.Int64Counter
}

// NewMonitorMetrics creates a new MonitorMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewMonitorMetrics(provider metric.MeterProvider) (*MonitorMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MonitorMetricsMeterName)

	probesTotal, err := meter.Int64Counter(
		"hub_monitor_probes_total",
		metric.WithDescription("Total number of server liveness probes"),
		metric.WithUnit("{probe}"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"hub_monitor_transitions_total",
		metric.WithDescription("Announced offline-to-online transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	return &MonitorMetrics{
		probesTotal: probesTotal,
		transitions: transitions,
	}, nil
}

// RecordProbe records one probe outcome for a server
func (m *MonitorMetrics) RecordProbe(ctx context.Context, server string, online bool) {
	if m == nil {
		return
	}
	m.probesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("online", online),
	))
}

// RecordTransition records an announced back-online transition
func (m *MonitorMetrics) RecordTransition(ctx context.Context, server string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("server", server)))
}
