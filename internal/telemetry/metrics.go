package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/poltrona/poltrona"
)

// Metrics holds the session lifecycle instruments.
type Metrics struct {
	LoginsTotal          metric.Int64Counter
	RefreshTotal         metric.Int64Counter
	RefreshFailuresTotal metric.Int64Counter
	RefreshDuration      metric.Float64Histogram
	SessionExpiredTotal  metric.Int64Counter
	ProbeTotal           metric.Int64Counter
	ProfileSyncTotal     metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics bound to the global meter provider.
// Until InitTelemetry runs the global provider is a noop.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = NewMetrics(otel.GetMeterProvider())
	})
	return metrics
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(meterName)

	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"poltrona.auth.logins.total",
		metric.WithDescription("Total number of sign-in attempts"),
		metric.WithUnit("{attempt}"),
	)

	m.RefreshTotal, _ = meter.Int64Counter(
		"poltrona.auth.refresh.total",
		metric.WithDescription("Total number of token refreshes"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshFailuresTotal, _ = meter.Int64Counter(
		"poltrona.auth.refresh.failures.total",
		metric.WithDescription("Total number of failed token refreshes"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshDuration, _ = meter.Float64Histogram(
		"poltrona.auth.refresh.duration",
		metric.WithDescription("Duration of token refreshes including retries"),
		metric.WithUnit("ms"),
	)

	m.SessionExpiredTotal, _ = meter.Int64Counter(
		"poltrona.auth.session_expired.total",
		metric.WithDescription("Total number of sessions ended by a rejected refresh"),
		metric.WithUnit("{session}"),
	)

	m.ProbeTotal, _ = meter.Int64Counter(
		"poltrona.auth.probe.total",
		metric.WithDescription("Total number of token validity probes"),
		metric.WithUnit("{probe}"),
	)

	m.ProfileSyncTotal, _ = meter.Int64Counter(
		"poltrona.auth.profile_sync.total",
		metric.WithDescription("Total number of profile reconciliations"),
		metric.WithUnit("{sync}"),
	)

	return m
}

// RecordLogin counts a sign-in attempt by method (password, oauth, signup,
// recovery) and outcome (success, failure).
func (m *Metrics) RecordLogin(ctx context.Context, method string, err error) {
	m.LoginsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordRefresh counts a refresh by trigger and records its duration.
func (m *Metrics) RecordRefresh(ctx context.Context, trigger string, started time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome(err)),
	)
	m.RefreshTotal.Add(ctx, 1, attrs)
	m.RefreshDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	if err != nil {
		m.RefreshFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}
}

// RecordProbe counts a validity probe by result (valid, invalid, unknown).
func (m *Metrics) RecordProbe(ctx context.Context, result string) {
	m.ProbeTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSessionExpired counts a forced sign-out.
func (m *Metrics) RecordSessionExpired(ctx context.Context) {
	m.SessionExpiredTotal.Add(ctx, 1)
}

// RecordProfileSync counts a profile reconciliation.
func (m *Metrics) RecordProfileSync(ctx context.Context, err error) {
	m.ProfileSyncTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
