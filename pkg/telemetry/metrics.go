// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync/atomic"

	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/securemem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the qrng instruments.
//
// Engine metrics are fed through the qrng.Observer methods; the HTTP
// instruments are recorded by the rngd middleware.
type Metrics struct {
	// OperationsTotal counts engine operations by op and result code.
	OperationsTotal metric.Int64Counter

	// BytesGenerated counts bytes handed to callers by op.
	BytesGenerated metric.Int64Counter

	// RekeysTotal counts generator rekeys by reason.
	RekeysTotal metric.Int64Counter

	// HealthFailuresTotal counts failed entropy health tests by test.
	HealthFailuresTotal metric.Int64Counter

	// PoolQuality reports the pool quality seen on the latest operation.
	PoolQuality metric.Float64ObservableGauge

	// SecureBuffers reports live secure buffers and their mlocked bytes.
	SecureBuffers metric.Int64ObservableGauge

	// HTTPRequestsTotal counts rngd requests by route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records rngd request latency.
	HTTPRequestDuration metric.Float64Histogram

	quality atomic.Uint64
	handler http.Handler
}

// NewMetrics creates all instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.OperationsTotal, err = meter.Int64Counter(
		"qrng_operations_total",
		metric.WithDescription("Engine operations by op and result code"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operations_total: %w", err)
	}

	m.BytesGenerated, err = meter.Int64Counter(
		"qrng_bytes_generated_total",
		metric.WithDescription("Random bytes delivered to callers"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bytes_generated_total: %w", err)
	}

	m.RekeysTotal, err = meter.Int64Counter(
		"qrng_rekeys_total",
		metric.WithDescription("Stream generator rekeys by reason"),
		metric.WithUnit("{rekey}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rekeys_total: %w", err)
	}

	m.HealthFailuresTotal, err = meter.Int64Counter(
		"qrng_health_failures_total",
		metric.WithDescription("Entropy source health test failures by test"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create health_failures_total: %w", err)
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"qrng_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"qrng_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.PoolQuality, err = meter.Float64ObservableGauge(
		"qrng_pool_quality",
		metric.WithDescription("Entropy pool quality in [0, 1] after the latest operation"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(m.Quality())
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create pool_quality: %w", err)
	}

	m.SecureBuffers, err = meter.Int64ObservableGauge(
		"qrng_secure_buffers",
		metric.WithDescription("Live secure buffers (kind=live) and mlocked bytes (kind=locked_bytes)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(securemem.Live(), metric.WithAttributes(attribute.String("kind", "live")))
			o.Observe(securemem.LockedBytes(), metric.WithAttributes(attribute.String("kind", "locked_bytes")))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create secure_buffers: %w", err)
	}

	return m, nil
}

// Handler returns the Prometheus scrape handler, or nil when the metrics
// were not built by a Provider exporting to Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return nil
	}
	return m.handler
}

// Quality returns the most recently reported pool quality.
func (m *Metrics) Quality() float64 {
	return math.Float64frombits(m.quality.Load())
}

// OnOperation implements qrng.Observer.
func (m *Metrics) OnOperation(ev qrng.Event) {
	ctx := context.Background()
	m.OperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", ev.Op),
		attribute.String("code", qrng.CodeOf(ev.Err).String()),
	))
	if ev.Err == nil && ev.Bytes > 0 {
		m.BytesGenerated.Add(ctx, int64(ev.Bytes), metric.WithAttributes(
			attribute.String("op", ev.Op),
		))
	}
	m.quality.Store(math.Float64bits(ev.Quality))
}

// OnRekey implements qrng.Observer.
func (m *Metrics) OnRekey(reason string) {
	m.RekeysTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// OnHealthFailure implements qrng.Observer.
func (m *Metrics) OnHealthFailure(test string) {
	m.HealthFailuresTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("test", test),
	))
}

var _ qrng.Observer = (*Metrics)(nil)
