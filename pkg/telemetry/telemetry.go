// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry metrics and traces for qrng.
//
// Start builds a Provider for one process. The engine configuration is
// stamped on the resource, so every exported series and span says which pool
// size, rekey interval and memory mode produced it. The Provider's Metrics
// implements qrng.Observer: a Context built with
// qrng.WithObserver(p.Metrics()) reports operations, generated bytes,
// rekeys, health test failures and pool quality without the engine
// importing any telemetry code.
//
// # Exporters
//
// Metrics: "prometheus" (default, served by Metrics.Handler), "stdout" or
// "none". Traces: "otlp", "stdout" or "none" (default). With both set to
// "none" the Provider still hands out a working Metrics backed by a no-op
// meter.
//
// # Usage
//
//	p, err := telemetry.Start(ctx, cfg.Telemetry, cfg.Engine)
//	if err != nil {
//	    return fmt.Errorf("start telemetry: %w", err)
//	}
//	defer p.Shutdown(context.Background())
//
//	c, err := qrng.New(qrng.WithConfig(cfg.Engine), qrng.WithObserver(p.Metrics()))
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/AleutianAI/qrng/pkg/qrng"
	"github.com/AleutianAI/qrng/pkg/securemem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	metricapi "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

var (
	// ErrNilContext is returned when Start is called with a nil context.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter type")
)

// Exporter names accepted in Config.
const (
	ExporterNone       = "none"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

// Config controls telemetry behavior.
type Config struct {
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter"`

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string `yaml:"metric_exporter" json:"metric_exporter"`

	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlp_insecure"`
}

// DefaultConfig returns defaults for local use. QRNG_ENV,
// OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER and
// OTEL_EXPORTER_OTLP_ENDPOINT override the matching fields.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "qrng",
		ServiceVersion: qrng.Version(),
		Environment:    getEnvOr("QRNG_ENV", "development"),
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", ExporterNone),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", ExporterPrometheus),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// Provider owns the trace and meter pipelines of one qrng process.
type Provider struct {
	tracer  *trace.TracerProvider
	meter   *metric.MeterProvider
	metrics *Metrics
}

// Start builds the exporters selected by cfg and installs them as the otel
// globals, so otelgin spans and otel.Meter calls land in the same pipeline.
//
// Description:
//
//	The resource carries the service identity plus the engine settings from
//	engine (see EngineAttributes). Exporter failures unwind whatever was
//	already started.
//
// Inputs:
//
//	ctx    - Used for exporter connections. Must not be nil.
//	cfg    - Exporter selection and service identity.
//	engine - The engine configuration contexts will be built with.
//
// Outputs:
//
//	*Provider - Call Shutdown when done.
//	error     - ErrNilContext, ErrUnknownExporter or an exporter error.
//
// Thread Safety: Call once at startup; the returned Provider is safe for
// concurrent use.
func Start(ctx context.Context, cfg Config, engine qrng.Config) (*Provider, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	res := Resource(cfg, engine)
	p := &Provider{}

	if enabled(cfg.TraceExporter) {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		p.tracer = tp
		otel.SetTracerProvider(tp)
	}

	var handler http.Handler
	if enabled(cfg.MetricExporter) {
		mp, h, err := newMeterProvider(cfg, res)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		p.meter = mp
		handler = h
		otel.SetMeterProvider(mp)
	}

	metrics, err := NewMetrics(p.meterFor(cfg.ServiceName))
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}
	metrics.handler = handler
	p.metrics = metrics
	return p, nil
}

// Metrics returns the qrng.Observer bound to this Provider's meter.
func (p *Provider) Metrics() *Metrics {
	return p.metrics
}

// Shutdown flushes pending metric readings, including the final pool
// quality gauge, then stops both pipelines. Safe to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.meter != nil {
		if err := p.meter.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush metrics: %w", err))
		}
		errs = append(errs, p.meter.Shutdown(ctx))
		p.meter = nil
	}
	if p.tracer != nil {
		errs = append(errs, p.tracer.Shutdown(ctx))
		p.tracer = nil
	}
	return errors.Join(errs...)
}

func (p *Provider) meterFor(name string) metricapi.Meter {
	if p.meter != nil {
		return p.meter.Meter(name)
	}
	return noop.NewMeterProvider().Meter(name)
}

// Resource describes a qrng process: service identity plus the engine
// settings that shape its output.
func Resource(cfg Config, engine qrng.Config) *resource.Resource {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	}
	return resource.NewWithAttributes("", append(attrs, EngineAttributes(engine)...)...)
}

// EngineAttributes returns the resource attributes for an engine
// configuration. Zero fields are reported at their defaults. The memory
// mode reports "unlocked" when securemem.InsecureMemoryEnv forces it.
func EngineAttributes(engine qrng.Config) []attribute.KeyValue {
	engine = engine.WithDefaults()
	mode := engine.Memory
	if os.Getenv(securemem.InsecureMemoryEnv) == "true" {
		mode = securemem.ModeUnlocked
	}
	return []attribute.KeyValue{
		attribute.Int("qrng.pool.size", engine.PoolSize),
		attribute.String("qrng.rekey.interval_bytes", strconv.FormatUint(engine.RekeyIntervalBytes, 10)),
		attribute.Int("qrng.rekey.seed_bytes", engine.RekeySeedBytes),
		attribute.Float64("qrng.rekey.min_quality", engine.MinQuality),
		attribute.Float64("qrng.health.claimed_bits_per_byte", engine.ClaimedBitsPerByte),
		attribute.String("qrng.memory.mode", string(mode)),
	}
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != ExporterNone
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*trace.TracerProvider, error) {
	var (
		exporter trace.SpanExporter
		err      error
	)
	switch cfg.TraceExporter {
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s span exporter: %w", cfg.TraceExporter, err)
	}
	return trace.NewTracerProvider(trace.WithBatcher(exporter), trace.WithResource(res)), nil
}

// newMeterProvider returns the provider and, for Prometheus, the handler
// serving its private registry.
func newMeterProvider(cfg Config, res *resource.Resource) (*metric.MeterProvider, http.Handler, error) {
	switch cfg.MetricExporter {
	case ExporterPrometheus:
		registry := prometheus.NewRegistry()
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(exporter))
		return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil

	case ExporterStdout:
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		mp := metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		)
		return mp, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
