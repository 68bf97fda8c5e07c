// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package tickqotel provides OpenTelemetry instrumentation for tickq clients.
// It implements the [tickq.ExecuteHook] interface to add a span and metrics
// around every batch execution.
//
// Usage:
//
//	client := tickq.NewClient(tickq.DefaultCatalog(), cfg)
//	tickqotel.InstrumentClient(client, tickqotel.DefaultConfig())
package tickqotel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Query-farm/tickq/tickq"
	"github.com/samber/lo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tickq"

// OtelConfig configures OpenTelemetry instrumentation for a tickq client.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed batches.
	// Default true.
	RecordExceptions bool
	// ServiceName is the peer.service attribute value. Defaults to the
	// client's service address, or "tick-calc".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with tracing, metrics and exception
// recording enabled. Providers are resolved from the global OTel SDK at
// instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentClient attaches OpenTelemetry instrumentation to a client via
// [tickq.Client.SetExecuteHook].
func InstrumentClient(client *tickq.Client, cfg OtelConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = client.Service()
	}
	client.SetExecuteHook(NewHook(cfg))
}

// NewHook builds the execute hook without attaching it.
func NewHook(cfg OtelConfig) tickq.ExecuteHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "tick-calc"
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.batchCounter, _ = meter.Int64Counter("tickq.client.batches",
			metric.WithUnit("{batch}"),
			metric.WithDescription("Number of executed batches"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("tickq.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of batch round trips"),
		)
		hook.serverErrorCounter, _ = meter.Int64Counter("tickq.client.server_errors",
			metric.WithUnit("{error}"),
			metric.WithDescription("Per-record errors reported by the service"),
		)
	}
	return hook
}

type otelHook struct {
	cfg                OtelConfig
	tracer             trace.Tracer
	batchCounter       metric.Int64Counter
	durationHistogram  metric.Float64Histogram
	serverErrorCounter metric.Int64Counter
}

type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnExecuteStart starts a client span named after the functions in the batch.
func (h *otelHook) OnExecuteStart(ctx context.Context, info tickq.ExecuteInfo) (context.Context, tickq.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	spanName := fmt.Sprintf("tickq/%s", strings.Join(lo.Uniq(info.Functions), ","))

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "tick_calc"),
		attribute.String("peer.service", h.cfg.ServiceName),
		attribute.String("tickq.request_id", info.RequestID),
		attribute.String("tickq.header_form", info.Form),
		attribute.StringSlice("tickq.aliases", info.Aliases),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnExecuteEnd records metrics and batch statistics, then ends the span.
func (h *otelHook) OnExecuteEnd(ctx context.Context, token tickq.HookToken, info tickq.ExecuteInfo, stats *tickq.BatchStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("peer.service", h.cfg.ServiceName),
			attribute.String("tickq.header_form", info.Form),
			attribute.String("status", status),
		)
		if h.batchCounter != nil {
			h.batchCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
		if h.serverErrorCounter != nil && stats != nil && stats.ServerErrors > 0 {
			h.serverErrorCounter.Add(ctx, stats.ServerErrors, metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if stats != nil {
		st.span.SetAttributes(
			attribute.Int64("tickq.aliases_count", stats.Aliases),
			attribute.Int64("tickq.input_records", stats.InputRecords),
			attribute.Int64("tickq.output_records", stats.OutputRecords),
			attribute.Int64("tickq.input_columns", stats.InputColumns),
			attribute.Int64("tickq.input_bytes", stats.InputBytes),
			attribute.Int64("tickq.output_bytes", stats.OutputBytes),
			attribute.Int64("tickq.server_errors", stats.ServerErrors),
		)
	}

	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			st.span.RecordError(err)
		}
		st.span.SetAttributes(attribute.String("tickq.error_type", errorType(err)))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, tickq.ErrValidation):
		return "validation"
	case errors.Is(err, tickq.ErrFraming):
		return "framing"
	case errors.Is(err, tickq.ErrTransport):
		return "transport"
	}
	return fmt.Sprintf("%T", err)
}
