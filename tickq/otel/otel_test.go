// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickqotel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Query-farm/tickq/conformance"
	"github.com/Query-farm/tickq/tickq"
	tickqotel "github.com/Query-farm/tickq/tickq/otel"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type telemetry struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	cfg    tickqotel.OtelConfig
}

func newTelemetry() *telemetry {
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	cfg := tickqotel.DefaultConfig()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cfg.CustomAttributes = []attribute.KeyValue{attribute.String("desk", "equities")}
	return &telemetry{spans: spans, reader: reader, cfg: cfg}
}

func (tm *telemetry) metrics(t *testing.T) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tm.reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestInstrumentedBatch(t *testing.T) {
	tm := newTelemetry()
	service := conformance.NewService(conformance.SampleTape())
	client := tickq.NewClient(service.Catalog(), tickq.Config{Service: "tick-calc:3090"})
	client.SetTransport(tickq.NewEmbeddedTransport(service.Call))
	tickqotel.InstrumentClient(client, tm.cfg)

	b := client.NewBatch()
	for _, sym := range []string{"TEST", "MSFT"} {
		require.NoError(t, b.Add("q", "Quote", map[string]any{"Symbol": sym, "Timestamp": "2020-03-31T09:30:03"}))
		require.NoError(t, b.Add("q2", "Quote", map[string]any{"Symbol": sym, "Timestamp": "2020-03-31T12:00:00"}))
	}
	result, err := b.Execute(context.Background())
	require.NoError(t, err)
	defer result.Release()

	ended := tm.spans.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "tickq/Quote", span.Name())
	assert.Equal(t, trace.SpanKindClient, span.SpanKind())
	assert.Equal(t, codes.Ok, span.Status().Code)

	a := attrs(span.Attributes())
	assert.Equal(t, "tick-calc:3090", a["peer.service"].AsString())
	assert.Equal(t, result.Report.RequestID, a["tickq.request_id"].AsString())
	assert.Equal(t, tickq.FormMapping, a["tickq.header_form"].AsString())
	assert.Equal(t, []string{"q", "q2"}, a["tickq.aliases"].AsStringSlice())
	assert.Equal(t, int64(2), a["tickq.input_records"].AsInt64())
	assert.Equal(t, int64(1), a["tickq.output_records"].AsInt64())
	assert.Equal(t, int64(2), a["tickq.server_errors"].AsInt64())
	assert.Equal(t, "equities", a["desk"].AsString())

	m := tm.metrics(t)
	batches, ok := m["tickq.client.batches"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, batches.DataPoints, 1)
	assert.Equal(t, int64(1), batches.DataPoints[0].Value)
	status, _ := batches.DataPoints[0].Attributes.Value("status")
	assert.Equal(t, "ok", status.AsString())

	serverErrors, ok := m["tickq.client.server_errors"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(2), serverErrors.DataPoints[0].Value)

	duration, ok := m["tickq.client.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
}

func TestInstrumentedFailure(t *testing.T) {
	tm := newTelemetry()
	client := tickq.NewClient(tickq.DefaultCatalog(), tickq.Config{})
	client.SetTransport(tickq.NewEmbeddedTransport(func(context.Context, []byte, map[string]arrow.Array) ([]byte, []arrow.Array, error) {
		return nil, nil, errors.New("connection refused")
	}))
	tickqotel.InstrumentClient(client, tm.cfg)

	b := client.NewBatch()
	require.NoError(t, b.Add("", "Quote", map[string]any{"Symbol": "TEST", "Timestamp": "2020-03-31T09:30:03"}))
	_, err := b.Execute(context.Background())
	require.ErrorIs(t, err, tickq.ErrTransport)

	ended := tm.spans.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "tick-calc", attrs(span.Attributes())["peer.service"].AsString())
	assert.Equal(t, "transport", attrs(span.Attributes())["tickq.error_type"].AsString())
	require.NotEmpty(t, span.Events())
	assert.Equal(t, "exception", span.Events()[0].Name)

	batches := tm.metrics(t)["tickq.client.batches"].(metricdata.Sum[int64])
	status, _ := batches.DataPoints[0].Attributes.Value("status")
	assert.Equal(t, "error", status.AsString())
}

func TestDisabledTracing(t *testing.T) {
	tm := newTelemetry()
	tm.cfg.EnableTracing = false
	tm.cfg.EnableMetrics = false
	hook := tickqotel.NewHook(tm.cfg)

	ctx, token := hook.OnExecuteStart(context.Background(), tickq.ExecuteInfo{Functions: []string{"VWAP"}})
	hook.OnExecuteEnd(ctx, token, tickq.ExecuteInfo{}, &tickq.BatchStatistics{}, nil)

	assert.Empty(t, tm.spans.Ended())
	assert.Empty(t, tm.metrics(t))
}
