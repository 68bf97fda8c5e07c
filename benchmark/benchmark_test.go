// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"context"
	"testing"

	"github.com/Query-farm/tickq/conformance"
	"github.com/Query-farm/tickq/tickq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func layout(t testing.TB) []tickq.AliasFields {
	catalog := tickq.DefaultCatalog()
	nbbo, err := catalog.ResultSpec("NBBOPrice")
	require.NoError(t, err)
	vwap, err := catalog.ResultSpec("VWAP")
	require.NoError(t, err)
	return []tickq.AliasFields{
		{Alias: "arrival", Fields: nbbo},
		{Alias: "post-exec", Fields: nbbo},
		{Alias: "vwap", Fields: vwap},
	}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	client := tickq.NewClient(tickq.DefaultCatalog(), tickq.Config{})
	a, b := client.NewBatch(), client.NewBatch()
	require.NoError(t, NewGenerator(7).Fill(a, 20))
	require.NoError(t, NewGenerator(7).Fill(b, 20))

	assert.Equal(t, []string{"arrival", "post-exec", "vwap"}, a.Aliases())
	for _, alias := range a.Aliases() {
		assert.Equal(t, a.Registry().Records(alias), b.Registry().Records(alias))
		assert.Equal(t, 20, a.Registry().RecordCount(alias))
	}
}

func TestCannedServerRoundTrip(t *testing.T) {
	gen := NewGenerator(1)
	lines := gen.Lines(10, layout(t), "|")
	srv, err := NewCannedServer(CannedResponse("bench", layout(t), lines, "|"))
	require.NoError(t, err)
	defer srv.Close()

	client := tickq.NewClient(tickq.DefaultCatalog(), tickq.Config{Service: srv.Addr()})
	batch := client.NewBatch()
	require.NoError(t, gen.Fill(batch, 10))

	result, err := batch.Execute(context.Background())
	require.NoError(t, err)
	defer result.Release()

	assert.Equal(t, 10, result.Report.OutputRecords)
	require.NotNil(t, result.Table)
	assert.Equal(t, 10, result.Table.Len())
	assert.Equal(t, []string{
		"ID",
		"arrival.Timestamp", "arrival.BestBidPx", "arrival.BestOfferPx",
		"post-exec.Timestamp", "post-exec.BestBidPx", "post-exec.BestOfferPx",
		"vwap.TradeCnt", "vwap.TradeVolume", "vwap.VWAP",
	}, result.Table.Keys())
	assert.Equal(t, int64(1), result.Table.IDs()[0])
}

func BenchmarkEncode(b *testing.B) {
	client := tickq.NewClient(tickq.DefaultCatalog(), tickq.Config{})
	gen := NewGenerator(42)
	for b.Loop() {
		batch := client.NewBatch()
		if err := gen.Fill(batch, 1000); err != nil {
			b.Fatal(err)
		}
		req, err := batch.Encode()
		if err != nil {
			b.Fatal(err)
		}
		req.Release()
	}
}

func BenchmarkEmbeddedExecute(b *testing.B) {
	service := conformance.NewService(conformance.SampleTape())
	client := tickq.NewClient(tickq.DefaultCatalog(), tickq.Config{})
	client.SetTransport(tickq.NewEmbeddedTransport(service.Call))
	gen := NewGenerator(42)
	for b.Loop() {
		batch := client.NewBatch()
		if err := gen.Fill(batch, 1000); err != nil {
			b.Fatal(err)
		}
		result, err := batch.Execute(context.Background())
		if err != nil {
			b.Fatal(err)
		}
		result.Release()
	}
}

func BenchmarkLineExecute(b *testing.B) {
	gen := NewGenerator(42)
	srv, err := NewCannedServer(CannedResponse("bench", layout(b), gen.Lines(1000, layout(b), "|"), "|"))
	if err != nil {
		b.Fatal(err)
	}
	defer srv.Close()

	client := tickq.NewClient(tickq.DefaultCatalog(), tickq.Config{Service: srv.Addr()})
	for b.Loop() {
		batch := client.NewBatch()
		if err := gen.Fill(batch, 1000); err != nil {
			b.Fatal(err)
		}
		result, err := batch.Execute(context.Background())
		if err != nil {
			b.Fatal(err)
		}
		result.Release()
	}
}
