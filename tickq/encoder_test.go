// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func multiAliasRegistry(t *testing.T) *AliasRegistry {
	t.Helper()
	reg := NewAliasRegistry(DefaultCatalog())
	rows := []struct{ sym, arrival, exec string }{
		{"TEST", "2020-03-31T09:30:05", "2020-03-31T09:31:05"},
		{"BAC", "2020-03-31T10:00:00", "2020-03-31T10:01:00"},
	}
	for _, r := range rows {
		require.NoError(t, reg.AddRecord("arrival", "NBBOPrice", record(t, quoteArgs(r.sym, r.arrival))))
		require.NoError(t, reg.AddRecord("post-exec", "NBBOPrice", record(t, quoteArgs(r.sym, r.exec))))
		require.NoError(t, reg.AddRecord("vwap", "VWAP", record(t, map[string]any{
			"Symbol": r.sym, "Date": "20200331", "StartTime": "09:30:00", "Flavor": 3,
		})))
	}
	return reg
}

func TestEncodeMappingHeader(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	req, err := Encode(mem, multiAliasRegistry(t), EncodeOptions{Service: "127.0.0.1:3090", InputSorted: true})
	require.NoError(t, err)
	defer req.Release()

	h := req.Header
	assert.NotEmpty(t, h.RequestID)
	assert.Equal(t, "127.0.0.1:3090", h.Service)
	assert.Equal(t, "|", h.Separator)
	assert.True(t, h.InputSorted)
	assert.Equal(t, 2, h.InputCount)
	assert.Equal(t, "psv", h.OutputFormat)
	assert.Equal(t, "America/New_York", h.TimeZone)
	assert.False(t, h.Streaming())

	require.Len(t, h.ArgumentMapping, 3)
	assert.Equal(t, "arrival", h.ArgumentMapping[0].Alias)
	assert.Equal(t, "NBBOPrice", h.ArgumentMapping[0].Function)
	assert.Equal(t, []ArgumentPair{
		{Argument: "Symbol", Column: "arrival.Symbol"},
		{Argument: "Timestamp", Column: "arrival.Timestamp"},
	}, h.ArgumentMapping[0].Arguments)

	// Symbol is identical across aliases and is sent once.
	assert.Equal(t, []ArgumentPair{
		{Argument: "Symbol", Column: "arrival.Symbol"},
		{Argument: "Timestamp", Column: "post-exec.Timestamp"},
	}, h.ArgumentMapping[1].Arguments)
	assert.Equal(t, "arrival.Symbol", h.ArgumentMapping[2].Arguments[0].Column)

	names := []string{}
	for _, c := range req.Columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"arrival.Symbol", "arrival.Timestamp", "post-exec.Timestamp",
		"vwap.Date", "vwap.StartTime", "vwap.Flavor",
	}, names)

	flavor := req.ColumnMap()["vwap.Flavor"].(*array.String)
	assert.Equal(t, "3", flavor.Value(0), "numbers are rendered into string arguments")

	require.Len(t, req.Layout, 3)
	assert.Equal(t, "vwap", req.Layout[2].Alias)
	assert.Equal(t, []string{"TradeCnt", "TradeVolume", "VWAP"}, resultNames(req.Layout[2].Fields))
}

func TestHeaderJSON(t *testing.T) {
	req, err := Encode(memory.NewGoAllocator(), multiAliasRegistry(t), EncodeOptions{Service: "svc:1"})
	require.NoError(t, err)
	defer req.Release()

	data, err := req.Header.Marshal()
	require.NoError(t, err)
	doc := gjson.ParseBytes(data)
	assert.Equal(t, "svc:1", doc.Get("service").String())
	assert.Equal(t, int64(2), doc.Get("input_cnt").Int())
	assert.Equal(t, "arrival", doc.Get("argument_mapping.0.alias").String())
	assert.Equal(t, `["Symbol","arrival.Symbol"]`, doc.Get("argument_mapping.0.arguments.0").Raw)
	assert.False(t, doc.Get("function_list").Exists())
	assert.False(t, doc.Get("tcp").Exists())

	var back Header
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, req.Header, back)
}

func TestArgumentPairJSON(t *testing.T) {
	data, err := json.Marshal(ArgumentPair{Argument: "Symbol", Position: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `["Symbol", 2]`, string(data))

	var p ArgumentPair
	require.NoError(t, json.Unmarshal([]byte(`["Timestamp", 3]`), &p))
	assert.Equal(t, ArgumentPair{Argument: "Timestamp", Position: 3}, p)
	require.NoError(t, json.Unmarshal([]byte(`["Timestamp", "arrival_ts"]`), &p))
	assert.Equal(t, "arrival_ts", p.Column)

	assert.Error(t, json.Unmarshal([]byte(`["Timestamp"]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`["Timestamp", true]`), &p))
}

func TestEncodeStreamingForm(t *testing.T) {
	reg := NewAliasRegistry(DefaultCatalog())
	require.NoError(t, reg.AddRecord("", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:03"))))

	req, err := Encode(memory.NewGoAllocator(), reg, EncodeOptions{Service: "127.0.0.1:3090", Streaming: true})
	require.NoError(t, err)
	defer req.Release()

	h := req.Header
	assert.True(t, h.Streaming())
	assert.Equal(t, "127.0.0.1:3090", h.TCP)
	assert.Empty(t, h.Service)
	assert.Equal(t, []string{"Quote"}, h.FunctionList)
	assert.Equal(t, []string{"Symbol", "Timestamp"}, h.ArgumentList)
	assert.Nil(t, h.ArgumentMapping)
	assert.Equal(t, "127.0.0.1:3090", h.Address())
}

func TestEncodeStreamingRejectsManyAliases(t *testing.T) {
	_, err := Encode(memory.NewGoAllocator(), multiAliasRegistry(t), EncodeOptions{Streaming: true})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEncodeChecksCountsFirst(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	reg := NewAliasRegistry(DefaultCatalog())
	require.NoError(t, reg.AddRecord("a", "Quote", record(t, quoteArgs("TEST", "not a time"))))
	require.NoError(t, reg.AddRecord("b", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
	require.NoError(t, reg.AddRecord("b", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:31:00"))))

	_, err := Encode(mem, reg, EncodeOptions{})
	var target *InconsistentRecordCountError
	assert.True(t, errors.As(err, &target), "count mismatch is reported before any conversion: %v", err)
	assert.Equal(t, int64(0), int64(mem.CurrentAlloc()))
}

func TestEncodeArgumentTypeError(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	reg := NewAliasRegistry(DefaultCatalog())
	require.NoError(t, reg.AddRecord("q", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
	require.NoError(t, reg.AddRecord("q", "Quote", record(t, quoteArgs("A_SYMBOL_FAR_TOO_LONG", "2020-03-31T09:30:00"))))

	_, err := Encode(mem, reg, EncodeOptions{})
	var target *ArgumentTypeError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "q", target.Alias)
	assert.Equal(t, 1, target.Index)
	assert.Equal(t, "Symbol", target.Argument)
	assert.Equal(t, "A_SYMBOL_FAR_TOO_LONG", target.Value)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEncodeTimeZone(t *testing.T) {
	reg := NewAliasRegistry(DefaultCatalog())
	require.NoError(t, reg.AddRecord("q", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))

	req, err := Encode(memory.NewGoAllocator(), reg, EncodeOptions{TimeZone: "UTC"})
	require.NoError(t, err)
	defer req.Release()
	assert.Equal(t, "UTC", req.Header.TimeZone)
	assert.Equal(t, "2020-03-31T09:30:00.000000", FormatCell(req.ColumnMap()["q.Timestamp"], 0))

	_, err = Encode(memory.NewGoAllocator(), reg, EncodeOptions{TimeZone: "Nowhere/City"})
	assert.ErrorIs(t, err, ErrValidation)
}
