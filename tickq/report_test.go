// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestErrorAggregator(t *testing.T) {
	agg := NewErrorAggregator()
	assert.Empty(t, agg.Summary())

	agg.Add(ErrorSummary{{Type: ErrorMissingSymbol, Count: 2}, {Type: ErrorDataNotFound, Count: 1, Message: "no quote"}})
	agg.Add(ErrorSummary{{Type: ErrorInvalidSide, Count: 1}, {Type: ErrorMissingSymbol, Count: 3}})
	agg.Add(nil)

	s := agg.Summary()
	assert.Equal(t, ErrorSummary{
		{Type: ErrorMissingSymbol, Count: 5},
		{Type: ErrorDataNotFound, Count: 1, Message: "no quote"},
		{Type: ErrorInvalidSide, Count: 1},
	}, s)
	assert.Equal(t, 7, s.Total())
	assert.Equal(t, 5, s.Count(ErrorMissingSymbol))
	assert.Equal(t, 0, s.Count(ErrorInvalidPrice))
	assert.Equal(t, []string{ErrorMissingSymbol, ErrorDataNotFound, ErrorInvalidSide}, s.Types())
}

func TestRuntimeSummaryFormat(t *testing.T) {
	r := RuntimeSummary{
		RequestParsing: 1500 * time.Millisecond,
		Execution:      time.Hour + 2*time.Minute + 3*time.Second,
		ResultMerging:  250 * time.Microsecond,
	}
	doc := gjson.ParseBytes(FormatRuntimeSummary(r))
	assert.Equal(t, "00:00:01.500000", doc.Get("request_parsing_sorting").String())
	assert.Equal(t, "01:02:03.000000", doc.Get("execution").String())
	assert.Equal(t, "00:00:00.000250", doc.Get("result_merging_sorting").String())

	back := parseRuntimeSummary(doc)
	assert.Equal(t, r.RequestParsing, back.RequestParsing)
	assert.Equal(t, r.Execution, back.Execution)
}

func TestParseServiceDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseServiceDuration(gjson.Parse(`2`)))
	assert.Equal(t, 90*time.Minute, parseServiceDuration(gjson.Parse(`"01:30:00"`)))
	assert.Equal(t, time.Duration(0), parseServiceDuration(gjson.Parse(`"soon"`)))
	assert.Equal(t, time.Duration(0), parseServiceDuration(gjson.Parse(`null`)))
}
