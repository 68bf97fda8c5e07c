// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// Error types reported by the service.
const (
	ErrorDataNotFound     = "DataNotFound"
	ErrorMissingSymbol    = "MissingSymbol"
	ErrorMissingArgument  = "MissingArgument"
	ErrorInvalidArgument  = "InvalidArgument"
	ErrorInvalidTimestamp = "InvalidTimestamp"
	ErrorInvalidDate      = "InvalidDate"
	ErrorInvalidSide      = "InvalidSide"
	ErrorInvalidQuantity  = "InvalidQuantity"
	ErrorInvalidPrice     = "InvalidPrice"
)

// ServerError is one entry of a report's error summary: how many input
// records failed with a given error type. Server errors are data; they
// never fail a batch.
type ServerError struct {
	Type    string
	Count   int
	Message string
}

// ErrorSummary lists server errors in the order the service reported them.
type ErrorSummary []ServerError

// Total returns the number of failed records.
func (s ErrorSummary) Total() int {
	return lo.SumBy(s, func(e ServerError) int { return e.Count })
}

// Count returns the number of records that failed with typ.
func (s ErrorSummary) Count(typ string) int {
	return lo.SumBy(s, func(e ServerError) int { return lo.Ternary(e.Type == typ, e.Count, 0) })
}

// Types returns the distinct error types in first-seen order.
func (s ErrorSummary) Types() []string {
	return lo.Uniq(lo.Map(s, func(e ServerError, _ int) string { return e.Type }))
}

// normalizeErrorSummary reads an error_summary member. Anything other than a
// list yields an empty summary; entries without a type are Unknown and
// entries without a count count once.
func normalizeErrorSummary(r gjson.Result) ErrorSummary {
	if !r.IsArray() {
		return ErrorSummary{}
	}
	summary := ErrorSummary{}
	r.ForEach(func(_, entry gjson.Result) bool {
		if !entry.IsObject() {
			return true
		}
		e := ServerError{Type: entry.Get("type").String(), Count: 1, Message: entry.Get("message").String()}
		if e.Type == "" {
			e.Type = "Unknown"
		}
		if c := entry.Get("count"); c.Exists() {
			e.Count = int(c.Int())
		}
		summary = append(summary, e)
		return true
	})
	return summary
}

// ErrorAggregator accumulates error summaries across batches, merging
// entries of the same type. It is not safe for concurrent use.
type ErrorAggregator struct {
	order  []string
	byType map[string]*ServerError
}

// NewErrorAggregator returns an empty aggregator.
func NewErrorAggregator() *ErrorAggregator {
	return &ErrorAggregator{byType: make(map[string]*ServerError)}
}

// Add merges a summary.
func (a *ErrorAggregator) Add(s ErrorSummary) {
	for _, e := range s {
		cur, ok := a.byType[e.Type]
		if !ok {
			cur = &ServerError{Type: e.Type}
			a.byType[e.Type] = cur
			a.order = append(a.order, e.Type)
		}
		cur.Count += e.Count
		if cur.Message == "" {
			cur.Message = e.Message
		}
	}
}

// Summary returns the merged summary in first-seen type order.
func (a *ErrorAggregator) Summary() ErrorSummary {
	out := make(ErrorSummary, 0, len(a.order))
	for _, t := range a.order {
		out = append(out, *a.byType[t])
	}
	return out
}

// RuntimeSummary is the service's account of where a request spent its time.
type RuntimeSummary struct {
	RequestParsing time.Duration
	Execution      time.Duration
	ResultMerging  time.Duration
}

// Total returns the sum of the phases.
func (r RuntimeSummary) Total() time.Duration {
	return r.RequestParsing + r.Execution + r.ResultMerging
}

// trailerRuntime returns the durations a trailer carries: its
// runtime_summary member, or the trailer itself when the durations sit at
// the top level. The result does not exist when the trailer has neither.
func trailerRuntime(t gjson.Result) gjson.Result {
	if rs := t.Get(KeyRuntimeSummary); rs.IsObject() {
		return rs
	}
	for _, k := range []string{KeyRequestParsing, KeyExecution, KeyResultMerging} {
		if t.Get(k).Exists() {
			return t
		}
	}
	return gjson.Result{}
}

// mergeErrorSummaries combines the error summary of a report line with the
// one of its trailer. A trailer repeating the report's list counts once.
func mergeErrorSummaries(head, trailer ErrorSummary) ErrorSummary {
	if len(trailer) == 0 || slices.Equal(head, trailer) {
		return head
	}
	agg := NewErrorAggregator()
	agg.Add(head)
	agg.Add(trailer)
	return agg.Summary()
}

type wireServerError struct {
	Type    string `json:"type"`
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
}

func marshalErrorSummary(s ErrorSummary) ([]byte, error) {
	return json.Marshal(lo.Map(s, func(e ServerError, _ int) wireServerError {
		return wireServerError{Type: e.Type, Count: e.Count, Message: e.Message}
	}))
}

func parseRuntimeSummary(r gjson.Result) RuntimeSummary {
	return RuntimeSummary{
		RequestParsing: parseServiceDuration(r.Get(KeyRequestParsing)),
		Execution:      parseServiceDuration(r.Get(KeyExecution)),
		ResultMerging:  parseServiceDuration(r.Get(KeyResultMerging)),
	}
}

// parseServiceDuration reads "HH:MM:SS.ffffff". Numbers are seconds.
// Anything unreadable is zero.
func parseServiceDuration(r gjson.Result) time.Duration {
	if r.Type == gjson.Number {
		return time.Duration(r.Float() * float64(time.Second))
	}
	parts := strings.Split(strings.TrimSpace(r.String()), ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	s, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second))
}

// formatServiceDuration renders a duration the way the service reports it.
func formatServiceDuration(d time.Duration) string {
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return strings.Join([]string{
		pad2(int(h)), pad2(int(m)), pad2(int(s)) + "." + leftPad(strconv.Itoa(int(d/time.Microsecond)), 6),
	}, ":")
}

func pad2(v int) string { return leftPad(strconv.Itoa(v), 2) }

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat("0", n-len(s)) + s
}

type runtimeTrailer struct {
	RequestParsing string `json:"request_parsing_sorting"`
	Execution      string `json:"execution"`
	ResultMerging  string `json:"result_merging_sorting"`
}

// FormatRuntimeSummary renders a runtime trailer document.
func FormatRuntimeSummary(r RuntimeSummary) []byte {
	data, _ := json.Marshal(runtimeTrailer{
		RequestParsing: formatServiceDuration(r.RequestParsing),
		Execution:      formatServiceDuration(r.Execution),
		ResultMerging:  formatServiceDuration(r.ResultMerging),
	})
	return data
}
