// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
)

// Header form constants for ExecuteInfo.Form.
const (
	FormMapping   = "mapping"
	FormStreaming = "streaming"
)

// ExecuteHook provides observability callpoints around batch execution.
// Implementations must be safe for concurrent use; one client may execute
// many batches at once.
type ExecuteHook interface {
	OnExecuteStart(ctx context.Context, info ExecuteInfo) (context.Context, HookToken)
	OnExecuteEnd(ctx context.Context, token HookToken, info ExecuteInfo, stats *BatchStatistics, err error)
}

// HookToken is an opaque value returned by OnExecuteStart and passed back to
// OnExecuteEnd. Only meaningful to the ExecuteHook that created it.
type HookToken interface{}

// ExecuteInfo describes the batch being executed.
type ExecuteInfo struct {
	RequestID string
	Service   string
	Form      string // FormMapping or FormStreaming
	Aliases   []string
	Functions []string // function of each alias
}

// BatchStatistics holds per-batch counters.
type BatchStatistics struct {
	Aliases       int64
	InputRecords  int64
	OutputRecords int64
	InputColumns  int64
	InputBytes    int64
	OutputBytes   int64
	ServerErrors  int64
}

// RecordRequest records the shape of the request sent.
func (s *BatchStatistics) RecordRequest(req *Request) {
	s.Aliases = int64(len(req.Layout))
	s.InputRecords = int64(req.Header.InputCount)
	s.InputColumns = int64(len(req.Columns))
	for _, c := range req.Columns {
		s.InputBytes += arrayBufferSize(c.Values)
	}
}

// RecordResponse records what came back.
func (s *BatchStatistics) RecordResponse(resp *Response, report *ExecutionReport) {
	if resp.BytesSent > 0 {
		s.InputBytes = resp.BytesSent
	}
	s.OutputBytes = resp.BytesReceived
	if resp.BytesReceived == 0 {
		for _, c := range resp.Columns {
			s.OutputBytes += arrayBufferSize(c)
		}
	}
	if report != nil {
		s.OutputRecords = int64(report.OutputRecords)
		s.ServerErrors = int64(report.Errors.Total())
	}
}

// arrayBufferSize returns the total top-level buffer size in bytes of an
// array.
func arrayBufferSize(arr arrow.Array) int64 {
	var total int64
	if arr == nil {
		return 0
	}
	for _, buf := range arr.Data().Buffers() {
		if buf != nil {
			total += int64(buf.Len())
		}
	}
	return total
}
