// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// BatchOption adjusts how a batch is encoded.
type BatchOption func(*EncodeOptions)

// WithInputSorted marks the records as already ordered.
func WithInputSorted(sorted bool) BatchOption {
	return func(o *EncodeOptions) { o.InputSorted = sorted }
}

// WithTimeZone sets the zone naive timestamps are interpreted in.
func WithTimeZone(zone string) BatchOption {
	return func(o *EncodeOptions) { o.TimeZone = zone }
}

// WithStreaming selects the single-function header form.
func WithStreaming(streaming bool) BatchOption {
	return func(o *EncodeOptions) { o.Streaming = streaming }
}

// Result is the outcome of an executed batch. Table is nil when the
// service declared no result fields.
type Result struct {
	Report *ExecutionReport
	Table  *ResultTable
}

// Release frees the result table.
func (r *Result) Release() {
	if r != nil && r.Table != nil {
		r.Table.Release()
	}
}

// Batch accumulates records for one request. A batch is single-use: Execute
// consumes its records whatever the outcome. It is not safe for concurrent
// use.
type Batch struct {
	client   *Client
	registry *AliasRegistry
	opts     EncodeOptions
}

// AddRecord validates rec and appends it under alias.
func (b *Batch) AddRecord(alias, function string, rec Record) error {
	return b.registry.AddRecord(alias, function, rec)
}

// Add converts args into a record and appends it under alias.
func (b *Batch) Add(alias, function string, args map[string]any) error {
	rec := make(Record, len(args))
	for name, x := range args {
		v, err := ValueOf(x)
		if err != nil {
			return &ArgumentTypeError{
				Alias:    lo.Ternary(alias != "", alias, function),
				Index:    b.registry.RecordCount(lo.Ternary(alias != "", alias, function)),
				Argument: name,
				Value:    x,
				Reason:   err.Error(),
			}
		}
		rec[name] = v
	}
	return b.registry.AddRecord(alias, function, rec)
}

// Aliases returns the aliases in insertion order.
func (b *Batch) Aliases() []string { return b.registry.Aliases() }

// Registry exposes the batch's alias registry.
func (b *Batch) Registry() *AliasRegistry { return b.registry }

// Encode builds the request without sending it. The caller owns the
// returned request and must Release it.
func (b *Batch) Encode() (*Request, error) {
	return Encode(b.client.mem, b.registry, b.opts)
}

// Execute encodes the batch, sends it and decodes the response. Records the
// service could not evaluate are reported in the result's error summary,
// not as an error. The batch is empty afterwards.
func (b *Batch) Execute(ctx context.Context) (*Result, error) {
	c := b.client
	defer b.registry.Reset()

	req, err := b.Encode()
	if err != nil {
		return nil, err
	}
	defer req.Release()

	info := ExecuteInfo{
		RequestID: req.Header.RequestID,
		Service:   b.opts.Service,
		Form:      lo.Ternary(req.Header.Streaming(), FormStreaming, FormMapping),
		Aliases:   b.registry.Aliases(),
	}
	for _, alias := range info.Aliases {
		fn, _ := b.registry.Function(alias)
		info.Functions = append(info.Functions, fn.Name)
	}
	stats := &BatchStatistics{}
	stats.RecordRequest(req)

	var hookToken HookToken
	hookActive := false
	if c.hook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					c.logger.Error("execute hook start panic", zap.Any("err", rv))
				}
			}()
			var hookCtx context.Context
			hookCtx, hookToken = c.hook.OnExecuteStart(ctx, info)
			if hookCtx != nil {
				ctx = hookCtx
			}
			hookActive = true
		}()
	}

	start := time.Now()
	result, err := b.roundTrip(ctx, req, stats)

	if hookActive {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					c.logger.Error("execute hook end panic", zap.Any("err", rv))
				}
			}()
			c.hook.OnExecuteEnd(ctx, hookToken, info, stats, err)
		}()
	}

	if err != nil {
		c.logger.Warn("batch failed",
			zap.String("request_id", info.RequestID),
			zap.Strings("aliases", info.Aliases),
			zap.Error(err))
		return nil, err
	}
	c.logger.Debug("batch executed",
		zap.String("request_id", info.RequestID),
		zap.Strings("aliases", info.Aliases),
		zap.Int("input_records", req.Header.InputCount),
		zap.Int("output_records", result.Report.OutputRecords),
		zap.Int("server_errors", result.Report.Errors.Total()),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (b *Batch) roundTrip(ctx context.Context, req *Request, stats *BatchStatistics) (*Result, error) {
	resp, err := b.client.transport.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Release()
	if resp.Layout == nil {
		resp.Layout = req.Layout
	}
	report, table, err := DecodeResponse(resp)
	stats.RecordResponse(resp, report)
	if err != nil {
		return nil, err
	}
	return &Result{Report: report, Table: table}, nil
}
