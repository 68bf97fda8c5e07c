// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Query-farm/tickq/tickq"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Service answers tick-calc requests from a tape.
type Service struct {
	tape    *Tape
	catalog *tickq.Catalog
	logger  *zap.Logger
	mem     memory.Allocator

	wg sync.WaitGroup
}

// NewService returns a service evaluating the default catalog against tape.
func NewService(tape *Tape) *Service {
	return &Service{
		tape:    tape,
		catalog: tickq.DefaultCatalog(),
		logger:  zap.NewNop(),
		mem:     memory.NewGoAllocator(),
	}
}

// SetLogger sets the logger.
func (s *Service) SetLogger(l *zap.Logger) { s.logger = l }

// SetAllocator sets the allocator Call builds result columns with.
func (s *Service) SetAllocator(mem memory.Allocator) { s.mem = mem }

// Catalog returns the functions the service declares.
func (s *Service) Catalog() *tickq.Catalog { return s.catalog }

// Serve accepts connections until ln is closed, answering one request per
// connection. It returns nil once the listener is closed and every
// connection has been answered.
func (s *Service) Serve(ln net.Listener) error {
	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.ServeConn(conn); err != nil {
				s.logger.Warn("request failed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
		}()
	}
}

// ServeConn reads one request from rw and writes its response.
func (s *Service) ServeConn(rw io.ReadWriter) error {
	br := bufio.NewReader(rw)
	bw := bufio.NewWriter(rw)
	defer bw.Flush()

	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading header: %w", err)
	}
	var h tickq.Header
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &h); err != nil {
		writeResponse(bw, rejectReport("", "InvalidRequest", err.Error()), nil, emptyTrailer())
		return fmt.Errorf("decoding header: %w", err)
	}
	plans, err := s.plan(&h, nil)
	if err != nil {
		writeResponse(bw, rejectReport(h.RequestID, "InvalidRequest", err.Error()), nil, emptyTrailer())
		return err
	}

	start := time.Now()
	sep := lo.CoalesceOrEmpty(h.Separator, tickq.DefaultSeparator)
	records := make([][]string, 0, h.InputCount)
	for range h.InputCount {
		rec, err := br.ReadString('\n')
		if err != nil && rec == "" {
			return fmt.Errorf("reading record %d of %d: %w", len(records)+1, h.InputCount, err)
		}
		records = append(records, strings.Split(strings.TrimRight(rec, "\r\n"), sep))
	}

	out := s.execute(plans, records, start)
	writeResponse(bw, out.report(&h, !h.Streaming() || out.expanded, nil), out.lines(sep), out.trailer())
	s.logger.Debug("request answered",
		zap.String("request_id", h.RequestID),
		zap.Int("input_records", h.InputCount),
		zap.Int("output_records", len(out.ids)))
	return nil
}

// Call evaluates a request in process. It implements tickq.EmbeddedCall.
func (s *Service) Call(ctx context.Context, header []byte, columns map[string]arrow.Array) ([]byte, []arrow.Array, error) {
	var h tickq.Header
	if err := json.Unmarshal(header, &h); err != nil {
		return nil, nil, fmt.Errorf("decoding header: %w", err)
	}
	if h.Streaming() {
		return nil, nil, errors.New("embedded calls take the argument mapping header")
	}
	start := time.Now()
	plans, err := s.plan(&h, columns)
	if err != nil {
		return nil, nil, err
	}
	var cols []arrow.Array
	for _, name := range columnOrder(&h) {
		col := columns[name]
		if col.Len() != h.InputCount {
			return nil, nil, fmt.Errorf("column %s has %d values, header declares %d", name, col.Len(), h.InputCount)
		}
		cols = append(cols, col)
	}
	records := make([][]string, h.InputCount)
	for i := range records {
		records[i] = make([]string, len(cols))
		for k, col := range cols {
			records[i][k] = tickq.FormatCell(col, i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	out := s.execute(plans, records, start)
	sep := lo.CoalesceOrEmpty(h.Separator, tickq.DefaultSeparator)
	loc, err := time.LoadLocation(h.TimeZone)
	if err != nil {
		loc = time.UTC
	}
	results, err := tickq.DecodeRecordLines(s.mem, out.lines(sep), out.layout(), sep, loc)
	if err != nil {
		return nil, nil, err
	}
	return out.report(&h, true, tickq.FormatRuntimeSummary(out.runtime)), results, nil
}

// aliasPlan is one alias of a request: its function and the 1-based record
// position of each argument.
type aliasPlan struct {
	alias     string
	function  *tickq.FunctionDescriptor
	arguments []tickq.ArgumentPair
}

// columnOrder assigns positions to the distinct columns of a mapping header
// in order of first use.
func columnOrder(h *tickq.Header) []string {
	var names []string
	for _, m := range h.ArgumentMapping {
		for _, p := range m.Arguments {
			if !lo.Contains(names, p.Column) {
				names = append(names, p.Column)
			}
		}
	}
	return names
}

// plan resolves the aliases of a header. When columns is set, mapping pairs
// name columns; otherwise they carry record positions.
func (s *Service) plan(h *tickq.Header, columns map[string]arrow.Array) ([]aliasPlan, error) {
	if h.Streaming() {
		if len(h.FunctionList) != 1 {
			return nil, fmt.Errorf("function_list holds %d functions, want 1", len(h.FunctionList))
		}
		fn, err := s.catalog.Function(h.FunctionList[0])
		if err != nil {
			return nil, err
		}
		p := aliasPlan{alias: fn.Name, function: fn}
		for i, name := range h.ArgumentList {
			p.arguments = append(p.arguments, tickq.ArgumentPair{Argument: name, Position: i + 1})
		}
		return []aliasPlan{p}, nil
	}
	if len(h.ArgumentMapping) == 0 {
		return nil, errors.New("header has neither argument_mapping nor function_list")
	}

	var positions map[string]int
	if columns != nil {
		positions = map[string]int{}
		for i, name := range columnOrder(h) {
			if _, ok := columns[name]; !ok {
				return nil, fmt.Errorf("no column %q", name)
			}
			positions[name] = i + 1
		}
	}
	var plans []aliasPlan
	for _, m := range h.ArgumentMapping {
		fn, err := s.catalog.Function(m.Function)
		if err != nil {
			return nil, err
		}
		p := aliasPlan{alias: lo.CoalesceOrEmpty(m.Alias, m.Function), function: fn}
		for _, pair := range m.Arguments {
			if positions != nil {
				pair.Position = positions[pair.Column]
			}
			if pair.Position <= 0 {
				return nil, fmt.Errorf("alias %s argument %s has no record position", p.alias, pair.Argument)
			}
			p.arguments = append(p.arguments, pair)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// aliasOutcome is the evaluation of one alias.
type aliasOutcome struct {
	alias  string
	fields []tickq.ResultField
	rows   map[int64][]string
}

// outcome is the evaluation of a whole request.
type outcome struct {
	inputRecords int
	aliases      []aliasOutcome
	ids          []int64
	errors       *tickq.ErrorAggregator
	runtime      tickq.RuntimeSummary
	expanded     bool
}

func (s *Service) execute(plans []aliasPlan, records [][]string, start time.Time) *outcome {
	parsed := time.Now()
	out := &outcome{inputRecords: len(records), errors: tickq.NewErrorAggregator()}
	idSet := map[int64]struct{}{}
	for _, p := range plans {
		ev := newEvaluator(p.function, s.tape)
		ao := aliasOutcome{alias: p.alias, rows: map[int64][]string{}}
		for i, rec := range records {
			id := int64(i + 1)
			args := make(map[string]string, len(p.arguments))
			missing := false
			for _, pair := range p.arguments {
				if pair.Position > len(rec) {
					missing = true
					break
				}
				args[pair.Argument] = rec[pair.Position-1]
			}
			if missing {
				out.errors.Add(tickq.ErrorSummary{{Type: tickq.ErrorMissingArgument, Count: 1}})
				continue
			}
			values, errType := ev.eval(args)
			if errType != "" {
				out.errors.Add(tickq.ErrorSummary{{Type: errType, Count: 1}})
				continue
			}
			ao.rows[id] = values
			idSet[id] = struct{}{}
		}
		ao.fields = ev.fields()
		if !slices.Equal(ao.fields, p.function.Results) {
			out.expanded = true
		}
		out.aliases = append(out.aliases, ao)
	}
	executed := time.Now()
	out.ids = lo.Keys(idSet)
	sort.Slice(out.ids, func(i, j int) bool { return out.ids[i] < out.ids[j] })
	out.runtime = tickq.RuntimeSummary{
		RequestParsing: parsed.Sub(start),
		Execution:      executed.Sub(parsed),
		ResultMerging:  time.Since(executed),
	}
	return out
}

func (o *outcome) layout() []tickq.AliasFields {
	return lo.Map(o.aliases, func(a aliasOutcome, _ int) tickq.AliasFields {
		return tickq.AliasFields{Alias: a.alias, Fields: a.fields}
	})
}

// lines merges the aliases by ID. An alias with no row for an ID
// contributes empty fields.
func (o *outcome) lines(sep string) []string {
	out := make([]string, 0, len(o.ids))
	for _, id := range o.ids {
		cells := []string{strconv.FormatInt(id, 10)}
		for _, a := range o.aliases {
			if row, ok := a.rows[id]; ok {
				cells = append(cells, row...)
			} else {
				cells = append(cells, make([]string, len(a.fields))...)
			}
		}
		out = append(out, strings.Join(cells, sep))
	}
	return out
}

// report renders the report line. Member order is fixed so result_fields
// keeps alias order.
func (o *outcome) report(h *tickq.Header, withFields bool, runtime []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"request_id":`)
	writeJSON(&buf, h.RequestID)
	fmt.Fprintf(&buf, `,"input_records":%d,"output_records":%d`, o.inputRecords, len(o.ids))
	if withFields {
		buf.WriteString(`,"result_fields":{`)
		for i, a := range o.aliases {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSON(&buf, a.alias)
			buf.WriteByte(':')
			writeJSON(&buf, lo.Map(a.fields, func(f tickq.ResultField, _ int) [2]string {
				return [2]string{f.Name, tickq.FormatDType(f.Type, f.Width)}
			}))
		}
		buf.WriteByte('}')
	}
	buf.WriteString(`,"error_summary":`)
	o.writeErrors(&buf)
	if runtime != nil {
		buf.WriteString(`,"runtime_summary":`)
		buf.Write(runtime)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// trailer renders the closing line of a socket response: the error summary
// again and the runtime summary.
func (o *outcome) trailer() []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"error_summary":`)
	o.writeErrors(&buf)
	buf.WriteString(`,"runtime_summary":`)
	buf.Write(tickq.FormatRuntimeSummary(o.runtime))
	buf.WriteByte('}')
	return buf.Bytes()
}

func (o *outcome) writeErrors(buf *bytes.Buffer) {
	buf.WriteByte('[')
	for i, e := range o.errors.Summary() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"type":`)
		writeJSON(buf, e.Type)
		fmt.Fprintf(buf, `,"count":%d}`, e.Count)
	}
	buf.WriteByte(']')
}

func writeJSON(buf *bytes.Buffer, v any) {
	data, _ := json.Marshal(v)
	buf.Write(data)
}

func rejectReport(requestID, typ, msg string) []byte {
	data, _ := json.Marshal(map[string]any{
		tickq.KeyRequestID:     requestID,
		tickq.KeyOutputRecords: 0,
		tickq.KeyErrorSummary:  []map[string]any{{"type": typ, "count": 1, "message": msg}},
	})
	return data
}

func emptyTrailer() []byte {
	return tickq.FormatRuntimeSummary(tickq.RuntimeSummary{})
}

func writeResponse(w *bufio.Writer, report []byte, lines []string, trailer []byte) {
	w.Write(report)
	w.WriteByte('\n')
	for _, l := range lines {
		w.WriteString(l)
		w.WriteByte('\n')
	}
	w.Write(trailer)
	w.WriteByte('\n')
}
