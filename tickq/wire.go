// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxPreallocatedRecords bounds the result slice reserved from a report's
// output_records; larger counts grow as lines arrive.
const maxPreallocatedRecords = 4096

// countingWriter counts bytes written through it.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// writeRequest writes the header line followed by one separator-delimited
// line per record. Field k of record i is element i of cols[k].
func writeRequest(w io.Writer, header []byte, cols []arrow.Array, n int, sep string) error {
	bw := bufio.NewWriterSize(w, writeChunkSize)
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	for i := range n {
		for k, col := range cols {
			if k > 0 {
				bw.WriteString(sep)
			}
			bw.WriteString(FormatCell(col, i))
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// responseFrame holds the three parts of a line-protocol response.
type responseFrame struct {
	head    []byte
	records []string
	trailer []byte
}

// readLine reads one newline-terminated line. A final unterminated line is
// accepted; end of stream before any byte yields io.ErrUnexpectedEOF.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return "", io.ErrUnexpectedEOF
			}
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// framingOrIO turns end-of-stream into a framing error and leaves other I/O
// errors for the caller to wrap.
func framingOrIO(stage, detail string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &ProtocolFramingError{Stage: stage, Detail: detail, Err: err}
	}
	return err
}

// outputRecords reads the output_records member of a report line.
func outputRecords(head gjson.Result) (int, error) {
	v := head.Get(KeyOutputRecords)
	if !v.Exists() {
		return 0, &ProtocolFramingError{Stage: "report", Detail: "missing " + KeyOutputRecords}
	}
	var n int64
	switch v.Type {
	case gjson.Number:
		n = v.Int()
		if float64(n) != v.Float() {
			return 0, &ProtocolFramingError{Stage: "report", Detail: "non-integral " + KeyOutputRecords + " " + v.Raw}
		}
	case gjson.String:
		var err error
		n, err = strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return 0, &ProtocolFramingError{Stage: "report", Detail: "invalid " + KeyOutputRecords + " " + v.Raw}
		}
	default:
		return 0, &ProtocolFramingError{Stage: "report", Detail: "invalid " + KeyOutputRecords + " " + v.Raw}
	}
	if n < 0 {
		return 0, &ProtocolFramingError{Stage: "report", Detail: "negative " + KeyOutputRecords}
	}
	return int(n), nil
}

// readResponse reads a report line, exactly output_records result lines
// (possibly none) and a trailer line.
func readResponse(r *bufio.Reader) (*responseFrame, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, framingOrIO("report", "no report line", err)
	}
	if !gjson.Valid(line) || !gjson.Parse(line).IsObject() {
		return nil, &ProtocolFramingError{Stage: "report", Detail: fmt.Sprintf("malformed report line %.80q", line)}
	}
	n, err := outputRecords(gjson.Parse(line))
	if err != nil {
		return nil, err
	}
	frame := &responseFrame{head: []byte(line), records: make([]string, 0, min(n, maxPreallocatedRecords))}
	for i := range n {
		rec, err := readLine(r)
		if err != nil {
			return nil, framingOrIO("records", fmt.Sprintf("got %d of %d result lines", i, n), err)
		}
		frame.records = append(frame.records, rec)
	}
	trailer, err := readLine(r)
	if err != nil {
		return nil, framingOrIO("trailer", "no runtime trailer", err)
	}
	if !gjson.Valid(trailer) {
		return nil, &ProtocolFramingError{Stage: "trailer", Detail: fmt.Sprintf("malformed trailer %.80q", trailer)}
	}
	frame.trailer = []byte(trailer)
	return frame, nil
}

// DecodeRecordLines parses result lines into an ID column followed by one column
// per field of layout.
func DecodeRecordLines(mem memory.Allocator, lines []string, layout []AliasFields, sep string, loc *time.Location) ([]arrow.Array, error) {
	types := []arrow.DataType{arrow.PrimitiveTypes.Int64}
	for _, af := range layout {
		for _, f := range af.Fields {
			types = append(types, arrowType(f.Type, loc))
		}
	}
	builders := make([]array.Builder, len(types))
	for i, dt := range types {
		builders[i] = array.NewBuilder(mem, dt)
		builders[i].Reserve(len(lines))
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	for i, line := range lines {
		cells := strings.Split(line, sep)
		if len(cells) != len(builders) {
			return nil, &ProtocolFramingError{
				Stage:  "records",
				Detail: fmt.Sprintf("result line %d has %d fields, want %d", i, len(cells), len(builders)),
			}
		}
		for k, cell := range cells {
			if err := appendCell(builders[k], cell, loc); err != nil {
				return nil, &ProtocolFramingError{Stage: "records", Detail: fmt.Sprintf("result line %d field %d", i, k), Err: err}
			}
		}
	}

	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	return cols, nil
}

// mergeTrailer folds a trailer into its report line: the trailer's
// durations become runtime_summary and its error_summary is merged with the
// report's.
func mergeTrailer(head, trailer []byte) ([]byte, error) {
	if len(trailer) == 0 || !gjson.ValidBytes(trailer) {
		return head, nil
	}
	t := gjson.ParseBytes(trailer)
	out := head
	var err error
	if rt := trailerRuntime(t); rt.Exists() {
		if out, err = sjson.SetRawBytes(out, KeyRuntimeSummary, []byte(rt.Raw)); err != nil {
			return nil, err
		}
	}
	if es := t.Get(KeyErrorSummary); es.IsArray() {
		merged := mergeErrorSummaries(normalizeErrorSummary(gjson.GetBytes(head, KeyErrorSummary)), normalizeErrorSummary(es))
		raw, err := marshalErrorSummary(merged)
		if err != nil {
			return nil, err
		}
		if out, err = sjson.SetRawBytes(out, KeyErrorSummary, raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}
