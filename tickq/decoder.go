// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// ExecutionReport is the service's summary of one request.
type ExecutionReport struct {
	RequestID     string
	InputRecords  int
	OutputRecords int
	ResultFields  []AliasFields
	Errors        ErrorSummary
	Runtime       RuntimeSummary
	Raw           []byte
}

// ParseExecutionReport reads a report document and, when present, the
// trailer that followed it. output_records is the only member that must be
// present; error_summary that is missing or not a list is empty. The trailer
// may carry the durations at its top level or under runtime_summary, and an
// error_summary list in it is merged with the report's.
func ParseExecutionReport(head, trailer []byte) (*ExecutionReport, error) {
	if !gjson.ValidBytes(head) {
		return nil, &ProtocolFramingError{Stage: "report", Detail: "report is not valid JSON"}
	}
	doc := gjson.ParseBytes(head)
	if !doc.IsObject() {
		return nil, &ProtocolFramingError{Stage: "report", Detail: "report is not an object"}
	}
	n, err := outputRecords(doc)
	if err != nil {
		return nil, err
	}
	fields, err := parseResultFields(doc)
	if err != nil {
		return nil, err
	}

	runtime := doc.Get(KeyRuntimeSummary)
	errs := normalizeErrorSummary(doc.Get(KeyErrorSummary))
	if len(trailer) > 0 && gjson.ValidBytes(trailer) {
		t := gjson.ParseBytes(trailer)
		if rt := trailerRuntime(t); rt.Exists() {
			runtime = rt
		}
		if es := t.Get(KeyErrorSummary); es.IsArray() {
			errs = mergeErrorSummaries(errs, normalizeErrorSummary(es))
		}
	}

	return &ExecutionReport{
		RequestID:     doc.Get(KeyRequestID).String(),
		InputRecords:  int(doc.Get(KeyInputRecords).Int()),
		OutputRecords: n,
		ResultFields:  fields,
		Errors:        errs,
		Runtime:       parseRuntimeSummary(runtime),
		Raw:           head,
	}, nil
}

// parseResultFields reads result_fields, an object of alias to
// [[name, type], ...], in document order. A missing member yields nil.
func parseResultFields(doc gjson.Result) ([]AliasFields, error) {
	rf := doc.Get(KeyResultFields)
	if !rf.Exists() || rf.Type == gjson.Null {
		return nil, nil
	}
	if !rf.IsObject() {
		return nil, &ProtocolFramingError{Stage: "report", Detail: KeyResultFields + " is not an object"}
	}
	var layout []AliasFields
	var err error
	rf.ForEach(func(alias, fields gjson.Result) bool {
		af := AliasFields{Alias: alias.String()}
		fields.ForEach(func(_, field gjson.Result) bool {
			parts := field.Array()
			if len(parts) < 2 {
				err = &ProtocolFramingError{Stage: "report", Detail: fmt.Sprintf("alias %s: malformed field %s", af.Alias, field.Raw)}
				return false
			}
			dt, width, perr := ParseDType(parts[1].String())
			if perr != nil {
				err = &ProtocolFramingError{Stage: "report", Detail: fmt.Sprintf("alias %s field %s", af.Alias, parts[0].String()), Err: perr}
				return false
			}
			af.Fields = append(af.Fields, ResultField{Name: parts[0].String(), Type: dt, Width: width})
			return true
		})
		layout = append(layout, af)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return layout, nil
}

// ResultTable holds the decoded results of a request: the record
// identifiers under "ID" and each alias's fields under "<alias>.<field>".
// Every column has one element per output record. Records an alias
// produced no row for are null in that alias's columns.
type ResultTable struct {
	keys    []string
	columns map[string]arrow.Array
	rows    int
}

// DecodeResponse parses the report of resp and builds its result table.
// When the service declared no result fields and returned no columns the
// table is nil.
func DecodeResponse(resp *Response) (*ExecutionReport, *ResultTable, error) {
	report, err := ParseExecutionReport(resp.Report, resp.Trailer)
	if err != nil {
		return nil, nil, err
	}
	if report.ResultFields == nil {
		report.ResultFields = resp.Layout
	}
	table, err := buildResultTable(report, resp.Columns)
	if err != nil {
		return nil, nil, err
	}
	return report, table, nil
}

func buildResultTable(report *ExecutionReport, cols []arrow.Array) (*ResultTable, error) {
	if len(report.ResultFields) == 0 && len(cols) == 0 {
		return nil, nil
	}
	keys := []string{IDField}
	for _, af := range report.ResultFields {
		for _, f := range af.Fields {
			keys = append(keys, af.Alias+"."+f.Name)
		}
	}
	if dups := lo.FindDuplicates(keys); len(dups) > 0 {
		return nil, &ProtocolFramingError{Stage: "columns", Detail: "duplicate result key " + dups[0]}
	}
	if len(cols) != len(keys) {
		return nil, &ProtocolFramingError{
			Stage:  "columns",
			Detail: fmt.Sprintf("got %d result columns, report declares %d", len(cols), len(keys)),
		}
	}
	for i, c := range cols {
		if c.Len() != report.OutputRecords {
			return nil, &ProtocolFramingError{
				Stage:  "columns",
				Detail: fmt.Sprintf("column %s has %d values, want %d", keys[i], c.Len(), report.OutputRecords),
			}
		}
	}
	if _, ok := cols[0].(*array.Int64); !ok {
		return nil, &ProtocolFramingError{Stage: "columns", Detail: "ID column is " + cols[0].DataType().String()}
	}

	t := &ResultTable{keys: keys, columns: make(map[string]arrow.Array, len(keys)), rows: report.OutputRecords}
	for i, c := range cols {
		c.Retain()
		t.columns[keys[i]] = c
	}
	return t, nil
}

// Keys returns "ID" followed by the alias field keys in report order.
func (t *ResultTable) Keys() []string { return append([]string(nil), t.keys...) }

// Len returns the number of rows.
func (t *ResultTable) Len() int { return t.rows }

// Column returns the array under key.
func (t *ResultTable) Column(key string) (arrow.Array, bool) {
	c, ok := t.columns[key]
	return c, ok
}

// IDs returns the record identifier of each row.
func (t *ResultTable) IDs() []int64 {
	return t.columns[IDField].(*array.Int64).Int64Values()
}

// Value returns the Go value at (key, row): int64, float64, string or
// time.Time. Nulls and unknown keys yield nil.
func (t *ResultTable) Value(key string, row int) any {
	c, ok := t.columns[key]
	if !ok || row < 0 || row >= c.Len() || c.IsNull(row) {
		return nil
	}
	switch a := c.(type) {
	case *array.Int64:
		return a.Value(row)
	case *array.Float64:
		return a.Value(row)
	case *array.String:
		return a.Value(row)
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(row).ToTime(unit)
	default:
		return a.ValueStr(row)
	}
}

// Row returns the row whose identifier is id, or -1.
func (t *ResultTable) Row(id int64) int {
	return lo.IndexOf(t.IDs(), id)
}

// Release frees every column.
func (t *ResultTable) Release() {
	for _, c := range t.columns {
		c.Release()
	}
	t.columns = nil
}
