// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ArgumentPair maps a function argument to the column holding its values.
// On the socket the column is replaced by its 1-based position in each
// record line.
type ArgumentPair struct {
	Argument string
	Column   string
	Position int
}

// MarshalJSON encodes the pair as a two element array.
func (p ArgumentPair) MarshalJSON() ([]byte, error) {
	if p.Position > 0 {
		return json.Marshal([2]any{p.Argument, p.Position})
	}
	return json.Marshal([2]string{p.Argument, p.Column})
}

// UnmarshalJSON accepts [name, column] and [name, position].
func (p *ArgumentPair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("argument pair has %d elements", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.Argument); err != nil {
		return fmt.Errorf("argument name: %w", err)
	}
	second := bytes.TrimSpace(raw[1])
	if len(second) > 0 && second[0] == '"' {
		if err := json.Unmarshal(second, &p.Column); err != nil {
			return err
		}
		return nil
	}
	pos, err := strconv.Atoi(string(second))
	if err != nil {
		return fmt.Errorf("argument %s: invalid position %s", p.Argument, second)
	}
	p.Position = pos
	return nil
}

// ArgumentMapping binds one alias to its function and argument columns.
type ArgumentMapping struct {
	Function  string         `json:"function"`
	Alias     string         `json:"alias"`
	Arguments []ArgumentPair `json:"arguments"`
}

// Header is the JSON document that opens every request.
type Header struct {
	RequestID       string            `json:"request_id"`
	Service         string            `json:"service,omitempty"`
	TCP             string            `json:"tcp,omitempty"`
	FunctionList    []string          `json:"function_list,omitempty"`
	ArgumentList    []string          `json:"argument_list,omitempty"`
	ArgumentMapping []ArgumentMapping `json:"argument_mapping,omitempty"`
	Separator       string            `json:"separator"`
	InputSorted     bool              `json:"input_sorted"`
	InputCount      int               `json:"input_cnt"`
	OutputFormat    string            `json:"output_format"`
	TimeZone        string            `json:"time_zone"`
}

// Streaming reports whether the header uses the single-function form whose
// records carry the function's arguments in catalog order.
func (h *Header) Streaming() bool {
	return len(h.FunctionList) > 0 && len(h.ArgumentMapping) == 0
}

// Address returns the service address the header targets.
func (h *Header) Address() string {
	if h.Service != "" {
		return h.Service
	}
	return h.TCP
}

// Marshal encodes the header as a single JSON line without the newline.
func (h *Header) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Column is a named argument column.
type Column struct {
	Name     string
	Argument ArgumentDescriptor
	Values   arrow.Array
}

// AliasFields is the ordered result layout of one alias.
type AliasFields struct {
	Alias  string
	Fields []ResultField
}

// Request is an encoded batch ready for a transport. Release must be called
// once the request is no longer needed.
type Request struct {
	Header   Header
	Columns  []Column
	Layout   []AliasFields
	Location *time.Location
}

// ColumnMap returns the columns by name.
func (r *Request) ColumnMap() map[string]arrow.Array {
	return lo.SliceToMap(r.Columns, func(c Column) (string, arrow.Array) { return c.Name, c.Values })
}

// Release frees the column buffers.
func (r *Request) Release() {
	for _, c := range r.Columns {
		if c.Values != nil {
			c.Values.Release()
		}
	}
	r.Columns = nil
}

// EncodeOptions controls request encoding.
type EncodeOptions struct {
	Service     string
	TimeZone    string // defaults to the first alias's function zone
	Separator   string
	InputSorted bool
	Streaming   bool
}

// Encode turns the records of a registry into a request. It fails before
// building any column when aliases hold different record counts.
func Encode(mem memory.Allocator, reg *AliasRegistry, opts EncodeOptions) (*Request, error) {
	count, err := reg.checkRecordCounts()
	if err != nil {
		return nil, err
	}
	aliases := reg.Aliases()
	if opts.Streaming && len(aliases) != 1 {
		return nil, fmt.Errorf("%w: a streaming request carries exactly one alias, got %d", ErrValidation, len(aliases))
	}
	if opts.Separator == "" {
		opts.Separator = DefaultSeparator
	}
	if opts.TimeZone == "" {
		fn, _ := reg.Function(aliases[0])
		opts.TimeZone = lo.Ternary(fn.TimeZone != "", fn.TimeZone, DefaultTimeZone)
	}
	loc, err := time.LoadLocation(opts.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %v", ErrValidation, opts.TimeZone, err)
	}

	req := &Request{
		Header: Header{
			RequestID:    uuid.NewString(),
			Separator:    opts.Separator,
			InputSorted:  opts.InputSorted,
			InputCount:   count,
			OutputFormat: DefaultOutputFormat,
			TimeZone:     opts.TimeZone,
		},
		Location: loc,
	}

	for _, alias := range aliases {
		fn, _ := reg.Function(alias)
		mapping := ArgumentMapping{Function: fn.Name, Alias: alias}
		for _, arg := range reg.Arguments(alias) {
			arr, err := buildColumn(mem, alias, arg, reg.Records(alias), opts.Separator, loc)
			if err != nil {
				req.Release()
				return nil, err
			}
			name := alias + "." + arg.Name
			if existing, ok := findEqualColumn(req.Columns, arg, arr); ok {
				arr.Release()
				name = existing
			} else {
				req.Columns = append(req.Columns, Column{Name: name, Argument: arg, Values: arr})
			}
			mapping.Arguments = append(mapping.Arguments, ArgumentPair{Argument: arg.Name, Column: name})
		}
		req.Header.ArgumentMapping = append(req.Header.ArgumentMapping, mapping)
		req.Layout = append(req.Layout, AliasFields{Alias: alias, Fields: fn.Results})
	}

	if opts.Streaming {
		m := req.Header.ArgumentMapping[0]
		req.Header.TCP = opts.Service
		req.Header.FunctionList = []string{m.Function}
		req.Header.ArgumentList = lo.Map(m.Arguments, func(p ArgumentPair, _ int) string { return p.Argument })
		req.Header.ArgumentMapping = nil
	} else {
		req.Header.Service = opts.Service
	}
	return req, nil
}

// buildColumn converts the values of one argument across an alias's records.
func buildColumn(mem memory.Allocator, alias string, arg ArgumentDescriptor, records []Record,
	sep string, loc *time.Location) (arrow.Array, error) {
	b := array.NewBuilder(mem, arrowType(arg.Type, loc))
	defer b.Release()
	b.Reserve(len(records))
	for i, rec := range records {
		v := rec[arg.Name]
		cv, err := convertValue(v, arg, sep, loc)
		if err != nil {
			return nil, &ArgumentTypeError{
				Alias:    alias,
				Index:    i,
				Argument: arg.Name,
				Value:    v.Interface(),
				Reason:   err.Error(),
			}
		}
		appendValue(b, cv)
	}
	return b.NewArray(), nil
}

// findEqualColumn looks for an already encoded column of the same argument
// holding identical values.
func findEqualColumn(cols []Column, arg ArgumentDescriptor, arr arrow.Array) (string, bool) {
	for _, c := range cols {
		if c.Argument.Name == arg.Name && c.Argument.Type == arg.Type && array.Equal(c.Values, arr) {
			return c.Name, true
		}
	}
	return "", false
}
