// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// Enforcement selects which arguments must be present in the first record
// of an alias.
type Enforcement int

const (
	// EnforceFlagged requires only the arguments flagged Required.
	EnforceFlagged Enforcement = iota
	// EnforceAll requires every declared argument.
	EnforceAll
)

func (e Enforcement) String() string {
	if e == EnforceAll {
		return "all"
	}
	return "flagged"
}

// ArgumentDescriptor declares one argument of a function.
type ArgumentDescriptor struct {
	Name     string
	Type     DType
	Width    int // fixed string width, 0 when unbounded
	Required bool
}

// ResultField declares one output field of a function.
type ResultField struct {
	Name  string
	Type  DType
	Width int
}

// FunctionDescriptor is the immutable description of one service function.
type FunctionDescriptor struct {
	Name        string
	TimeZone    string
	Arguments   []ArgumentDescriptor
	Results     []ResultField
	Enforcement Enforcement
}

// Argument looks up a declared argument by name.
func (f *FunctionDescriptor) Argument(name string) (ArgumentDescriptor, bool) {
	return lo.Find(f.Arguments, func(a ArgumentDescriptor) bool { return a.Name == name })
}

// IsRequired reports whether arg must be supplied under the function's
// enforcement policy.
func (f *FunctionDescriptor) IsRequired(arg ArgumentDescriptor) bool {
	return f.Enforcement == EnforceAll || arg.Required
}

// Introspector discovers the functions a service exposes.
type Introspector interface {
	Describe(ctx context.Context) ([]FunctionDescriptor, error)
}

// StaticIntrospector serves a fixed set of descriptors.
type StaticIntrospector []FunctionDescriptor

// Describe returns the descriptors.
func (s StaticIntrospector) Describe(context.Context) ([]FunctionDescriptor, error) {
	return []FunctionDescriptor(s), nil
}

// DocumentIntrospector reads a JSON describe document of the form
//
//	{"functions": [{"name": "VWAP", "time_zone": "America/New_York",
//	  "enforcement": "flagged",
//	  "arguments": [["Symbol", "a18", true], ["Side", "a6", false]],
//	  "results": [["TradeCnt", "int"], ["VWAP", "double"]]}]}
type DocumentIntrospector struct {
	Reader io.Reader
}

// Describe parses the document.
func (d DocumentIntrospector) Describe(context.Context) ([]FunctionDescriptor, error) {
	data, err := io.ReadAll(d.Reader)
	if err != nil {
		return nil, fmt.Errorf("reading describe document: %w", err)
	}
	return ParseDescribeDocument(data)
}

// ParseDescribeDocument parses the JSON form read by DocumentIntrospector.
func ParseDescribeDocument(data []byte) ([]FunctionDescriptor, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("describe document is not valid JSON")
	}
	functions := gjson.GetBytes(data, "functions")
	if !functions.IsArray() {
		return nil, fmt.Errorf("describe document has no functions list")
	}

	var descs []FunctionDescriptor
	var parseErr error
	functions.ForEach(func(_, fn gjson.Result) bool {
		desc := FunctionDescriptor{
			Name:     fn.Get("name").String(),
			TimeZone: fn.Get("time_zone").String(),
		}
		if strings.EqualFold(fn.Get("enforcement").String(), "all") {
			desc.Enforcement = EnforceAll
		}
		fn.Get("arguments").ForEach(func(_, arg gjson.Result) bool {
			parts := arg.Array()
			if len(parts) < 2 {
				parseErr = fmt.Errorf("function %s: malformed argument %s", desc.Name, arg.Raw)
				return false
			}
			dt, width, err := ParseDType(parts[1].String())
			if err != nil {
				parseErr = fmt.Errorf("function %s argument %s: %w", desc.Name, parts[0].String(), err)
				return false
			}
			required := len(parts) < 3 || parts[2].Bool()
			desc.Arguments = append(desc.Arguments, ArgumentDescriptor{
				Name: parts[0].String(), Type: dt, Width: width, Required: required,
			})
			return true
		})
		if parseErr != nil {
			return false
		}
		fn.Get("results").ForEach(func(_, res gjson.Result) bool {
			parts := res.Array()
			if len(parts) < 2 {
				parseErr = fmt.Errorf("function %s: malformed result %s", desc.Name, res.Raw)
				return false
			}
			dt, width, err := ParseDType(parts[1].String())
			if err != nil {
				parseErr = fmt.Errorf("function %s result %s: %w", desc.Name, parts[0].String(), err)
				return false
			}
			desc.Results = append(desc.Results, ResultField{Name: parts[0].String(), Type: dt, Width: width})
			return true
		})
		if parseErr != nil {
			return false
		}
		descs = append(descs, desc)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return descs, nil
}

type describeFunction struct {
	Name        string   `json:"name"`
	TimeZone    string   `json:"time_zone,omitempty"`
	Enforcement string   `json:"enforcement"`
	Arguments   [][3]any `json:"arguments"`
	Results     [][2]any `json:"results"`
}

// WriteDescribeDocument writes the catalog in the form ParseDescribeDocument
// reads.
func WriteDescribeDocument(w io.Writer, c *Catalog) error {
	doc := struct {
		Functions []describeFunction `json:"functions"`
	}{}
	for _, name := range c.ListFunctions() {
		fn := c.functions[name]
		df := describeFunction{Name: fn.Name, TimeZone: fn.TimeZone, Enforcement: fn.Enforcement.String()}
		for _, a := range fn.Arguments {
			df.Arguments = append(df.Arguments, [3]any{a.Name, FormatDType(a.Type, a.Width), a.Required})
		}
		for _, r := range fn.Results {
			df.Results = append(df.Results, [2]any{r.Name, FormatDType(r.Type, r.Width)})
		}
		doc.Functions = append(doc.Functions, df)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Catalog is the set of functions a service exposes. It is immutable once
// loaded and safe for concurrent use.
type Catalog struct {
	functions map[string]*FunctionDescriptor
}

// LoadCatalog builds a catalog from an introspector.
func LoadCatalog(ctx context.Context, in Introspector) (*Catalog, error) {
	descs, err := in.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describing functions: %w", err)
	}
	return NewCatalog(descs...)
}

// NewCatalog validates descriptors and builds a catalog from them.
func NewCatalog(descs ...FunctionDescriptor) (*Catalog, error) {
	c := &Catalog{functions: make(map[string]*FunctionDescriptor, len(descs))}
	for i := range descs {
		d := descs[i]
		if d.Name == "" {
			return nil, fmt.Errorf("function %d has no name", i)
		}
		if _, dup := c.functions[d.Name]; dup {
			return nil, fmt.Errorf("function %s declared twice", d.Name)
		}
		names := lo.Map(d.Arguments, func(a ArgumentDescriptor, _ int) string { return a.Name })
		if dups := lo.FindDuplicates(names); len(dups) > 0 {
			return nil, fmt.Errorf("function %s declares argument %s twice", d.Name, dups[0])
		}
		if lo.Contains(names, "") {
			return nil, fmt.Errorf("function %s has an unnamed argument", d.Name)
		}
		// ID is shared by all aliases and never part of a result spec.
		d.Results = lo.Filter(d.Results, func(r ResultField, _ int) bool { return r.Name != IDField })
		d.Arguments = append([]ArgumentDescriptor(nil), d.Arguments...)
		c.functions[d.Name] = &d
	}
	return c, nil
}

// ListFunctions returns the function names in sorted order.
func (c *Catalog) ListFunctions() []string {
	names := lo.Keys(c.functions)
	sort.Strings(names)
	return names
}

// Function returns the descriptor of a function.
func (c *Catalog) Function(name string) (*FunctionDescriptor, error) {
	fn, ok := c.functions[name]
	if !ok {
		return nil, &UnknownFunctionError{Function: name}
	}
	return fn, nil
}

// ArgumentSpec returns the ordered arguments of a function.
func (c *Catalog) ArgumentSpec(name string) ([]ArgumentDescriptor, error) {
	fn, err := c.Function(name)
	if err != nil {
		return nil, err
	}
	return append([]ArgumentDescriptor(nil), fn.Arguments...), nil
}

// ResultSpec returns the ordered result fields of a function.
func (c *Catalog) ResultSpec(name string) ([]ResultField, error) {
	fn, err := c.Function(name)
	if err != nil {
		return nil, err
	}
	return append([]ResultField(nil), fn.Results...), nil
}

// Arguments returns every argument declared by any function, first
// declaration wins, ordered by name.
func (c *Catalog) Arguments() []ArgumentDescriptor {
	seen := map[string]ArgumentDescriptor{}
	for _, name := range c.ListFunctions() {
		for _, a := range c.functions[name].Arguments {
			if _, ok := seen[a.Name]; !ok {
				seen[a.Name] = a
			}
		}
	}
	out := lo.Values(seen)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func str(name string, width int, required bool) ArgumentDescriptor {
	return ArgumentDescriptor{Name: name, Type: DTypeString, Width: width, Required: required}
}

// DefaultFunctions returns the functions served by a standard tick-calc
// deployment.
func DefaultFunctions() []FunctionDescriptor {
	ts := ArgumentDescriptor{Name: "Timestamp", Type: DTypeTimestamp, Required: true}
	bbo := []ResultField{
		{Name: "Timestamp", Type: DTypeString, Width: 36},
		{Name: "BestBidPx", Type: DTypeFloat64},
		{Name: "BestBidQty", Type: DTypeInt64},
		{Name: "BestOfferPx", Type: DTypeFloat64},
		{Name: "BestOfferQty", Type: DTypeInt64},
	}
	return []FunctionDescriptor{
		{
			Name:      "NBBO",
			TimeZone:  DefaultTimeZone,
			Arguments: []ArgumentDescriptor{str("Symbol", 18, true), ts, str("Markouts", 96, false)},
			Results:   bbo,
		},
		{
			Name:      "NBBOPrice",
			TimeZone:  DefaultTimeZone,
			Arguments: []ArgumentDescriptor{str("Symbol", 18, true), ts, str("Markouts", 96, false)},
			Results:   []ResultField{bbo[0], bbo[1], bbo[3]},
		},
		{
			Name:      "Quote",
			TimeZone:  DefaultTimeZone,
			Arguments: []ArgumentDescriptor{str("Symbol", 18, true), ts},
			Results:   bbo,
		},
		{
			Name:     "VWAP",
			TimeZone: DefaultTimeZone,
			Arguments: []ArgumentDescriptor{
				str("Symbol", 18, true),
				str("Date", 12, true),
				str("StartTime", 20, true),
				str("Side", 6, false),
				{Name: "LimitPx", Type: DTypeFloat64},
				str("Flavor", 6, false),
				str("EndTime", 20, false),
				{Name: "TargetVolume", Type: DTypeInt64},
				{Name: "TargetPOV", Type: DTypeFloat64},
				{Name: "Ticks", Type: DTypeInt64},
				str("Markouts", 96, false),
			},
			Results: []ResultField{
				{Name: "TradeCnt", Type: DTypeInt64},
				{Name: "TradeVolume", Type: DTypeInt64},
				{Name: "VWAP", Type: DTypeFloat64},
			},
		},
		{
			Name:        "ROD",
			TimeZone:    DefaultTimeZone,
			Enforcement: EnforceAll,
			Arguments: []ArgumentDescriptor{
				str("ID", 64, false),
				str("Symbol", 18, false),
				str("Date", 12, false),
				str("StartTime", 20, false),
				str("EndTime", 20, false),
				str("Side", 6, false),
				{Name: "OrdQty", Type: DTypeFloat64},
				{Name: "LimitPx", Type: DTypeFloat64},
				{Name: "MPA", Type: DTypeFloat64},
				str("ExecTime", 20, false),
				{Name: "ExecQty", Type: DTypeFloat64},
			},
			Results: []ResultField{
				{Name: "Symbol", Type: DTypeString, Width: 64},
				{Name: "MinusThree", Type: DTypeFloat64},
				{Name: "MinusTwo", Type: DTypeFloat64},
				{Name: "MinusOne", Type: DTypeFloat64},
				{Name: "Zero", Type: DTypeFloat64},
				{Name: "PlusOne", Type: DTypeFloat64},
				{Name: "PlusTwo", Type: DTypeFloat64},
				{Name: "PlusThree", Type: DTypeFloat64},
			},
		},
	}
}

// DefaultCatalog returns a catalog of DefaultFunctions.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultFunctions()...)
	if err != nil {
		panic(fmt.Sprintf("tickq: default catalog: %v", err))
	}
	return c
}
