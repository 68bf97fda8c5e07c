// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// DType identifies the wire type of an argument or result field.
type DType int

const (
	// DTypeString is a string, optionally limited to a fixed width.
	DTypeString DType = iota
	DTypeFloat64
	DTypeInt64
	// DTypeTimestamp is a point in time, sent as a naive local timestamp in
	// the batch time zone.
	DTypeTimestamp
)

func (d DType) String() string {
	switch d {
	case DTypeString:
		return "string"
	case DTypeFloat64:
		return "float64"
	case DTypeInt64:
		return "int64"
	case DTypeTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("DType(%d)", int(d))
	}
}

// ParseDType parses a dtype as spelled by the service: "a18" is a string of
// width 18, "int" and "double" are the numeric types.
func ParseDType(s string) (DType, int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "string", "str", "a":
		return DTypeString, 0, nil
	case "float", "double", "float64":
		return DTypeFloat64, 0, nil
	case "int", "int64", "long":
		return DTypeInt64, 0, nil
	case "timestamp", "datetime":
		return DTypeTimestamp, 0, nil
	}
	if strings.HasPrefix(s, "a") {
		width, err := strconv.Atoi(s[1:])
		if err == nil && width >= 0 {
			return DTypeString, width, nil
		}
	}
	return 0, 0, fmt.Errorf("unknown dtype %q", s)
}

// FormatDType is the inverse of ParseDType.
func FormatDType(d DType, width int) string {
	switch d {
	case DTypeString:
		if width > 0 {
			return "a" + strconv.Itoa(width)
		}
		return "string"
	case DTypeFloat64:
		return "double"
	case DTypeInt64:
		return "int"
	default:
		return "timestamp"
	}
}

// arrowType maps a dtype to the Arrow type its columns are built with.
func arrowType(d DType, loc *time.Location) arrow.DataType {
	switch d {
	case DTypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case DTypeInt64:
		return arrow.PrimitiveTypes.Int64
	case DTypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: loc.String()}
	default:
		return arrow.BinaryTypes.String
	}
}

// wireTimestampLayout is how timestamps are rendered on the socket.
const wireTimestampLayout = "2006-01-02T15:04:05.000000"

// timestampLayouts are accepted for naive timestamp strings.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Value is a tagged argument value: a string, float64, int64 or timestamp.
type Value struct {
	kind DType
	s    string
	f    float64
	i    int64
	t    time.Time
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: DTypeString, s: s} }

// FloatValue returns a float64 Value.
func FloatValue(f float64) Value { return Value{kind: DTypeFloat64, f: f} }

// IntValue returns an int64 Value.
func IntValue(i int64) Value { return Value{kind: DTypeInt64, i: i} }

// TimeValue returns a timestamp Value.
func TimeValue(t time.Time) Value { return Value{kind: DTypeTimestamp, t: t} }

// Kind reports which variant v holds.
func (v Value) Kind() DType { return v.kind }

// Interface returns the held value as a Go value.
func (v Value) Interface() any {
	switch v.kind {
	case DTypeFloat64:
		return v.f
	case DTypeInt64:
		return v.i
	case DTypeTimestamp:
		return v.t
	default:
		return v.s
	}
}

func (v Value) String() string { return fmt.Sprintf("%v", v.Interface()) }

// ValueOf wraps a Go value. Integers of every width, floats, strings,
// time.Time and Value are accepted.
func ValueOf(x any) (Value, error) {
	switch val := x.(type) {
	case Value:
		return val, nil
	case string:
		return StringValue(val), nil
	case time.Time:
		return TimeValue(val), nil
	case float64:
		return FloatValue(val), nil
	case float32:
		return FloatValue(float64(val)), nil
	case int:
		return IntValue(int64(val)), nil
	case int64:
		return IntValue(val), nil
	case int32:
		return IntValue(int64(val)), nil
	case int16:
		return IntValue(int64(val)), nil
	case int8:
		return IntValue(int64(val)), nil
	case uint:
		return IntValue(int64(val)), nil
	case uint32:
		return IntValue(int64(val)), nil
	case uint16:
		return IntValue(int64(val)), nil
	case uint8:
		return IntValue(int64(val)), nil
	case uint64:
		if val > math.MaxInt64 {
			return Value{}, fmt.Errorf("%d overflows int64", val)
		}
		return IntValue(int64(val)), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// Record is one invocation's named argument values.
type Record map[string]Value

// NewRecord converts a map of Go values into a Record.
func NewRecord(args map[string]any) (Record, error) {
	rec := make(Record, len(args))
	for name, x := range args {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", name, err)
		}
		rec[name] = v
	}
	return rec, nil
}

// convertValue converts v to the dtype of arg. Strings must fit the declared
// width and may not contain the separator or a line break.
func convertValue(v Value, arg ArgumentDescriptor, sep string, loc *time.Location) (Value, error) {
	switch arg.Type {
	case DTypeString:
		var s string
		switch v.kind {
		case DTypeString:
			s = v.s
		case DTypeInt64:
			s = strconv.FormatInt(v.i, 10)
		case DTypeFloat64:
			s = strconv.FormatFloat(v.f, 'f', -1, 64)
		case DTypeTimestamp:
			s = v.t.In(loc).Format(wireTimestampLayout)
		}
		if arg.Width > 0 && len(s) > arg.Width {
			return Value{}, fmt.Errorf("%d bytes exceed width %d", len(s), arg.Width)
		}
		if sep != "" && strings.Contains(s, sep) {
			return Value{}, fmt.Errorf("contains separator %q", sep)
		}
		if strings.ContainsAny(s, "\r\n") {
			return Value{}, fmt.Errorf("contains a line break")
		}
		return StringValue(s), nil
	case DTypeFloat64:
		switch v.kind {
		case DTypeFloat64:
			return v, nil
		case DTypeInt64:
			return FloatValue(float64(v.i)), nil
		case DTypeString:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
			if err != nil {
				return Value{}, fmt.Errorf("not a number")
			}
			return FloatValue(f), nil
		}
	case DTypeInt64:
		switch v.kind {
		case DTypeInt64:
			return v, nil
		case DTypeFloat64:
			if v.f != math.Trunc(v.f) || v.f > math.MaxInt64 || v.f < math.MinInt64 {
				return Value{}, fmt.Errorf("not an integral value")
			}
			return IntValue(int64(v.f)), nil
		case DTypeString:
			i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("not an integer")
			}
			return IntValue(i), nil
		}
	case DTypeTimestamp:
		switch v.kind {
		case DTypeTimestamp:
			return TimeValue(v.t.In(loc)), nil
		case DTypeString:
			t, err := parseTimestamp(v.s, loc)
			if err != nil {
				return Value{}, err
			}
			return TimeValue(t), nil
		}
	}
	return Value{}, fmt.Errorf("%s is not convertible to %s", v.kind, arg.Type)
}

// appendValue appends a converted value to a builder of the matching type.
func appendValue(b array.Builder, v Value) {
	switch bb := b.(type) {
	case *array.StringBuilder:
		bb.Append(v.s)
	case *array.Float64Builder:
		bb.Append(v.f)
	case *array.Int64Builder:
		bb.Append(v.i)
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(v.t.UnixMicro()))
	default:
		b.AppendNull()
	}
}

// FormatCell renders element i of a column the way the line protocol
// carries it. Nulls become empty fields.
func FormatCell(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return ""
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.Float64:
		return strconv.FormatFloat(a.Value(i), 'f', -1, 64)
	case *array.Int64:
		return strconv.FormatInt(a.Value(i), 10)
	case *array.Timestamp:
		loc := time.UTC
		if tt, ok := a.DataType().(*arrow.TimestampType); ok {
			if z, err := tt.GetZone(); err == nil && z != nil {
				loc = z
			}
		}
		return time.UnixMicro(int64(a.Value(i))).In(loc).Format(wireTimestampLayout)
	default:
		return a.ValueStr(i)
	}
}

// appendCell parses one result field into a builder. Empty fields are nulls.
func appendCell(b array.Builder, cell string, loc *time.Location) error {
	if cell == "" {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.StringBuilder:
		bb.Append(cell)
	case *array.Int64Builder:
		i, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(cell, 64)
			if ferr != nil || f != math.Trunc(f) {
				return fmt.Errorf("invalid int %q", cell)
			}
			i = int64(f)
		}
		bb.Append(i)
	case *array.Float64Builder:
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return fmt.Errorf("invalid double %q", cell)
		}
		bb.Append(f)
	case *array.TimestampBuilder:
		t, err := parseTimestamp(cell, loc)
		if err != nil {
			return err
		}
		bb.Append(arrow.Timestamp(t.UnixMicro()))
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}
