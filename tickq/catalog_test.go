// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const describeDocument = `{"functions": [
  {"name": "VWAP", "time_zone": "America/New_York",
   "arguments": [["Symbol", "a18", true], ["StartTime", "a20", true], ["Side", "a6", false], ["LimitPx", "double", false]],
   "results": [["ID", "int"], ["TradeCnt", "int"], ["VWAP", "double"]]},
  {"name": "ROD", "enforcement": "all",
   "arguments": [["Symbol", "a18", false], ["OrdQty", "double", false]],
   "results": [["Symbol", "a64"]]}
]}`

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, []string{"NBBO", "NBBOPrice", "Quote", "ROD", "VWAP"}, c.ListFunctions())

	args, err := c.ArgumentSpec("VWAP")
	require.NoError(t, err)
	assert.Equal(t, "Symbol", args[0].Name)
	assert.True(t, args[0].Required)

	results, err := c.ResultSpec("NBBOPrice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Timestamp", "BestBidPx", "BestOfferPx"}, resultNames(results))
}

func TestCatalogUnknownFunction(t *testing.T) {
	_, err := DefaultCatalog().Function("TWAP")
	var uf *UnknownFunctionError
	require.True(t, errors.As(err, &uf))
	assert.Equal(t, "TWAP", uf.Function)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = DefaultCatalog().ResultSpec("TWAP")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoadCatalogFromDocument(t *testing.T) {
	c, err := LoadCatalog(context.Background(), DocumentIntrospector{Reader: strings.NewReader(describeDocument)})
	require.NoError(t, err)

	vwap, err := c.Function("VWAP")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", vwap.TimeZone)
	assert.Equal(t, EnforceFlagged, vwap.Enforcement)
	assert.Equal(t, []string{"TradeCnt", "VWAP"}, resultNames(vwap.Results), "ID is never part of a result spec")
	side, ok := vwap.Argument("Side")
	require.True(t, ok)
	assert.Equal(t, 6, side.Width)
	assert.False(t, vwap.IsRequired(side))

	rod, err := c.Function("ROD")
	require.NoError(t, err)
	assert.Equal(t, EnforceAll, rod.Enforcement)
	for _, a := range rod.Arguments {
		assert.True(t, rod.IsRequired(a), a.Name)
	}

	names := make([]string, 0)
	for _, a := range c.Arguments() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"LimitPx", "OrdQty", "Side", "StartTime", "Symbol"}, names)
}

func TestDescribeDocumentRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDescribeDocument(&buf, DefaultCatalog()))

	descs, err := ParseDescribeDocument(buf.Bytes())
	require.NoError(t, err)
	c, err := NewCatalog(descs...)
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().ListFunctions(), c.ListFunctions())

	for _, name := range c.ListFunctions() {
		want, _ := DefaultCatalog().Function(name)
		got, _ := c.Function(name)
		assert.Equal(t, want, got, name)
	}
}

func TestParseDescribeDocumentErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"invalid json":    `{"functions": [`,
		"no functions":    `{"funcs": []}`,
		"bad dtype":       `{"functions": [{"name": "F", "arguments": [["A", "decimal"]]}]}`,
		"short argument":  `{"functions": [{"name": "F", "arguments": [["A"]]}]}`,
		"bad result type": `{"functions": [{"name": "F", "results": [["R", "blob"]]}]}`,
	} {
		_, err := ParseDescribeDocument([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestNewCatalogRejectsInvalidDescriptors(t *testing.T) {
	_, err := NewCatalog(FunctionDescriptor{})
	assert.Error(t, err)

	_, err = NewCatalog(FunctionDescriptor{Name: "F"}, FunctionDescriptor{Name: "F"})
	assert.Error(t, err)

	_, err = NewCatalog(FunctionDescriptor{Name: "F", Arguments: []ArgumentDescriptor{{Name: "A"}, {Name: "A"}}})
	assert.Error(t, err)
}

func resultNames(fields []ResultField) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
