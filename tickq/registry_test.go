// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, args map[string]any) Record {
	t.Helper()
	rec, err := NewRecord(args)
	require.NoError(t, err)
	return rec
}

func quoteArgs(sym, ts string) map[string]any {
	return map[string]any{"Symbol": sym, "Timestamp": ts}
}

func TestRegistryBindsAliasOnFirstRecord(t *testing.T) {
	reg := NewAliasRegistry(DefaultCatalog())
	require.NoError(t, reg.AddRecord("arrival", "NBBOPrice", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
	require.NoError(t, reg.AddRecord("vwap", "VWAP", record(t, map[string]any{
		"Symbol": "TEST", "Date": "20200331", "StartTime": "09:30:00",
	})))
	require.NoError(t, reg.AddRecord("arrival", "NBBOPrice", record(t, quoteArgs("BAC", "2020-03-31T09:31:00"))))

	assert.Equal(t, []string{"arrival", "vwap"}, reg.Aliases())
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 2, reg.RecordCount("arrival"))
	assert.Equal(t, 1, reg.RecordCount("vwap"))

	fn, ok := reg.Function("vwap")
	require.True(t, ok)
	assert.Equal(t, "VWAP", fn.Name)

	names := []string{}
	for _, a := range reg.Arguments("vwap") {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"Symbol", "Date", "StartTime"}, names, "arguments follow catalog order")
}

func TestRegistryEmptyAliasDefaultsToFunction(t *testing.T) {
	reg := NewAliasRegistry(DefaultCatalog())
	require.NoError(t, reg.AddRecord("", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
	assert.Equal(t, []string{"Quote"}, reg.Aliases())
}

func TestRegistryArgumentSetIsOrderIndependent(t *testing.T) {
	reg := NewAliasRegistry(DefaultCatalog())
	first := Record{"Symbol": StringValue("TEST"), "Timestamp": StringValue("2020-03-31T09:30:00")}
	second := Record{"Timestamp": StringValue("2020-03-31T09:31:00"), "Symbol": StringValue("TEST")}
	require.NoError(t, reg.AddRecord("q", "Quote", first))
	require.NoError(t, reg.AddRecord("q", "Quote", second))
	assert.Equal(t, 2, reg.RecordCount("q"))

	for i := range 20 {
		rec := record(t, map[string]any{
			"Symbol": "TEST", "Date": "20200331", "StartTime": "09:30:00",
			"EndTime": "09:31:00", "Side": "B", "LimitPx": 10.5, "Flavor": i%5 + 1,
		})
		require.NoError(t, reg.AddRecord("v", "VWAP", rec), "record %d", i)
	}
	assert.Equal(t, 20, reg.RecordCount("v"))
}

func TestRegistryValidationErrors(t *testing.T) {
	newReg := func(t *testing.T) *AliasRegistry {
		reg := NewAliasRegistry(DefaultCatalog())
		require.NoError(t, reg.AddRecord("q", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
		return reg
	}

	t.Run("unknown function", func(t *testing.T) {
		err := newReg(t).AddRecord("x", "TWAP", record(t, quoteArgs("TEST", "t")))
		var target *UnknownFunctionError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, "TWAP", target.Function)
	})
	t.Run("unknown argument", func(t *testing.T) {
		args := quoteArgs("TEST", "2020-03-31T09:30:00")
		args["Venue"] = "N"
		err := newReg(t).AddRecord("x", "Quote", record(t, args))
		var target *UnknownArgumentError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, "Venue", target.Argument)
	})
	t.Run("missing required argument", func(t *testing.T) {
		err := newReg(t).AddRecord("x", "Quote", record(t, map[string]any{"Symbol": "TEST"}))
		var target *MissingRequiredArgumentError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, "Timestamp", target.Argument)
		assert.Equal(t, "x", target.Alias)
	})
	t.Run("enforce all requires every argument", func(t *testing.T) {
		err := newReg(t).AddRecord("rod", "ROD", record(t, map[string]any{"Symbol": "TEST"}))
		var target *MissingRequiredArgumentError
		require.True(t, errors.As(err, &target))
	})
	t.Run("alias bound to another function", func(t *testing.T) {
		err := newReg(t).AddRecord("q", "NBBO", record(t, quoteArgs("TEST", "2020-03-31T09:30:00")))
		var target *AliasFunctionMismatchError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, "Quote", target.Bound)
		assert.Equal(t, "NBBO", target.Got)
	})
	t.Run("argument set differs", func(t *testing.T) {
		reg := NewAliasRegistry(DefaultCatalog())
		require.NoError(t, reg.AddRecord("n", "NBBO", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
		args := quoteArgs("TEST", "2020-03-31T09:30:00")
		args["Markouts"] = "1t"
		err := reg.AddRecord("n", "NBBO", record(t, args))
		var target *AliasArgumentSetMismatchError
		require.True(t, errors.As(err, &target))
		assert.Equal(t, 1, target.Index)
		assert.Equal(t, []string{"Symbol", "Timestamp"}, target.Expected)
		assert.Equal(t, []string{"Markouts", "Symbol", "Timestamp"}, target.Got)
		assert.Equal(t, 1, reg.RecordCount("n"), "a rejected record is not appended")
	})

	for _, err := range []error{
		newReg(t).AddRecord("x", "TWAP", nil),
		newReg(t).AddRecord("q", "NBBO", record(t, quoteArgs("TEST", "t"))),
	} {
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestRegistryRecordCounts(t *testing.T) {
	reg := NewAliasRegistry(DefaultCatalog())
	_, err := reg.checkRecordCounts()
	assert.ErrorIs(t, err, ErrEmptyBatch)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, reg.AddRecord("a", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
	require.NoError(t, reg.AddRecord("b", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))))
	require.NoError(t, reg.AddRecord("b", "Quote", record(t, quoteArgs("TEST", "2020-03-31T09:31:00"))))

	_, err = reg.checkRecordCounts()
	var target *InconsistentRecordCountError
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "b", target.Alias)
	assert.Equal(t, 2, target.Count)
	assert.Equal(t, "a", target.ExpectedAlias)
	assert.Equal(t, 1, target.Expected)

	reg.Reset()
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Records("a"))
}

func TestRegistryStoresCopies(t *testing.T) {
	reg := NewAliasRegistry(DefaultCatalog())
	rec := record(t, quoteArgs("TEST", "2020-03-31T09:30:00"))
	require.NoError(t, reg.AddRecord("q", "Quote", rec))
	rec["Symbol"] = StringValue("BAC")
	assert.Equal(t, "TEST", reg.Records("q")[0]["Symbol"].Interface())
}
