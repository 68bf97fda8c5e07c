// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"maps"
	"slices"
	"sort"

	"github.com/samber/lo"
)

// aliasState is the binding state of an alias.
type aliasState int

const (
	aliasUnbound aliasState = iota
	aliasBound
)

// aliasBinding tracks one alias: the function it is bound to, the argument
// names its records carry and the records themselves.
type aliasBinding struct {
	state    aliasState
	name     string
	function *FunctionDescriptor
	fields   []string // sorted
	records  []Record
}

// AliasRegistry validates records and groups them by alias. Aliases keep the
// order in which they were first seen. It is not safe for concurrent use.
type AliasRegistry struct {
	catalog  *Catalog
	bindings map[string]*aliasBinding
	order    []string
}

// NewAliasRegistry returns an empty registry validating against catalog.
func NewAliasRegistry(catalog *Catalog) *AliasRegistry {
	return &AliasRegistry{
		catalog:  catalog,
		bindings: make(map[string]*aliasBinding),
	}
}

// AddRecord validates rec and appends it to alias. An empty alias is replaced
// by the function name. On error nothing is recorded.
func (r *AliasRegistry) AddRecord(alias, function string, rec Record) error {
	fn, err := r.catalog.Function(function)
	if err != nil {
		return err
	}
	if alias == "" {
		alias = function
	}

	names := lo.Keys(rec)
	sort.Strings(names)
	for _, name := range names {
		if _, ok := fn.Argument(name); !ok {
			return &UnknownArgumentError{Alias: alias, Function: function, Argument: name}
		}
	}

	b, ok := r.bindings[alias]
	if !ok {
		b = &aliasBinding{state: aliasUnbound, name: alias}
	}

	switch b.state {
	case aliasUnbound:
		for _, arg := range fn.Arguments {
			if !fn.IsRequired(arg) {
				continue
			}
			if _, ok := rec[arg.Name]; !ok {
				return &MissingRequiredArgumentError{Alias: alias, Function: function, Argument: arg.Name}
			}
		}
		b.state = aliasBound
		b.function = fn
		b.fields = names
		r.bindings[alias] = b
		r.order = append(r.order, alias)
	case aliasBound:
		if b.function.Name != function {
			return &AliasFunctionMismatchError{Alias: alias, Bound: b.function.Name, Got: function}
		}
		if !slices.Equal(b.fields, names) {
			return &AliasArgumentSetMismatchError{
				Alias:    alias,
				Index:    len(b.records),
				Expected: append([]string(nil), b.fields...),
				Got:      names,
			}
		}
	}

	b.records = append(b.records, maps.Clone(rec))
	return nil
}

// Aliases returns the bound aliases in insertion order.
func (r *AliasRegistry) Aliases() []string {
	return append([]string(nil), r.order...)
}

// Function returns the function an alias is bound to.
func (r *AliasRegistry) Function(alias string) (*FunctionDescriptor, bool) {
	b, ok := r.bindings[alias]
	if !ok || b.state != aliasBound {
		return nil, false
	}
	return b.function, true
}

// Arguments returns the arguments an alias is bound with, in catalog order.
func (r *AliasRegistry) Arguments(alias string) []ArgumentDescriptor {
	b, ok := r.bindings[alias]
	if !ok || b.state != aliasBound {
		return nil
	}
	return lo.Filter(b.function.Arguments, func(a ArgumentDescriptor, _ int) bool {
		return lo.Contains(b.fields, a.Name)
	})
}

// Records returns the records of an alias.
func (r *AliasRegistry) Records(alias string) []Record {
	if b, ok := r.bindings[alias]; ok {
		return b.records
	}
	return nil
}

// RecordCount returns the number of records of an alias.
func (r *AliasRegistry) RecordCount(alias string) int {
	return len(r.Records(alias))
}

// Len returns the number of bound aliases.
func (r *AliasRegistry) Len() int { return len(r.order) }

// Reset drops every alias and record.
func (r *AliasRegistry) Reset() {
	r.bindings = make(map[string]*aliasBinding)
	r.order = nil
}

// checkRecordCounts verifies every alias holds the same number of records and
// returns that number.
func (r *AliasRegistry) checkRecordCounts() (int, error) {
	if len(r.order) == 0 {
		return 0, ErrEmptyBatch
	}
	first := r.order[0]
	expected := r.RecordCount(first)
	for _, alias := range r.order[1:] {
		if n := r.RecordCount(alias); n != expected {
			return 0, &InconsistentRecordCountError{Alias: alias, Count: n, ExpectedAlias: first, Expected: expected}
		}
	}
	return expected, nil
}
