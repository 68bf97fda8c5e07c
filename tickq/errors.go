// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tickq

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for use with errors.Is.
var (
	// ErrValidation matches every client-side validation failure raised
	// before a request reaches a transport.
	ErrValidation = errors.New("tickq: validation failed")
	// ErrTransport matches connection and I/O failures.
	ErrTransport = errors.New("tickq: transport failed")
	// ErrFraming matches responses that violate the line protocol.
	ErrFraming = errors.New("tickq: protocol framing violated")
	// ErrEmptyBatch is returned when a batch without records is executed.
	ErrEmptyBatch = fmt.Errorf("%w: batch has no records", ErrValidation)
)

// UnknownFunctionError reports a function name absent from the catalog.
type UnknownFunctionError struct {
	Function string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("tickq: unknown function %q", e.Function)
}

func (e *UnknownFunctionError) Is(target error) bool { return target == ErrValidation }

// UnknownArgumentError reports an argument the function does not declare.
type UnknownArgumentError struct {
	Alias    string
	Function string
	Argument string
}

func (e *UnknownArgumentError) Error() string {
	return fmt.Sprintf("tickq: alias %q: function %s has no argument %q", e.Alias, e.Function, e.Argument)
}

func (e *UnknownArgumentError) Is(target error) bool { return target == ErrValidation }

// MissingRequiredArgumentError reports a required argument absent from the
// first record of an alias.
type MissingRequiredArgumentError struct {
	Alias    string
	Function string
	Argument string
}

func (e *MissingRequiredArgumentError) Error() string {
	return fmt.Sprintf("tickq: alias %q: function %s requires argument %q", e.Alias, e.Function, e.Argument)
}

func (e *MissingRequiredArgumentError) Is(target error) bool { return target == ErrValidation }

// AliasFunctionMismatchError reports a record naming a different function
// than the one its alias is bound to.
type AliasFunctionMismatchError struct {
	Alias string
	Bound string
	Got   string
}

func (e *AliasFunctionMismatchError) Error() string {
	return fmt.Sprintf("tickq: alias %q is bound to function %s, got %s", e.Alias, e.Bound, e.Got)
}

func (e *AliasFunctionMismatchError) Is(target error) bool { return target == ErrValidation }

// AliasArgumentSetMismatchError reports a record whose argument names differ
// from the set the alias was bound with.
type AliasArgumentSetMismatchError struct {
	Alias    string
	Index    int
	Expected []string
	Got      []string
}

func (e *AliasArgumentSetMismatchError) Error() string {
	return fmt.Sprintf("tickq: alias %q record %d: arguments [%s] differ from bound arguments [%s]",
		e.Alias, e.Index, strings.Join(e.Got, ", "), strings.Join(e.Expected, ", "))
}

func (e *AliasArgumentSetMismatchError) Is(target error) bool { return target == ErrValidation }

// ArgumentTypeError reports a value that cannot be converted to the dtype
// its argument declares.
type ArgumentTypeError struct {
	Alias    string
	Index    int
	Argument string
	Value    any
	Reason   string
}

func (e *ArgumentTypeError) Error() string {
	return fmt.Sprintf("tickq: alias %q record %d argument %q: cannot convert %v: %s",
		e.Alias, e.Index, e.Argument, e.Value, e.Reason)
}

func (e *ArgumentTypeError) Is(target error) bool { return target == ErrValidation }

// InconsistentRecordCountError reports aliases holding different numbers of
// records in the same batch.
type InconsistentRecordCountError struct {
	Alias         string
	Count         int
	ExpectedAlias string
	Expected      int
}

func (e *InconsistentRecordCountError) Error() string {
	return fmt.Sprintf("tickq: alias %q has %d records, alias %q has %d",
		e.Alias, e.Count, e.ExpectedAlias, e.Expected)
}

func (e *InconsistentRecordCountError) Is(target error) bool { return target == ErrValidation }

// TransportError wraps a connection, read or write failure. The connection
// it happened on is always closed.
type TransportError struct {
	Op   string // "dial", "write", "read"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tickq: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ProtocolFramingError reports a response that does not follow the line
// protocol: a short read, a malformed report line, a result line with the
// wrong number of fields, or a missing trailer.
type ProtocolFramingError struct {
	Stage  string // "report", "records", "trailer", "columns"
	Detail string
	Err    error
}

func (e *ProtocolFramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tickq: framing error in %s: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("tickq: framing error in %s: %s", e.Stage, e.Detail)
}

func (e *ProtocolFramingError) Unwrap() error { return e.Err }

func (e *ProtocolFramingError) Is(target error) bool { return target == ErrFraming }
