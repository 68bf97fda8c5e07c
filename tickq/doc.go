// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package tickq is a client for the tick-calc market-data analytics
// service. It batches many invocations of the service's functions (Quote,
// NBBO, VWAP, ROD, ...) into a single request, each invocation set living
// under its own alias, and decodes the merged, ID-correlated response.
//
// # Batches and aliases
//
// A [Batch] accumulates records. Each record names an alias, a function and
// a set of named argument values:
//
//	batch := client.NewBatch()
//	batch.Add("v1", "VWAP", map[string]any{"Symbol": "TEST", "Date": "20200801", "StartTime": "09:30"})
//	batch.Add("v2", "VWAP", map[string]any{"Symbol": "TEST", "Date": "20200801", "StartTime": "09:30", "Flavor": 2})
//	result, err := batch.Execute(ctx)
//
// The first record of an alias binds it to its function and to the exact
// set of argument names supplied; every later record of that alias must use
// the same function and the same argument names. All aliases of a batch
// must hold the same number of records, since record i of every alias
// shares input record ID i+1.
//
// # Encoding
//
// Argument values are converted to the dtype declared by the
// [FunctionCatalog] and packed into one Apache Arrow array per
// (alias, argument) pair, named "<alias>.<argument>". Identical columns
// produced for the same argument by different aliases are sent once.
//
// # Transports
//
// Two bindings are available:
//
//   - [EmbeddedTransport] hands the JSON header and the named columns to an
//     in-process [EmbeddedCall] and receives a report plus result columns.
//   - [LineTransport] speaks the service's socket line protocol: a JSON
//     header line, one separator-delimited line per input record, and a
//     response made of a report line, output_records result lines and a
//     runtime trailer line.
//
// # Results
//
// [Batch.Execute] returns an [ExecutionReport] and a [ResultTable] keyed by
// "ID" and "<alias>.<field>". Records the service could not evaluate are
// missing from the table and counted by error type in the report's
// [ErrorSummary]; they never fail the batch.
package tickq
