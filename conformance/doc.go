// Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package conformance is a reference implementation of the tick-calc line
// protocol used to exercise clients without a real deployment. It accepts
// both header forms, evaluates Quote, NBBO, NBBOPrice and VWAP records
// against a small in-memory tape, tallies per-record failures by error type
// and answers with the merged, ID-ordered response.
//
// Evaluation follows the service's published semantics closely enough for
// the sample tape to reproduce the reference results:
//
//   - Quote, NBBO and NBBOPrice return the most recent quote at or before
//     the requested time of day.
//   - VWAP aggregates the prints of an inclusive [StartTime, EndTime]
//     window. Flavor 1 keeps regular exchange prints, 2 regular TRF prints,
//     3 every regular print (the default), 4 block prints and 5 every print.
//     LimitPx with Side restricts prices; TargetVolume with TargetPOV and
//     Ticks end the window early.
//   - Markouts replace an alias's fields with one suffixed set per markout
//     ("TradeCnt_1", ...). A record whose markout list is empty, malformed,
//     or of a different length than the alias's first valid record fails
//     with InvalidArgument.
//
// [Service] serves connections from a net.Listener and also implements
// [tickq.EmbeddedCall] through [Service.Call].
package conformance
