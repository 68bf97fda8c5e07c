// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark generates request and response workloads for measuring
// the client's encoding, transport and decoding paths.
package benchmark

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/Query-farm/tickq/tickq"
	"github.com/Query-farm/tickq/tickq/fixture"
)

// Workload parameters of the generated batches.
var (
	Symbols = []string{"TEST", "BAC", "ACEL+"}
	Flavors = []string{"1", "2", "3", "4", "5"}
	Date    = "20200331"
)

const (
	sessionOpen  = 9*time.Hour + 30*time.Minute
	sessionClose = 16 * time.Hour
	minSpan      = time.Second
	maxSpan      = 4 * time.Hour
	execDelay    = time.Minute
)

// Generator fills batches with pseudo-random multi-alias records. The same
// seed always yields the same records.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Fill adds n records to each of three aliases of b: the quote at arrival,
// the quote one minute after arrival, and the VWAP from arrival over a
// random span.
func (g *Generator) Fill(b *tickq.Batch, n int) error {
	date, _ := time.Parse("20060102", Date)
	for range n {
		sym := Symbols[g.rng.IntN(len(Symbols))]
		start := sessionOpen + time.Duration(g.rng.Int64N(int64(sessionClose-sessionOpen)))
		start = start.Truncate(time.Microsecond)
		end := min(start+minSpan+time.Duration(g.rng.Int64N(int64(maxSpan-minSpan))), sessionClose)

		arrival := date.Add(start)
		if err := b.Add("arrival", "NBBOPrice", map[string]any{
			"Symbol":    sym,
			"Timestamp": arrival.Format("2006-01-02T15:04:05.000000"),
		}); err != nil {
			return err
		}
		if err := b.Add("post-exec", "NBBOPrice", map[string]any{
			"Symbol":    sym,
			"Timestamp": arrival.Add(execDelay).Format("2006-01-02T15:04:05.000000"),
		}); err != nil {
			return err
		}
		if err := b.Add("vwap", "VWAP", map[string]any{
			"Symbol":    sym,
			"Date":      Date,
			"StartTime": fixture.FormatTime(start),
			"EndTime":   fixture.FormatTime(end),
			"Flavor":    Flavors[g.rng.IntN(len(Flavors))],
		}); err != nil {
			return err
		}
	}
	return nil
}

// Lines returns n separator-delimited result lines for layout, with IDs 1
// through n and values of each field's dtype.
func (g *Generator) Lines(n int, layout []tickq.AliasFields, sep string) []string {
	out := make([]string, n)
	for i := range out {
		line := fmt.Sprint(i + 1)
		for _, af := range layout {
			for _, f := range af.Fields {
				line += sep + g.cell(f)
			}
		}
		out[i] = line
	}
	return out
}

func (g *Generator) cell(f tickq.ResultField) string {
	switch f.Type {
	case tickq.DTypeInt64:
		return fmt.Sprint(g.rng.IntN(100000))
	case tickq.DTypeFloat64:
		return fmt.Sprintf("%.6f", 10+g.rng.Float64()*10)
	case tickq.DTypeTimestamp:
		return Date[:4] + "-" + Date[4:6] + "-" + Date[6:] + "T" +
			fixture.FormatTime(sessionOpen+time.Duration(g.rng.Int64N(int64(sessionClose-sessionOpen))).Truncate(time.Microsecond))
	default:
		return Symbols[g.rng.IntN(len(Symbols))]
	}
}
