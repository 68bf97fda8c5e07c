// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"sort"
	"time"

	"github.com/Query-farm/tickq/tickq/fixture"
	"github.com/samber/lo"
)

// Tape is the market data the service evaluates requests against, keyed by
// symbol and ordered by time of day.
type Tape struct {
	quotes map[string][]fixture.Quote
	trades map[string][]fixture.Trade
}

// NewTape indexes quotes and trades by symbol.
func NewTape(quotes []fixture.Quote, trades []fixture.Trade) *Tape {
	t := &Tape{
		quotes: lo.GroupBy(quotes, func(q fixture.Quote) string { return q.Symbol }),
		trades: lo.GroupBy(trades, func(tr fixture.Trade) string { return tr.Symbol }),
	}
	for _, qs := range t.quotes {
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].Time < qs[j].Time })
	}
	for _, ts := range t.trades {
		sort.SliceStable(ts, func(i, j int) bool { return ts[i].Time < ts[j].Time })
	}
	return t
}

// FromBuilder builds a tape from the records accumulated in a fixture
// builder.
func FromBuilder(b *fixture.Builder) *Tape {
	return NewTape(b.Quotes(), b.Trades())
}

// Symbols returns every symbol with quotes or trades.
func (t *Tape) Symbols() []string {
	syms := lo.Union(lo.Keys(t.quotes), lo.Keys(t.trades))
	sort.Strings(syms)
	return syms
}

// quoteAsOf returns the index of the last quote at or before tod, or -1.
func (t *Tape) quoteAsOf(symbol string, tod time.Duration) int {
	qs := t.quotes[symbol]
	return sort.Search(len(qs), func(i int) bool { return qs[i].Time > tod }) - 1
}

// SampleTape returns the tape of the TEST symbol used by the reference
// scenarios: 36 prints between 09:30:00 and 09:30:36, four TEST quotes and
// one BAC quote.
func SampleTape() *Tape {
	b := fixture.NewBuilder("", "")
	trade := func(ts string, vol int64, px float64, exchange, cond string) {
		b.AddTrade(fixture.Trade{
			Symbol: "TEST", Time: fixture.MustTime(ts), Volume: vol, Price: px,
			Exchange: exchange, SaleCondition: cond,
		})
	}
	trade("09:30:00.654289", 100, 10.54, "", "")
	trade("09:30:01.414499", 200, 10.96, "", "")
	trade("09:30:02.20787", 300, 10.9, "", "")
	trade("09:30:03.991933", 400, 10.85, "", "Z")
	trade("09:30:04.166208", 500, 10.82, "D", "")
	trade("09:30:05.951611", 600, 10.34, "D", "")
	trade("09:30:06.120973", 700, 10.99, "D", "")
	trade("09:30:07.760147", 800, 10.64, "", "")
	trade("09:30:08.104618", 900, 10.49, "D", "")
	trade("09:30:09.106581", 100, 10.11, "", "")
	trade("09:30:10.254205", 200, 10.46, "", "Z")
	trade("09:30:11.675591", 300, 10.33, "", "")
	trade("09:30:12.408433", 400, 10.12, "", "")
	trade("09:30:13.426745", 500, 10.72, "", "")
	trade("09:30:14.960552", 600, 10.96, "", "")
	trade("09:30:15.221821", 700, 10.93, "D", "")
	trade("09:30:16.767575", 800, 10.15, "D", "")
	trade("09:30:17.579457", 900, 10.91, "", "Z")
	trade("09:30:18.107083", 100, 10.84, "", "Z")
	trade("09:30:19.629419", 200, 10.03, "", "")
	trade("09:30:20.100908", 300, 10.8, "", "")
	trade("09:30:21.991891", 400, 10.75, "", "")
	trade("09:30:22.118736", 500, 10.25, "", "")
	trade("09:30:23.508291", 600, 10.16, "", "")
	trade("09:30:24.548732", 700, 10.77, "", "")
	trade("09:30:25.321846", 800, 10.6, "", "")
	trade("09:30:26.471978", 900, 10.23, "", "")
	trade("09:30:27.767195", 100, 10.86, "", "")
	trade("09:30:28.15563", 200, 10.3, "", "")
	trade("09:30:29.806084", 300, 10.77, "", "")
	trade("09:30:30.305105", 400, 10.34, "", "")
	trade("09:30:31.755329", 500, 10.88, "", "")
	trade("09:30:32.421619", 600, 10.18, "", "")
	trade("09:30:33.275699", 700, 10.61, "", "")
	trade("09:30:34.572848", 10000, 10.93, "", "")
	trade("09:30:35.95833", 9900, 20.51, "", "")

	quote := func(sym, ts string, bid, offer float64) {
		b.AddQuote(fixture.Quote{Symbol: sym, Time: fixture.MustTime(ts), Bid: bid, Offer: offer})
	}
	quote("TEST", "09:30:01.123", 1.02, 1.12)
	quote("TEST", "09:30:03.123", 1.00, 1.10)
	quote("TEST", "09:31:01.123", 1.01, 1.11)
	quote("TEST", "10:30:01.123", 2.02, 12.12)
	quote("BAC", "09:30:01.123", 32.02, 33.12)
	return FromBuilder(b)
}
