// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package fixture builds security-master, quote and trade tapes in the
// pipe-delimited TAQ layout and hands them to the tape preparation utility
// (taq-prep) that converts them into the service's snapshot files.
//
// Records accumulate in a Builder; each Make call writes them to a scoped
// temporary file, runs the utility on it, removes the file and clears the
// records it consumed.
package fixture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Runner executes the preparation utility.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs the utility as a child process.
type ExecRunner struct{}

// Run executes name and waits for it. Its output is included in the error
// when it fails.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Security is one security-master entry. Zero fields take the defaults of a
// tape A, NYSE listed, 100-share round lot security.
type Security struct {
	Symbol         string
	SIPSymbol      string
	ListedExchange string
	Tape           string
	RoundLot       int
}

// Quote is one quote record. Time is the time of day.
type Quote struct {
	Time      time.Duration
	Exchange  string
	Symbol    string
	Bid       float64
	BidSize   int64
	Offer     float64
	OfferSize int64
	Condition string
	Source    string
}

// Trade is one trade record. Time is the time of day.
type Trade struct {
	Time          time.Duration
	Exchange      string
	Symbol        string
	SaleCondition string
	Volume        int64
	Price         float64
	Correction    string
	Source        string
	TRF           string
	Exempt        string
}

// Builder accumulates fixture records. It is not safe for concurrent use.
type Builder struct {
	tool     string
	outDir   string
	runner   Runner
	logger   *zap.Logger
	security []Security
	quotes   []Quote
	trades   []Trade
}

// NewBuilder returns a builder that runs tool and writes its output to
// outDir.
func NewBuilder(tool, outDir string) *Builder {
	return &Builder{tool: tool, outDir: outDir, runner: ExecRunner{}, logger: zap.NewNop()}
}

// SetRunner replaces the runner.
func (b *Builder) SetRunner(r Runner) { b.runner = r }

// SetLogger sets the logger.
func (b *Builder) SetLogger(l *zap.Logger) { b.logger = l }

// AddSymbol adds a security-master entry.
func (b *Builder) AddSymbol(s Security) {
	if s.SIPSymbol == "" {
		s.SIPSymbol = s.Symbol
	}
	s.ListedExchange = lo.CoalesceOrEmpty(s.ListedExchange, "N")
	s.Tape = lo.CoalesceOrEmpty(s.Tape, "A")
	s.RoundLot = lo.CoalesceOrEmpty(s.RoundLot, 100)
	b.security = append(b.security, s)
}

// AddQuote adds a quote.
func (b *Builder) AddQuote(q Quote) {
	q.Exchange = lo.CoalesceOrEmpty(q.Exchange, "N")
	q.BidSize = lo.CoalesceOrEmpty(q.BidSize, 1)
	q.OfferSize = lo.CoalesceOrEmpty(q.OfferSize, 1)
	q.Condition = lo.CoalesceOrEmpty(q.Condition, " ")
	q.Source = lo.CoalesceOrEmpty(q.Source, "C")
	b.quotes = append(b.quotes, q)
}

// AddTrade adds a trade.
func (b *Builder) AddTrade(t Trade) {
	t.Exchange = lo.CoalesceOrEmpty(t.Exchange, "N")
	t.SaleCondition = padRight(strings.TrimSpace(t.SaleCondition), 4)
	t.Correction = lo.CoalesceOrEmpty(t.Correction, "00")
	t.Source = lo.CoalesceOrEmpty(t.Source, "C")
	t.TRF = lo.CoalesceOrEmpty(t.TRF, "N")
	t.Exempt = lo.CoalesceOrEmpty(t.Exempt, "0")
	b.trades = append(b.trades, t)
}

// Securities returns the accumulated security-master entries.
func (b *Builder) Securities() []Security { return append([]Security(nil), b.security...) }

// Quotes returns the accumulated quotes ordered by symbol, then time.
func (b *Builder) Quotes() []Quote {
	out := append([]Quote(nil), b.quotes...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Time < out[j].Time
	})
	return out
}

// Trades returns the accumulated trades ordered by symbol, then time.
func (b *Builder) Trades() []Trade {
	out := append([]Trade(nil), b.trades...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Time < out[j].Time
	})
	return out
}

// MakeSecmaster materializes the security master for date (YYYYMMDD).
func (b *Builder) MakeSecmaster(ctx context.Context, date string) error {
	lines := lo.Map(b.security, func(s Security, _ int) string { return s.record() })
	if err := b.run(ctx, lines, "-t", "master", "-d", date); err != nil {
		return err
	}
	b.security = nil
	return nil
}

// MakeQuotes materializes quotes for date, one run per symbol group (the
// first letter of the symbol) and record type.
// Nothing runs when a quote has no symbol.
func (b *Builder) MakeQuotes(ctx context.Context, date string) error {
	if q, ok := lo.Find(b.quotes, func(q Quote) bool { return strings.TrimSpace(q.Symbol) == "" }); ok {
		return fmt.Errorf("fixture: quote at %s has no symbol", FormatTime(q.Time))
	}
	groups := lo.GroupBy(b.Quotes(), func(q Quote) string { return q.Symbol[:1] })
	keys := lo.Keys(groups)
	sort.Strings(keys)
	for _, grp := range keys {
		lines := lo.Map(groups[grp], func(q Quote, _ int) string { return q.record() })
		for _, typ := range []string{"quote", "quote-po"} {
			if err := b.run(ctx, lines, "-t", typ, "-d", date, "-s", grp); err != nil {
				return err
			}
		}
	}
	b.quotes = nil
	return nil
}

// MakeTrades materializes every accumulated trade for date.
func (b *Builder) MakeTrades(ctx context.Context, date string) error {
	lines := lo.Map(b.Trades(), func(t Trade, _ int) string { return t.record() })
	if err := b.run(ctx, lines, "-t", "trade", "-d", date); err != nil {
		return err
	}
	b.trades = nil
	return nil
}

// run writes lines to a temporary file, flushes it and invokes the utility
// on it. The file is removed afterwards.
func (b *Builder) run(ctx context.Context, lines []string, args ...string) error {
	tmp, err := os.CreateTemp("", "tickq-fixture-*.psv")
	if err != nil {
		return fmt.Errorf("creating fixture file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.WriteString(strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("writing fixture file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("flushing fixture file: %w", err)
	}

	args = append(args, "-i", tmp.Name(), "-o", b.outDir)
	b.logger.Debug("materializing fixture", zap.String("tool", b.tool), zap.Strings("args", args), zap.Int("records", len(lines)))
	return b.runner.Run(ctx, b.tool, args...)
}

func (s Security) record() string {
	return fmt.Sprintf("%s|Test symbol|CUSIP|A|%s|X|Y|%s|%s|1|%d|100|10000| |    |    |  |  |1|1|1|1|1|1|1|1|1|1|1|1|1|1|1|1| |",
		s.Symbol, s.SIPSymbol, s.ListedExchange, s.Tape, s.RoundLot)
}

func (q Quote) record() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%s|%d|%s|0| | | | |%s| | | | | | | | | ",
		TAQTime(q.Time), q.Exchange, q.Symbol, formatPrice(q.Bid), q.BidSize,
		formatPrice(q.Offer), q.OfferSize, q.Condition, q.Source)
}

func (t Trade) record() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%s| |%s| | |%s|%s| | |%s",
		TAQTime(t.Time), t.Exchange, t.Symbol, t.SaleCondition, t.Volume, formatPrice(t.Price),
		t.Correction, t.Source, t.TRF, t.Exempt)
}

func formatPrice(p float64) string {
	s := strconv.FormatFloat(p, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// ParseTime reads a time of day as "15:04:05.999999" or a timestamp as
// "2006-01-02T15:04:05.999999" and returns the offset from midnight.
func ParseTime(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05.999999999", "15:04:05", "15:04", "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return SinceMidnight(t), nil
		}
	}
	return 0, fmt.Errorf("fixture: unrecognized time %q", s)
}

// MustTime is ParseTime that panics on error.
func MustTime(s string) time.Duration {
	d, err := ParseTime(s)
	if err != nil {
		panic(err)
	}
	return d
}

// SinceMidnight returns the time of day of t.
func SinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second + time.Duration(t.Nanosecond())
}

// TAQTime renders a time of day as HHMMSS followed by nine fractional
// digits, microsecond precision.
func TAQTime(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	us := int(d % time.Second / time.Microsecond)
	return fmt.Sprintf("%02d%02d%02d%06d000", h, m, s, us)
}

// FormatTime renders a time of day as HH:MM:SS.ffffff.
func FormatTime(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	us := int(d % time.Second / time.Microsecond)
	return fmt.Sprintf("%02d:%02d:%02d.%06d", h, m, s, us)
}
