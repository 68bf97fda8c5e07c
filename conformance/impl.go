// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Query-farm/tickq/tickq"
	"github.com/Query-farm/tickq/tickq/fixture"
)

// ErrorUnsupportedFunction is reported for records of functions this
// service cannot evaluate.
const ErrorUnsupportedFunction = "UnsupportedFunction"

// evaluator computes one alias's records in ID order.
type evaluator interface {
	// eval returns the field values of a record, or the error type it
	// failed with.
	eval(args map[string]string) ([]string, string)
	// fields returns the result layout once every record was evaluated.
	fields() []tickq.ResultField
}

func newEvaluator(fn *tickq.FunctionDescriptor, tape *Tape) evaluator {
	switch fn.Name {
	case "Quote", "NBBO", "NBBOPrice":
		return &quoteEvaluator{fn: fn, tape: tape}
	case "VWAP":
		return &vwapEvaluator{fn: fn, tape: tape}
	default:
		return unsupportedEvaluator{fn: fn}
	}
}

type unsupportedEvaluator struct{ fn *tickq.FunctionDescriptor }

func (unsupportedEvaluator) eval(map[string]string) ([]string, string) {
	return nil, ErrorUnsupportedFunction
}

func (u unsupportedEvaluator) fields() []tickq.ResultField { return u.fn.Results }

// markout is one markout offset: a number of prints or quotes when ticks is
// set, a time offset otherwise.
type markout struct {
	ticks  bool
	count  int
	offset time.Duration
}

var markoutUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"us", time.Microsecond},
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"t", 0},
}

// parseMarkouts reads a comma-separated list such as "-3t,3t,-11s,100us".
func parseMarkouts(s string) ([]markout, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var out []markout
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		parsed := false
		for _, u := range markoutUnits {
			num, ok := strings.CutSuffix(tok, u.suffix)
			if !ok {
				continue
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				break
			}
			if u.unit == 0 {
				out = append(out, markout{ticks: true, count: n})
			} else {
				out = append(out, markout{offset: time.Duration(n) * u.unit})
			}
			parsed = true
			break
		}
		if !parsed {
			return nil, false
		}
	}
	return out, true
}

// markoutState enforces one markout count per alias, fixed by the first
// record that carries a valid list.
type markoutState struct {
	count int // 0 until fixed
}

func (m *markoutState) check(args map[string]string) ([]markout, string) {
	raw, ok := args["Markouts"]
	if !ok {
		return nil, ""
	}
	mks, valid := parseMarkouts(raw)
	if !valid {
		return nil, tickq.ErrorInvalidArgument
	}
	if m.count == 0 {
		m.count = len(mks)
	} else if len(mks) != m.count {
		return nil, tickq.ErrorInvalidArgument
	}
	return mks, ""
}

func (m *markoutState) expand(base []tickq.ResultField) []tickq.ResultField {
	if m.count == 0 {
		return base
	}
	var out []tickq.ResultField
	for i := 1; i <= m.count; i++ {
		for _, f := range base {
			f.Name = fmt.Sprintf("%s_%d", f.Name, i)
			out = append(out, f)
		}
	}
	return out
}

// splitTimestamp reads a request timestamp into its date (possibly empty)
// and time of day.
func splitTimestamp(s string) (string, time.Duration, bool) {
	tod, err := fixture.ParseTime(s)
	if err != nil {
		return "", 0, false
	}
	date := ""
	if len(s) >= 10 && s[4] == '-' {
		date = s[:10]
	}
	return date, tod, true
}

type quoteEvaluator struct {
	fn       *tickq.FunctionDescriptor
	tape     *Tape
	markouts markoutState
}

func (e *quoteEvaluator) eval(args map[string]string) ([]string, string) {
	sym := strings.TrimSpace(args["Symbol"])
	qs, ok := e.tape.quotes[sym]
	if !ok {
		return nil, tickq.ErrorMissingSymbol
	}
	raw, ok := args["Timestamp"]
	if !ok {
		return nil, tickq.ErrorMissingArgument
	}
	date, tod, ok := splitTimestamp(raw)
	if !ok {
		return nil, tickq.ErrorInvalidTimestamp
	}
	idx := e.tape.quoteAsOf(sym, tod)
	if idx < 0 {
		return nil, tickq.ErrorDataNotFound
	}
	mks, errType := e.markouts.check(args)
	if errType != "" {
		return nil, errType
	}
	if mks == nil {
		return e.values(qs[idx], date), ""
	}
	var out []string
	for _, m := range mks {
		j := idx + m.count
		if !m.ticks {
			j = e.tape.quoteAsOf(sym, tod+m.offset)
		}
		if j < 0 || j >= len(qs) {
			return nil, tickq.ErrorDataNotFound
		}
		out = append(out, e.values(qs[j], date)...)
	}
	return out, ""
}

func (e *quoteEvaluator) values(q fixture.Quote, date string) []string {
	out := make([]string, 0, len(e.fn.Results))
	for _, f := range e.fn.Results {
		switch f.Name {
		case "Timestamp", "Time":
			ts := fixture.FormatTime(q.Time)
			if date != "" {
				ts = date + "T" + ts
			}
			out = append(out, ts)
		case "BestBidPx", "BidPx":
			out = append(out, strconv.FormatFloat(q.Bid, 'f', -1, 64))
		case "BestBidQty", "BidQty":
			out = append(out, strconv.FormatInt(q.BidSize, 10))
		case "BestOfferPx", "OfferPx":
			out = append(out, strconv.FormatFloat(q.Offer, 'f', -1, 64))
		case "BestOfferQty", "OfferQty":
			out = append(out, strconv.FormatInt(q.OfferSize, 10))
		default:
			out = append(out, "")
		}
	}
	return out
}

func (e *quoteEvaluator) fields() []tickq.ResultField { return e.markouts.expand(e.fn.Results) }

// Trade flavors.
const (
	flavorExchange = 1
	flavorTRF      = 2
	flavorRegular  = 3
	flavorBlock    = 4
	flavorAll      = 5
)

const (
	blockVolume   = 10000
	blockNotional = 200000
	endOfDay      = 16 * time.Hour
)

func eligibleFlavor(flavor int, t fixture.Trade) bool {
	switch flavor {
	case flavorAll:
		return true
	case flavorBlock:
		return t.Volume >= blockVolume || float64(t.Volume)*t.Price >= blockNotional
	}
	if strings.TrimSpace(t.SaleCondition) == "Z" {
		return false
	}
	switch flavor {
	case flavorExchange:
		return t.Exchange != "D"
	case flavorTRF:
		return t.Exchange == "D"
	default:
		return true
	}
}

// vwapQuery is a validated VWAP record.
type vwapQuery struct {
	start, end time.Duration
	flavor     int
	buy, sell  bool
	limit      float64
	targetVol  int64
	targetPOV  float64
	ticks      int
	markouts   []markout
}

func (q *vwapQuery) eligible(t fixture.Trade) bool {
	if !eligibleFlavor(q.flavor, t) {
		return false
	}
	if q.limit > 0 {
		if q.buy && t.Price > q.limit {
			return false
		}
		if q.sell && t.Price < q.limit {
			return false
		}
	}
	return true
}

type vwapStats struct {
	count    int64
	volume   int64
	notional float64
}

func (s *vwapStats) add(t fixture.Trade) {
	s.count++
	s.volume += t.Volume
	s.notional += float64(t.Volume) * t.Price
}

func (s vwapStats) values() []string {
	vwap := 0.0
	if s.volume > 0 {
		vwap = s.notional / float64(s.volume)
	}
	return []string{
		strconv.FormatInt(s.count, 10),
		strconv.FormatInt(s.volume, 10),
		strconv.FormatFloat(vwap, 'f', 6, 64),
	}
}

type vwapEvaluator struct {
	fn       *tickq.FunctionDescriptor
	tape     *Tape
	markouts markoutState
}

func (e *vwapEvaluator) parse(args map[string]string) (*vwapQuery, string) {
	q := &vwapQuery{end: endOfDay, flavor: flavorRegular}

	date := strings.TrimSpace(args["Date"])
	if _, err := time.Parse("20060102", date); err != nil {
		return nil, tickq.ErrorInvalidDate
	}
	var err error
	if q.start, err = fixture.ParseTime(args["StartTime"]); err != nil {
		return nil, tickq.ErrorInvalidTimestamp
	}
	if raw, ok := args["EndTime"]; ok {
		if q.end, err = fixture.ParseTime(raw); err != nil {
			return nil, tickq.ErrorInvalidTimestamp
		}
		if q.end < q.start {
			return nil, tickq.ErrorInvalidArgument
		}
	}
	if raw, ok := args["Side"]; ok {
		switch strings.ToUpper(strings.TrimSpace(raw)) {
		case "B", "BUY":
			q.buy = true
		case "S", "SELL", "SS", "SX":
			q.sell = true
		default:
			return nil, tickq.ErrorInvalidSide
		}
	}
	if raw, ok := args["LimitPx"]; ok {
		if q.limit, err = strconv.ParseFloat(raw, 64); err != nil || q.limit <= 0 {
			return nil, tickq.ErrorInvalidPrice
		}
		if !q.buy && !q.sell {
			return nil, tickq.ErrorMissingArgument
		}
	}
	if raw, ok := args["Flavor"]; ok {
		if q.flavor, err = strconv.Atoi(strings.TrimSpace(raw)); err != nil || q.flavor < flavorExchange || q.flavor > flavorAll {
			return nil, tickq.ErrorInvalidArgument
		}
	}
	rawVol, hasVol := args["TargetVolume"]
	rawPOV, hasPOV := args["TargetPOV"]
	if hasVol != hasPOV {
		return nil, tickq.ErrorMissingArgument
	}
	if hasVol {
		if q.targetVol, err = strconv.ParseInt(rawVol, 10, 64); err != nil || q.targetVol <= 0 {
			return nil, tickq.ErrorInvalidQuantity
		}
		if q.targetPOV, err = strconv.ParseFloat(rawPOV, 64); err != nil || q.targetPOV <= 0 || q.targetPOV > 1 {
			return nil, tickq.ErrorInvalidArgument
		}
	}
	if raw, ok := args["Ticks"]; ok {
		if q.ticks, err = strconv.Atoi(raw); err != nil || q.ticks <= 0 {
			return nil, tickq.ErrorInvalidArgument
		}
	}
	if _, ok := args["Markouts"]; ok {
		if _, hasEnd := args["EndTime"]; hasEnd {
			return nil, tickq.ErrorInvalidArgument
		}
		mks, errType := e.markouts.check(args)
		if errType != "" {
			return nil, errType
		}
		q.markouts = mks
	}
	return q, ""
}

func (e *vwapEvaluator) eval(args map[string]string) ([]string, string) {
	trades, ok := e.tape.trades[strings.TrimSpace(args["Symbol"])]
	if !ok {
		return nil, tickq.ErrorMissingSymbol
	}
	q, errType := e.parse(args)
	if errType != "" {
		return nil, errType
	}
	if q.markouts == nil {
		return e.window(trades, q).values(), ""
	}
	var out []string
	for _, m := range q.markouts {
		out = append(out, e.markout(trades, q, m).values()...)
	}
	return out, ""
}

// window aggregates [start, end], stopping early once Ticks prints were
// taken or the participation target was met.
func (e *vwapEvaluator) window(trades []fixture.Trade, q *vwapQuery) vwapStats {
	var s vwapStats
	for _, t := range trades {
		if t.Time < q.start || !q.eligible(t) {
			continue
		}
		if t.Time > q.end {
			break
		}
		s.add(t)
		if q.ticks > 0 && s.count >= int64(q.ticks) {
			break
		}
		if q.targetVol > 0 && float64(s.volume)*q.targetPOV >= float64(q.targetVol) {
			break
		}
	}
	return s
}

// markout aggregates the prints between the start time and a markout:
// |n| prints before or after it for tick markouts, the prints within the
// offset for time markouts.
func (e *vwapEvaluator) markout(trades []fixture.Trade, q *vwapQuery, m markout) vwapStats {
	var s vwapStats
	switch {
	case m.ticks && m.count > 0:
		for _, t := range trades {
			if t.Time >= q.start && q.eligible(t) && s.count < int64(m.count) {
				s.add(t)
			}
		}
	case m.ticks && m.count < 0:
		for i := len(trades) - 1; i >= 0 && s.count < int64(-m.count); i-- {
			if t := trades[i]; t.Time < q.start && q.eligible(t) {
				s.add(t)
			}
		}
	case !m.ticks && m.offset > 0:
		for _, t := range trades {
			if t.Time >= q.start && t.Time <= q.start+m.offset && q.eligible(t) {
				s.add(t)
			}
		}
	case !m.ticks && m.offset < 0:
		for _, t := range trades {
			if t.Time >= q.start+m.offset && t.Time < q.start && q.eligible(t) {
				s.add(t)
			}
		}
	}
	return s
}

func (e *vwapEvaluator) fields() []tickq.ResultField { return e.markouts.expand(e.fn.Results) }
