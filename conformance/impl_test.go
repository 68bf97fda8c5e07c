// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"testing"
	"time"

	"github.com/Query-farm/tickq/tickq"
	"github.com/Query-farm/tickq/tickq/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkouts(t *testing.T) {
	mks, ok := parseMarkouts("-3t, 3t,-11s,100us,300ms,2m,1h")
	require.True(t, ok)
	assert.Equal(t, []markout{
		{ticks: true, count: -3},
		{ticks: true, count: 3},
		{offset: -11 * time.Second},
		{offset: 100 * time.Microsecond},
		{offset: 300 * time.Millisecond},
		{offset: 2 * time.Minute},
		{offset: time.Hour},
	}, mks)

	for _, bad := range []string{"", "3", "3x", "t", "1t,,2t", "1.5s"} {
		_, ok := parseMarkouts(bad)
		assert.False(t, ok, bad)
	}
}

func TestEligibleFlavor(t *testing.T) {
	lit := fixture.Trade{Volume: 100, Price: 10}
	trf := fixture.Trade{Volume: 100, Price: 10, Exchange: "D"}
	odd := fixture.Trade{Volume: 100, Price: 10, SaleCondition: "Z"}
	block := fixture.Trade{Volume: 10000, Price: 1}
	notional := fixture.Trade{Volume: 1000, Price: 250}

	tests := []struct {
		flavor int
		trade  fixture.Trade
		want   bool
	}{
		{flavorExchange, lit, true},
		{flavorExchange, trf, false},
		{flavorTRF, trf, true},
		{flavorTRF, lit, false},
		{flavorRegular, lit, true},
		{flavorRegular, trf, true},
		{flavorRegular, odd, false},
		{flavorBlock, block, true},
		{flavorBlock, notional, true},
		{flavorBlock, lit, false},
		{flavorAll, odd, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, eligibleFlavor(tt.flavor, tt.trade), "flavor %d %+v", tt.flavor, tt.trade)
	}
}

func TestMarkoutExpansion(t *testing.T) {
	var m markoutState
	_, errType := m.check(map[string]string{"Markouts": "1t,2t"})
	require.Empty(t, errType)
	_, errType = m.check(map[string]string{"Markouts": "1t"})
	assert.NotEmpty(t, errType)

	base, err := tickq.DefaultCatalog().ResultSpec("VWAP")
	require.NoError(t, err)
	fields := m.expand(base)
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"TradeCnt_1", "TradeVolume_1", "VWAP_1", "TradeCnt_2", "TradeVolume_2", "VWAP_2"}, names)
}
