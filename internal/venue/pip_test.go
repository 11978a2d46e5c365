package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipSize(t *testing.T) {
	cases := []struct {
		name string
		info SymbolInfo
		want float64
	}{
		{"index cash", SymbolInfo{Symbol: "US30Cash", Digits: 2}, 1.0},
		{"nikkei", SymbolInfo{Symbol: "JP225Cash", Digits: 0}, 1.0},
		{"whole point quote", SymbolInfo{Symbol: "GER40", Digits: 1}, 1.0},
		{"jpy pair", SymbolInfo{Symbol: "USDJPY", Digits: 3}, 0.01},
		{"gold", SymbolInfo{Symbol: "XAUUSD", Digits: 2}, 0.01},
		{"fx five digits", SymbolInfo{Symbol: "EURUSD", Digits: 5}, 0.0001},
		{"fx four digits", SymbolInfo{Symbol: "EURUSD", Digits: 4}, 0.0001},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, PipSize(tc.info), 1e-12)
		})
	}
}
