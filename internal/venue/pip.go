package venue

import (
	"math"
	"strings"
)

// PipSize derives the pip size for an instrument from its symbol name and
// quoting precision. Index CFDs and anything quoted to one decimal or fewer
// use whole points, JPY crosses and low-precision gold quotes use 0.01, and
// conventional FX pairs use 0.0001.
func PipSize(info SymbolInfo) float64 {
	upper := strings.ToUpper(info.Symbol)
	switch {
	case strings.Contains(upper, "CASH"), strings.Contains(upper, "JP225"), info.Digits <= 1:
		return 1.0
	case strings.Contains(upper, "JPY"):
		return 0.01
	case strings.Contains(upper, "XAU") && (info.Digits == 2 || info.Digits == 3):
		return 0.01
	case info.Digits == 4 || info.Digits == 5:
		return 0.0001
	default:
		return 10 * math.Pow10(-info.Digits)
	}
}
