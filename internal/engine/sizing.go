package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecopy/internal/venue"
)

// sizeOrder computes the lot volume for one order so that the monetary loss
// at the stop equals riskPercent of the account balance, and so the volume
// divides evenly across the signal's take-profit levels.
//
// The per-target share is floored at the instrument minimum and rounded UP
// to the volume step; undershooting the step would silently shrink later
// partial closes below the venue minimum.
func sizeOrder(balance, riskPercent float64, info venue.SymbolInfo, entry, stopLoss float64, targets int) (float64, error) {
	if targets <= 0 {
		targets = 1
	}
	if info.TickSize <= 0 || info.TickValue <= 0 {
		return 0, fmt.Errorf("sizing: %s reports tick_size=%g tick_value=%g, cannot size", info.Symbol, info.TickSize, info.TickValue)
	}
	stopDistance := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stopLoss)).Abs()
	if stopDistance.IsZero() {
		return 0, fmt.Errorf("sizing: entry equals stop loss for %s", info.Symbol)
	}

	riskMoney := decimal.NewFromFloat(balance).
		Mul(decimal.NewFromFloat(riskPercent)).
		Div(decimal.NewFromInt(100))
	perLotRisk := stopDistance.
		Div(decimal.NewFromFloat(info.TickSize)).
		Mul(decimal.NewFromFloat(info.TickValue))
	raw := riskMoney.Div(perLotRisk)

	perTarget := raw.Div(decimal.NewFromInt(int64(targets)))
	minVol := decimal.NewFromFloat(info.VolumeMin)
	if perTarget.LessThan(minVol) {
		perTarget = minVol
	}
	if info.VolumeStep > 0 {
		step := decimal.NewFromFloat(info.VolumeStep)
		perTarget = perTarget.Div(step).Ceil().Mul(step)
	}

	total := perTarget.Mul(decimal.NewFromInt(int64(targets)))
	if info.VolumeMax > 0 {
		maxVol := decimal.NewFromFloat(info.VolumeMax)
		if total.GreaterThan(maxVol) {
			total = maxVol
		}
	}
	f, _ := total.Float64()
	return f, nil
}
