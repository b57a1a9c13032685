package dtms

import (
	"math"

	"github.com/shopspring/decimal"

	"dtms/internal/types"
)

var (
	decEps  = decimal.NewFromFloat(1e-8)
	decZero = decimal.Zero
	decHalf = decimal.NewFromFloat(0.5)

	lotStep = decimal.NewFromFloat(0.01)
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// tightenedStop proposes a stop halfway between the current stop and the
// current price, on the losing side of price. Returns 0 when no stop
// exists yet or the candidate would not actually tighten.
func tightenedStop(pos *types.Position) float64 {
	if pos.StopLoss <= 0 || pos.CurrentPrice <= 0 {
		return 0
	}
	price := decFromFloat(pos.CurrentPrice)
	stop := decFromFloat(pos.StopLoss)
	candidate := stop.Add(price.Sub(stop).Mul(decHalf))
	if !stopTightens(pos.Direction, decToFloat(candidate), pos.StopLoss) {
		return 0
	}
	return decToFloat(candidate)
}

// stopTightens reports whether candidate moves the stop closer to price
// than current, in the protective direction for the position.
func stopTightens(dir types.Direction, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if dir == types.DirectionShort {
		return cand.Cmp(curr.Sub(decEps)) < 0
	}
	return cand.Cmp(curr.Add(decEps)) > 0
}

// halfVolume returns half the position volume rounded down to the lot
// step, never below one step.
func halfVolume(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	half := decFromFloat(volume).Mul(decHalf)
	steps := half.Div(lotStep).Floor()
	if steps.Cmp(decimal.NewFromInt(1)) < 0 {
		steps = decimal.NewFromInt(1)
	}
	out := steps.Mul(lotStep)
	if out.Cmp(decFromFloat(volume)) >= 0 {
		return volume
	}
	return decToFloat(out)
}
