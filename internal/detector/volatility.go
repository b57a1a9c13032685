package detector

import (
	"fmt"

	"dtms/internal/types"
)

// Volatility fires when the latest bar's range blows past the average
// true range while moving against the position.
type Volatility struct{}

func (Volatility) Category() Category { return CategoryVolatility }
func (Volatility) Expensive() bool    { return false }

func (Volatility) Evaluate(in Input) (Reading, bool) {
	frame, ok := in.fastFrame()
	if !ok || frame.ATR <= 0 || frame.LastBarRange <= 0 {
		return Reading{}, false
	}
	mult := frame.LastBarRange / frame.ATR
	if mult < in.Limits.ATRSpikeMult {
		return Reading{}, false
	}

	barDown := frame.Close < frame.PrevClose
	against := (in.Position.Direction == types.DirectionLong && barDown) ||
		(in.Position.Direction == types.DirectionShort && !barDown)
	if !against {
		return Reading{}, false
	}

	return Reading{
		Category:  CategoryVolatility,
		Severity:  clampSeverity(mult / (in.Limits.ATRSpikeMult * 2)),
		Rationale: fmt.Sprintf("bar range %.1fx ATR against %s", mult, in.Position.Direction),
	}, true
}
