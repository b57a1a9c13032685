package detector

import (
	"fmt"

	"dtms/internal/types"
)

// Structure fires when price violates market structure against the
// position: a close across the slow moving average, or a break of the
// most recent swing level.
type Structure struct{}

func (Structure) Category() Category { return CategoryStructure }
func (Structure) Expensive() bool    { return true }

func (Structure) Evaluate(in Input) (Reading, bool) {
	frame, ok := in.structureFrame()
	if !ok || frame.Close <= 0 {
		return Reading{}, false
	}
	pos := in.Position

	if frame.EMASlow > 0 {
		crossedDown := pos.Direction == types.DirectionLong && frame.Close < frame.EMASlow && frame.PrevClose >= frame.EMASlow
		crossedUp := pos.Direction == types.DirectionShort && frame.Close > frame.EMASlow && frame.PrevClose <= frame.EMASlow
		if crossedDown || crossedUp {
			sev := 0.6
			if frame.ATR > 0 {
				sev = clampSeverity(0.4 + abs(frame.Close-frame.EMASlow)/frame.ATR*0.3)
			}
			return Reading{
				Category:  CategoryStructure,
				Severity:  sev,
				Rationale: fmt.Sprintf("close %.5g crossed EMA%s against %s", frame.Close, frame.Interval, pos.Direction),
			}, true
		}
	}

	if pos.Direction == types.DirectionLong && frame.SwingLow > 0 && frame.Close < frame.SwingLow {
		return Reading{
			Category:  CategoryStructure,
			Severity:  0.8,
			Rationale: fmt.Sprintf("swing low %.5g broken at %.5g", frame.SwingLow, frame.Close),
		}, true
	}
	if pos.Direction == types.DirectionShort && frame.SwingHigh > 0 && frame.Close > frame.SwingHigh {
		return Reading{
			Category:  CategoryStructure,
			Severity:  0.8,
			Rationale: fmt.Sprintf("swing high %.5g broken at %.5g", frame.SwingHigh, frame.Close),
		}, true
	}

	return Reading{}, false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
