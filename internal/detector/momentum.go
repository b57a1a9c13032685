package detector

import (
	"fmt"

	"dtms/internal/types"
)

// Momentum fires on trend exhaustion: ADX under its floor, an RSI
// divergence against the position, or the MACD histogram flipping sign
// against it.
type Momentum struct{}

func (Momentum) Category() Category { return CategoryMomentum }
func (Momentum) Expensive() bool    { return false }

func (Momentum) Evaluate(in Input) (Reading, bool) {
	frame, ok := in.fastFrame()
	if !ok {
		return Reading{}, false
	}
	pos := in.Position

	if frame.ADX > 0 && frame.ADX < in.Limits.ADXFloor {
		sev := clampSeverity((in.Limits.ADXFloor - frame.ADX) / in.Limits.ADXFloor)
		return Reading{
			Category:  CategoryMomentum,
			Severity:  sev,
			Rationale: fmt.Sprintf("ADX %.1f below floor %.0f", frame.ADX, in.Limits.ADXFloor),
		}, true
	}

	// RSI divergence: price pushes on in the trade's favor while the
	// oscillator rolls over.
	if frame.RSI > 0 && frame.RSIPrev > 0 {
		priceUp := frame.Close > frame.PrevClose
		rsiDown := frame.RSI < frame.RSIPrev
		if pos.Direction == types.DirectionLong && priceUp && rsiDown && frame.RSI < 50 {
			return Reading{
				Category:  CategoryMomentum,
				Severity:  0.5,
				Rationale: fmt.Sprintf("bearish RSI divergence (%.1f -> %.1f)", frame.RSIPrev, frame.RSI),
			}, true
		}
		if pos.Direction == types.DirectionShort && !priceUp && !rsiDown && frame.RSI > 50 {
			return Reading{
				Category:  CategoryMomentum,
				Severity:  0.5,
				Rationale: fmt.Sprintf("bullish RSI divergence (%.1f -> %.1f)", frame.RSIPrev, frame.RSI),
			}, true
		}
	}

	if flipAgainst(pos.Direction, frame.MACDPrev, frame.MACDHist) {
		return Reading{
			Category:  CategoryMomentum,
			Severity:  0.6,
			Rationale: fmt.Sprintf("MACD histogram flipped against %s (%.4g -> %.4g)", pos.Direction, frame.MACDPrev, frame.MACDHist),
		}, true
	}

	return Reading{}, false
}

func flipAgainst(dir types.Direction, prev, curr float64) bool {
	if prev == 0 || curr == 0 {
		return false
	}
	if dir == types.DirectionLong {
		return prev > 0 && curr < 0
	}
	return prev < 0 && curr > 0
}
