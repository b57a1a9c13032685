package detector

import (
	"fmt"

	"dtms/internal/market"
)

// Known entry factor names the resolver understands. Factors outside
// this set are skipped rather than guessed at.
const (
	FactorEMATrend = "ema_trend"
	FactorMACD     = "macd"
	FactorRSI      = "rsi"
	FactorADX      = "adx"
	FactorVolume   = "volume"
)

// Confluence fires when the bulk of the indicator conditions that
// justified the entry have since reversed.
type Confluence struct{}

func (Confluence) Category() Category { return CategoryConfluence }
func (Confluence) Expensive() bool    { return true }

func (Confluence) Evaluate(in Input) (Reading, bool) {
	if len(in.Position.EntryFactors) == 0 {
		return Reading{}, false
	}
	frame, ok := in.structureFrame()
	if !ok {
		return Reading{}, false
	}

	checked := 0
	reversed := 0
	for _, factor := range in.Position.EntryFactors {
		bullishNow, resolvable := resolveFactor(factor.Name, frame)
		if !resolvable {
			continue
		}
		checked++
		if bullishNow != factor.Bullish {
			reversed++
		}
	}
	if checked == 0 {
		return Reading{}, false
	}

	fraction := float64(reversed) / float64(checked)
	if fraction < in.Limits.ConfluenceReversal {
		return Reading{}, false
	}
	return Reading{
		Category:  CategoryConfluence,
		Severity:  clampSeverity(fraction),
		Rationale: fmt.Sprintf("%d of %d entry factors reversed", reversed, checked),
	}, true
}

// resolveFactor reports the current bullish/bearish reading of a named
// entry factor. ADX measures strength, not direction, so its "bullish"
// flag means "trend strong enough", independent of side.
func resolveFactor(name string, frame market.Frame) (bullish bool, ok bool) {
	switch name {
	case FactorEMATrend:
		if frame.EMAFast <= 0 || frame.EMASlow <= 0 {
			return false, false
		}
		return frame.EMAFast > frame.EMASlow, true
	case FactorMACD:
		if frame.MACDHist == 0 {
			return false, false
		}
		return frame.MACDHist > 0, true
	case FactorRSI:
		if frame.RSI <= 0 {
			return false, false
		}
		return frame.RSI > 50, true
	case FactorADX:
		if frame.ADX <= 0 {
			return false, false
		}
		return frame.ADX >= 20, true
	case FactorVolume:
		if frame.VolumeRatio <= 0 {
			return false, false
		}
		return frame.VolumeRatio >= 1, true
	default:
		return false, false
	}
}
