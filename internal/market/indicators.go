package market

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

// IndicatorSettings carries the tunable periods for frame computation.
// Zero values fall back to the conventional defaults.
type IndicatorSettings struct {
	ADXPeriod   int
	RSIPeriod   int
	ATRPeriod   int
	BBPeriod    int
	EMAFast     int
	EMASlow     int
	SwingWindow int
	VolumeAvg   int
}

func (s IndicatorSettings) withDefaults() IndicatorSettings {
	if s.ADXPeriod <= 0 {
		s.ADXPeriod = 14
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.BBPeriod <= 0 {
		s.BBPeriod = 20
	}
	if s.EMAFast <= 0 {
		s.EMAFast = 21
	}
	if s.EMASlow <= 0 {
		s.EMASlow = 50
	}
	if s.SwingWindow <= 0 {
		s.SwingWindow = 10
	}
	if s.VolumeAvg <= 0 {
		s.VolumeAvg = 20
	}
	return s
}

// minCandles is the floor below which ComputeFrame refuses to work:
// the slow EMA and ADX both need a warmup run.
const minCandles = 60

// ComputeFrame derives the indicator bundle for one timeframe from closed
// candles. The caller is responsible for dropping any in-progress candle.
func ComputeFrame(candles []Candle, interval string, cfg IndicatorSettings) (Frame, error) {
	cfg = cfg.withDefaults()
	if len(candles) < minCandles {
		return Frame{}, fmt.Errorf("interval %s: need at least %d candles, got %d", interval, minCandles, len(candles))
	}

	n := len(candles)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	frame := Frame{
		Interval:     interval,
		Close:        closes[n-1],
		PrevClose:    closes[n-2],
		PrevHigh:     highs[n-2],
		PrevLow:      lows[n-2],
		LastBarRange: highs[n-1] - lows[n-1],
		Volume:       volumes[n-1],
	}

	adx := talib.Adx(highs, lows, closes, cfg.ADXPeriod)
	frame.ADX = lastValid(adx)

	rsi := talib.Rsi(closes, cfg.RSIPeriod)
	frame.RSI = lastValid(rsi)
	frame.RSIPrev = lastValidAt(rsi, 1)

	_, signal, hist := talib.Macd(closes, 12, 26, 9)
	frame.MACDHist = lastValid(hist)
	frame.MACDPrev = lastValidAt(hist, 1)
	frame.MACDSignal = lastValid(signal)

	atr := talib.Atr(highs, lows, closes, cfg.ATRPeriod)
	frame.ATR = lastValid(atr)
	frame.ATRPrev = lastValidAt(atr, 1)

	upper, middle, lower := talib.BBands(closes, cfg.BBPeriod, 2, 2, talib.SMA)
	if mid := lastValid(middle); mid != 0 {
		frame.BBWidth = (lastValid(upper) - lastValid(lower)) / mid
	}

	frame.EMAFast = lastValid(talib.Ema(closes, cfg.EMAFast))
	frame.EMASlow = lastValid(talib.Ema(closes, cfg.EMASlow))

	// Swing levels exclude the current bar so a break is measured
	// against prior structure, not against itself.
	window := cfg.SwingWindow
	if window > n-1 {
		window = n - 1
	}
	frame.SwingHigh = sliceMax(highs[n-1-window : n-1])
	frame.SwingLow = sliceMin(lows[n-1-window : n-1])

	if avg := tailMean(volumes[:n-1], cfg.VolumeAvg); avg > 0 {
		frame.VolumeRatio = frame.Volume / avg
	}

	return frame, nil
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

// lastValidAt returns the value `back` positions before the last valid one.
func lastValidAt(series []float64, back int) float64 {
	seen := 0
	for i := len(series) - 1; i >= 0; i-- {
		if math.IsNaN(series[i]) || math.IsInf(series[i], 0) {
			continue
		}
		if seen == back {
			return series[i]
		}
		seen++
	}
	return 0
}

func sliceMax(vals []float64) float64 {
	out := 0.0
	for _, v := range vals {
		if v > out {
			out = v
		}
	}
	return out
}

func sliceMin(vals []float64) float64 {
	out := 0.0
	for i, v := range vals {
		if i == 0 || v < out {
			out = v
		}
	}
	return out
}

func tailMean(vals []float64, window int) float64 {
	if window <= 0 || len(vals) == 0 {
		return 0
	}
	if window > len(vals) {
		window = len(vals)
	}
	sum := 0.0
	for _, v := range vals[len(vals)-window:] {
		sum += v
	}
	return sum / float64(window)
}
