package market

import "time"

// Frame holds the indicator bundle for one symbol and timeframe.
// All values refer to closed candles only.
type Frame struct {
	Interval string `json:"interval"`

	Close        float64 `json:"close"`
	LastBarRange float64 `json:"last_bar_range"`

	ADX        float64 `json:"adx"`
	RSI        float64 `json:"rsi"`
	RSIPrev    float64 `json:"rsi_prev"`
	MACDHist   float64 `json:"macd_hist"`
	MACDPrev   float64 `json:"macd_hist_prev"`
	MACDSignal float64 `json:"macd_signal"`
	ATR        float64 `json:"atr"`
	ATRPrev    float64 `json:"atr_prev"`
	BBWidth    float64 `json:"bb_width"`
	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`

	SwingHigh float64 `json:"swing_high"`
	SwingLow  float64 `json:"swing_low"`

	Volume      float64 `json:"volume"`
	VolumeRatio float64 `json:"volume_ratio"`

	PrevClose float64 `json:"prev_close"`
	PrevHigh  float64 `json:"prev_high"`
	PrevLow   float64 `json:"prev_low"`
}

// Snapshot is the per-symbol market bundle consumed by the detector bank.
// It is immutable once built; one snapshot serves one evaluation cycle.
type Snapshot struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`

	Frames map[string]Frame `json:"frames"`

	TakenAt time.Time `json:"taken_at"`
}

// Frame returns the indicator bundle for an interval if present.
func (s *Snapshot) Frame(interval string) (Frame, bool) {
	if s == nil || len(s.Frames) == 0 {
		return Frame{}, false
	}
	f, ok := s.Frames[interval]
	return f, ok
}

// Age reports how old the snapshot is.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil || s.TakenAt.IsZero() {
		return 0
	}
	return now.Sub(s.TakenAt)
}

// Stale reports whether the snapshot exceeds the freshness threshold.
// Stale snapshots must cause the monitor loop to skip the position
// rather than act on dead data.
func (s *Snapshot) Stale(maxAge time.Duration, now time.Time) bool {
	if s == nil {
		return true
	}
	if maxAge <= 0 {
		return false
	}
	return s.Age(now) > maxAge
}
