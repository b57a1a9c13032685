package policy

import (
	"time"

	"dtms/internal/types"
)

// Thresholds carries every empirically tuned knob of the management
// pipeline. None of these are derived from a formal model; they are
// configuration and can be reloaded at runtime.
type Thresholds struct {
	// Detector thresholds.
	ADXFloor           float64 `yaml:"adx_floor" json:"adx_floor"`
	ATRSpikeMult       float64 `yaml:"atr_spike_mult" json:"atr_spike_mult"`
	ATRShockMult       float64 `yaml:"atr_shock_mult" json:"atr_shock_mult"`
	ConfluenceReversal float64 `yaml:"confluence_reversal" json:"confluence_reversal"`
	RiskFloorR         float64 `yaml:"risk_floor_r" json:"risk_floor_r"`
	DailyLossPct       float64 `yaml:"daily_loss_pct" json:"daily_loss_pct"`

	// Timeframes the detectors read from the snapshot.
	FastInterval      string `yaml:"fast_interval" json:"fast_interval"`
	StructureInterval string `yaml:"structure_interval" json:"structure_interval"`

	// Per-trade-class time-in-trade ceilings.
	TimeCeilings map[types.TradeClass]time.Duration `yaml:"-" json:"-"`

	// State machine tuning.
	DebounceCycles int           `yaml:"debounce_cycles" json:"debounce_cycles"`
	RecoveryWindow time.Duration `yaml:"-" json:"-"`
	ActionCooldown time.Duration `yaml:"-" json:"-"`
}

// Defaults returns the tuned defaults used when the policy file omits a
// value. They match the shipped policy.yaml.
func Defaults() Thresholds {
	return Thresholds{
		ADXFloor:           20,
		ATRSpikeMult:       2.0,
		ATRShockMult:       2.0,
		ConfluenceReversal: 0.67,
		RiskFloorR:         -1.5,
		DailyLossPct:       0.05,
		FastInterval:       "5m",
		StructureInterval:  "1h",
		TimeCeilings: map[types.TradeClass]time.Duration{
			types.TradeClassScalp:    2 * time.Hour,
			types.TradeClassIntraday: 8 * time.Hour,
			types.TradeClassSwing:    72 * time.Hour,
		},
		DebounceCycles: 2,
		RecoveryWindow: 15 * time.Minute,
		ActionCooldown: 3 * time.Minute,
	}
}

// TimeCeiling returns the holding ceiling for a trade class, falling
// back to the intraday ceiling for unknown classes.
func (t Thresholds) TimeCeiling(class types.TradeClass) time.Duration {
	if d, ok := t.TimeCeilings[class]; ok && d > 0 {
		return d
	}
	if d, ok := t.TimeCeilings[types.TradeClassIntraday]; ok && d > 0 {
		return d
	}
	return 8 * time.Hour
}
