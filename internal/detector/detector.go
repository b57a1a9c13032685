package detector

import (
	"time"

	"dtms/internal/market"
	"dtms/internal/policy"
	"dtms/internal/types"
)

// Category identifies one risk-signal family. Each category contributes
// at most one strike per cycle regardless of severity.
type Category string

const (
	CategoryStructure  Category = "structure"
	CategoryMomentum   Category = "momentum"
	CategoryVolatility Category = "volatility"
	CategoryConfluence Category = "confluence"
	CategoryTime       Category = "time"
	CategoryRisk       Category = "risk"
	CategoryShock      Category = "shock"
)

// Categories lists every detector category in evaluation order.
var Categories = []Category{
	CategoryStructure,
	CategoryMomentum,
	CategoryVolatility,
	CategoryConfluence,
	CategoryTime,
	CategoryRisk,
	CategoryShock,
}

// Reading is one detector's verdict for one position in one cycle.
// Severity only colors the rationale text downstream; it never affects
// strike counting.
type Reading struct {
	Category  Category `json:"category"`
	Severity  float64  `json:"severity"`
	Rationale string   `json:"rationale"`
}

// Input bundles everything a detector may look at. Detectors must not
// retain or mutate any of it.
type Input struct {
	Position *types.Position
	Snapshot *market.Snapshot
	Account  types.Account
	Limits   policy.Thresholds
	Now      time.Time
}

// fastFrame returns the cheap-cadence indicator frame.
func (in Input) fastFrame() (market.Frame, bool) {
	return in.Snapshot.Frame(in.Limits.FastInterval)
}

// structureFrame returns the higher-timeframe frame used for
// market-structure checks.
func (in Input) structureFrame() (market.Frame, bool) {
	return in.Snapshot.Frame(in.Limits.StructureInterval)
}

// Detector evaluates one signal category. Implementations are stateless:
// the same input always yields the same reading. A detector that cannot
// compute (missing frame, zero indicator) returns ok=false, never an
// error, so one starved category cannot block the rest of the bank.
type Detector interface {
	Category() Category

	// Expensive marks detectors that need heavier multi-timeframe
	// work; the monitor only runs them on the slow cadence.
	Expensive() bool

	Evaluate(in Input) (Reading, bool)
}

func clampSeverity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
