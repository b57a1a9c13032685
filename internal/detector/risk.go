package detector

import "fmt"

// Risk fires on hard limits: unrealized loss beyond the per-trade R
// floor, or the aggregate daily loss past the equity ceiling.
type Risk struct{}

func (Risk) Category() Category { return CategoryRisk }
func (Risk) Expensive() bool    { return false }

func (Risk) Evaluate(in Input) (Reading, bool) {
	pos := in.Position

	if r := pos.UnrealizedR(); r != 0 && r <= in.Limits.RiskFloorR {
		sev := clampSeverity(r / (in.Limits.RiskFloorR * 2))
		return Reading{
			Category:  CategoryRisk,
			Severity:  sev,
			Rationale: fmt.Sprintf("unrealized %.2fR beyond floor %.2fR", r, in.Limits.RiskFloorR),
		}, true
	}

	if lossPct := in.Account.DailyLossPct(); lossPct >= in.Limits.DailyLossPct && in.Limits.DailyLossPct > 0 {
		return Reading{
			Category:  CategoryRisk,
			Severity:  clampSeverity(lossPct / in.Limits.DailyLossPct * 0.5),
			Rationale: fmt.Sprintf("daily loss %.1f%% past ceiling %.1f%%", lossPct*100, in.Limits.DailyLossPct*100),
		}, true
	}

	return Reading{}, false
}
