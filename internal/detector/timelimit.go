package detector

import (
	"fmt"
	"time"
)

// TimeLimit fires when a position has been held past its trade-class
// ceiling without getting into profit. Winners are left alone.
type TimeLimit struct{}

func (TimeLimit) Category() Category { return CategoryTime }
func (TimeLimit) Expensive() bool    { return false }

func (TimeLimit) Evaluate(in Input) (Reading, bool) {
	pos := in.Position
	if pos.OpenedAt.IsZero() {
		return Reading{}, false
	}
	if pos.UnrealizedR() > 0 {
		return Reading{}, false
	}
	age := pos.Age(in.Now)
	ceiling := in.Limits.TimeCeiling(pos.TradeClass)
	if age <= ceiling {
		return Reading{}, false
	}
	over := float64(age-ceiling) / float64(ceiling)
	return Reading{
		Category:  CategoryTime,
		Severity:  clampSeverity(0.4 + over*0.3),
		Rationale: fmt.Sprintf("%s trade held %s, ceiling %s, R %.2f", pos.TradeClass, age.Round(time.Minute), ceiling, pos.UnrealizedR()),
	}, true
}
