package detector

import "fmt"

// Shock is the sentiment-shock proxy: ATR doubling within a single bar
// stands in for unmodeled news events. It fires regardless of which way
// the shock points; the aggregator decides what to do with it.
type Shock struct{}

func (Shock) Category() Category { return CategoryShock }
func (Shock) Expensive() bool    { return false }

func (Shock) Evaluate(in Input) (Reading, bool) {
	frame, ok := in.fastFrame()
	if !ok || frame.ATR <= 0 || frame.ATRPrev <= 0 {
		return Reading{}, false
	}
	mult := frame.ATR / frame.ATRPrev
	if mult < in.Limits.ATRShockMult {
		return Reading{}, false
	}
	return Reading{
		Category:  CategoryShock,
		Severity:  clampSeverity(mult / (in.Limits.ATRShockMult * 2)),
		Rationale: fmt.Sprintf("ATR jumped %.1fx in one bar", mult),
	}, true
}
