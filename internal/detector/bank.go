package detector

import (
	"time"

	"dtms/internal/logger"
)

// Bank runs the full detector battery for one position. Detector
// failures are contained here: a panicking or starved detector simply
// contributes no signal.
type Bank struct {
	detectors []Detector
	budget    time.Duration
}

// DefaultBudget bounds one full battery run per position per cycle.
const DefaultBudget = 250 * time.Millisecond

// NewBank builds the standard seven-detector battery.
func NewBank(budget time.Duration) *Bank {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Bank{
		detectors: []Detector{
			Structure{},
			Momentum{},
			Volatility{},
			Confluence{},
			TimeLimit{},
			Risk{},
			Shock{},
		},
		budget: budget,
	}
}

// Evaluate runs the battery and returns the active readings.
// includeExpensive=false restricts the run to cheap detectors for the
// fast cadence. Once the budget is exhausted the remaining detectors
// are skipped for this cycle.
func (b *Bank) Evaluate(in Input, includeExpensive bool) []Reading {
	if in.Position == nil || in.Snapshot == nil {
		return nil
	}
	start := time.Now()
	var out []Reading
	for _, det := range b.detectors {
		if !includeExpensive && det.Expensive() {
			continue
		}
		if time.Since(start) > b.budget {
			logger.Warnf("detector budget exhausted after %s, skipping %s onward for ticket %d",
				b.budget, det.Category(), in.Position.Ticket)
			break
		}
		if reading, ok := b.evalOne(det, in); ok {
			out = append(out, reading)
		}
	}
	return out
}

func (b *Bank) evalOne(det Detector, in Input) (reading Reading, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("detector %s panicked for ticket %d: %v", det.Category(), in.Position.Ticket, r)
			ok = false
		}
	}()
	return det.Evaluate(in)
}
