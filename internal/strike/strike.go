package strike

import (
	"sort"
	"strings"
	"time"

	"dtms/internal/detector"
)

// Urgency is the qualitative bucket derived from the strike count.
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyWarning
	UrgencyCaution
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyWarning:
		return "WARNING"
	case UrgencyCaution:
		return "CAUTION"
	case UrgencyCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// Record is the per-position strike picture for the current cycle only.
// It never accumulates across cycles: the moment conditions resolve the
// next record drops back to zero.
type Record struct {
	Ticket     int64               `json:"ticket"`
	Strikes    int                 `json:"strikes"`
	Urgency    Urgency             `json:"urgency"`
	Categories []detector.Category `json:"categories,omitempty"`
	Readings   []detector.Reading  `json:"readings,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Aggregate folds one cycle's readings into a strike record. Each
// active category counts exactly once no matter how severe or how many
// readings it produced; severity survives only in the rationale.
func Aggregate(ticket int64, readings []detector.Reading, now time.Time) Record {
	seen := make(map[detector.Category]bool, len(readings))
	rec := Record{Ticket: ticket, UpdatedAt: now}
	for _, r := range readings {
		if seen[r.Category] {
			continue
		}
		seen[r.Category] = true
		rec.Categories = append(rec.Categories, r.Category)
		rec.Readings = append(rec.Readings, r)
	}
	sort.Slice(rec.Categories, func(i, j int) bool { return rec.Categories[i] < rec.Categories[j] })
	rec.Strikes = len(rec.Categories)
	rec.Urgency = urgencyFor(rec.Strikes)
	return rec
}

func urgencyFor(strikes int) Urgency {
	switch {
	case strikes <= 0:
		return UrgencyNone
	case strikes == 1:
		return UrgencyWarning
	case strikes == 2:
		return UrgencyCaution
	default:
		return UrgencyCritical
	}
}

// Rationale joins the per-category rationales into one line for
// notifications and action comments.
func (r Record) Rationale() string {
	if len(r.Readings) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Readings))
	for _, reading := range r.Readings {
		parts = append(parts, string(reading.Category)+": "+reading.Rationale)
	}
	return strings.Join(parts, "; ")
}
