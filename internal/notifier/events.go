package notifier

import (
	"fmt"
	"time"

	"dtms/internal/logger"
)

// Publisher turns lifecycle events into notifications. Send failures are
// logged and dropped; notification is best effort and never blocks the
// control loop's decisions.
type Publisher struct {
	sink TextNotifier
}

// NewPublisher wraps a sink; nil gets the Null notifier.
func NewPublisher(sink TextNotifier) *Publisher {
	if sink == nil {
		sink = Null{}
	}
	return &Publisher{sink: sink}
}

func (p *Publisher) push(msg StructuredMessage) {
	if err := p.sink.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("notifier: push failed: %v", err)
	}
}

// Transition announces one state change.
func (p *Publisher) Transition(ticket int64, symbol, from, to, reason string, strikes int, urgency string, at time.Time) {
	p.push(StructuredMessage{
		Icon:  "🔀",
		Title: fmt.Sprintf("%s #%d: %s → %s", symbol, ticket, from, to),
		Sections: []MessageSection{{
			Title: "Signals",
			Lines: []string{
				fmt.Sprintf("strikes: %d (%s)", strikes, urgency),
				reason,
			},
		}},
		Timestamp: at,
	})
}

// ActionOutcome announces one resolved action.
func (p *Publisher) ActionOutcome(ticket int64, symbol, kind, status string, retries int, errMsg string, at time.Time) {
	icon := "✅"
	if status != "success" {
		icon = "⚠️"
	}
	lines := []string{
		fmt.Sprintf("action: %s", kind),
		fmt.Sprintf("status: %s, retries: %d", status, retries),
	}
	if errMsg != "" {
		lines = append(lines, "error: "+errMsg)
	}
	p.push(StructuredMessage{
		Icon:      icon,
		Title:     fmt.Sprintf("%s #%d action %s", symbol, ticket, status),
		Sections:  []MessageSection{{Title: "Outcome", Lines: lines}},
		Timestamp: at,
	})
}

// UnresolvedRisk escalates an action that failed terminally while the
// position is still open.
func (p *Publisher) UnresolvedRisk(ticket int64, symbol, detail string, at time.Time) {
	p.push(StructuredMessage{
		Icon:  "🚨",
		Title: fmt.Sprintf("%s #%d: risk action failed, position still open", symbol, ticket),
		Sections: []MessageSection{{
			Title: "Detail",
			Lines: []string{detail, "manual intervention may be required"},
		}},
		Timestamp: at,
	})
}

// ExternalClose announces a position that disappeared at the broker
// without an action from this system.
func (p *Publisher) ExternalClose(ticket int64, symbol string, at time.Time) {
	p.push(StructuredMessage{
		Icon:      "ℹ️",
		Title:     fmt.Sprintf("%s #%d closed externally", symbol, ticket),
		Timestamp: at,
	})
}
