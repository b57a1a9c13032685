package types

import (
	"strings"
	"time"
)

// Direction of an open position.
type Direction int

const (
	DirectionLong Direction = iota
	DirectionShort
)

func (d Direction) String() string {
	if d == DirectionShort {
		return "short"
	}
	return "long"
}

// Sign returns +1 for long and -1 for short, used to orient
// price moves against the position.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "short", "sell":
		return DirectionShort
	default:
		return DirectionLong
	}
}

// TradeClass buckets a position by its intended holding horizon.
// Each class carries its own time-in-trade ceiling.
type TradeClass string

const (
	TradeClassScalp    TradeClass = "scalp"
	TradeClassIntraday TradeClass = "intraday"
	TradeClassSwing    TradeClass = "swing"
)

func ParseTradeClass(s string) TradeClass {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalp":
		return TradeClassScalp
	case "swing":
		return TradeClassSwing
	default:
		return TradeClassIntraday
	}
}

// EntryFactor is one indicator condition that supported the original entry.
// The confluence detector checks how many of these have since reversed.
type EntryFactor struct {
	Name    string `json:"name"`
	Bullish bool   `json:"bullish"`
}

// Position is the read-mostly mirror of an open trade owned by the
// execution collaborator. It is refreshed each monitor cycle; the core
// never mutates it except to recompute derived fields.
type Position struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`

	StopLoss        float64 `json:"stop_loss"`
	TakeProfit      float64 `json:"take_profit"`
	InitialStopLoss float64 `json:"initial_stop_loss"`

	CurrentPrice float64 `json:"current_price"`
	RealizedPnL  float64 `json:"realized_pnl"`

	TradeClass   TradeClass    `json:"trade_class"`
	EntryFactors []EntryFactor `json:"entry_factors,omitempty"`

	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RiskDistance is the initial per-unit risk: entry to initial stop.
// Falls back to the live stop when the initial stop was not reported.
func (p *Position) RiskDistance() float64 {
	sl := p.InitialStopLoss
	if sl <= 0 {
		sl = p.StopLoss
	}
	if sl <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	dist := p.EntryPrice - sl
	if dist < 0 {
		dist = -dist
	}
	return dist
}

// UnrealizedR expresses the open profit or loss as a multiple of the
// initial risk. Zero when the risk distance is unknown.
func (p *Position) UnrealizedR() float64 {
	dist := p.RiskDistance()
	if dist == 0 || p.CurrentPrice <= 0 {
		return 0
	}
	move := (p.CurrentPrice - p.EntryPrice) * p.Direction.Sign()
	return move / dist
}

// Age is the elapsed time since the position was opened.
func (p *Position) Age(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt)
}
