package types

import "time"

// Account is the equity picture used by the risk detector for the
// aggregate daily-loss ceiling.
type Account struct {
	Equity      float64   `json:"equity"`
	Balance     float64   `json:"balance"`
	DailyPnL    float64   `json:"daily_pnl"`
	Currency    string    `json:"currency"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// DailyLossPct returns today's loss as a positive fraction of equity,
// zero when the day is flat or positive.
func (a Account) DailyLossPct() float64 {
	if a.Equity <= 0 || a.DailyPnL >= 0 {
		return 0
	}
	return -a.DailyPnL / a.Equity
}
