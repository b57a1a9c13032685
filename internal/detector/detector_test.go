package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtms/internal/market"
	"dtms/internal/policy"
	"dtms/internal/types"
)

func healthyFrame(interval string) market.Frame {
	return market.Frame{
		Interval:     interval,
		Close:        1.0010,
		PrevClose:    1.0005,
		LastBarRange: 0.0008,
		ADX:          28,
		RSI:          58,
		RSIPrev:      55,
		MACDHist:     0.0004,
		MACDPrev:     0.0003,
		ATR:          0.0010,
		ATRPrev:      0.0010,
		EMAFast:      1.0008,
		EMASlow:      1.0000,
		SwingHigh:    1.0040,
		SwingLow:     0.9960,
		VolumeRatio:  1.1,
	}
}

func testInput(pos *types.Position, mutate func(fast, structure *market.Frame)) Input {
	limits := policy.Defaults()
	fast := healthyFrame(limits.FastInterval)
	structure := healthyFrame(limits.StructureInterval)
	if mutate != nil {
		mutate(&fast, &structure)
	}
	return Input{
		Position: pos,
		Snapshot: &market.Snapshot{
			Symbol:  pos.Symbol,
			Last:    fast.Close,
			Frames:  map[string]market.Frame{fast.Interval: fast, structure.Interval: structure},
			TakenAt: time.Now(),
		},
		Limits: limits,
		Now:    time.Now(),
	}
}

func longPosition(unrealizedR float64) *types.Position {
	return &types.Position{
		Ticket:          7,
		Symbol:          "EURUSD",
		Direction:       types.DirectionLong,
		Volume:          1,
		EntryPrice:      1.0,
		StopLoss:        0.99,
		InitialStopLoss: 0.99,
		CurrentPrice:    1.0 + unrealizedR*0.01,
		TradeClass:      types.TradeClassIntraday,
		OpenedAt:        time.Now().Add(-time.Hour),
	}
}

func TestRiskFiresBeyondFloor(t *testing.T) {
	in := testInput(longPosition(-1.8), nil)
	reading, ok := Risk{}.Evaluate(in)
	require.True(t, ok)
	assert.Equal(t, CategoryRisk, reading.Category)
	assert.Contains(t, reading.Rationale, "-1.80R")
}

func TestRiskQuietAboveFloor(t *testing.T) {
	in := testInput(longPosition(-0.8), nil)
	_, ok := Risk{}.Evaluate(in)
	assert.False(t, ok)
}

func TestRiskFiresOnDailyLossCeiling(t *testing.T) {
	in := testInput(longPosition(0.2), nil)
	in.Account = types.Account{Balance: 10000, Equity: 10000, DailyPnL: -600}
	reading, ok := Risk{}.Evaluate(in)
	require.True(t, ok)
	assert.Contains(t, reading.Rationale, "daily loss")
}

func TestMomentumFiresBelowADXFloor(t *testing.T) {
	in := testInput(longPosition(-0.5), func(fast, _ *market.Frame) {
		fast.ADX = 15
	})
	reading, ok := Momentum{}.Evaluate(in)
	require.True(t, ok)
	assert.Contains(t, reading.Rationale, "ADX 15.0")
}

func TestMomentumFiresOnMACDFlip(t *testing.T) {
	in := testInput(longPosition(0.3), func(fast, _ *market.Frame) {
		fast.MACDPrev = 0.0004
		fast.MACDHist = -0.0002
	})
	reading, ok := Momentum{}.Evaluate(in)
	require.True(t, ok)
	assert.Contains(t, reading.Rationale, "MACD")
}

func TestVolatilityRequiresAdverseDirection(t *testing.T) {
	// Spike with the position: quiet.
	in := testInput(longPosition(0.5), func(fast, _ *market.Frame) {
		fast.LastBarRange = fast.ATR * 2
		fast.Close = fast.PrevClose + 0.002
	})
	_, ok := Volatility{}.Evaluate(in)
	assert.False(t, ok)

	// Same spike against the position: fires.
	in = testInput(longPosition(0.5), func(fast, _ *market.Frame) {
		fast.LastBarRange = fast.ATR * 2
		fast.Close = fast.PrevClose - 0.002
	})
	reading, ok := Volatility{}.Evaluate(in)
	require.True(t, ok)
	assert.Equal(t, CategoryVolatility, reading.Category)
}

func TestShockFiresOnATRDoubling(t *testing.T) {
	in := testInput(longPosition(0.5), func(fast, _ *market.Frame) {
		fast.ATRPrev = 0.0010
		fast.ATR = 0.0021
	})
	reading, ok := Shock{}.Evaluate(in)
	require.True(t, ok)
	assert.Contains(t, reading.Rationale, "ATR jumped")
}

func TestStructureFiresOnSwingBreak(t *testing.T) {
	in := testInput(longPosition(-0.9), func(_, structure *market.Frame) {
		structure.SwingLow = 0.9950
		structure.Close = 0.9910
		structure.PrevClose = 0.9960
		structure.EMASlow = 0 // isolate the swing-break branch
	})
	reading, ok := Structure{}.Evaluate(in)
	require.True(t, ok)
	assert.Contains(t, reading.Rationale, "swing low")
}

func TestStructureFiresOnEMACross(t *testing.T) {
	in := testInput(longPosition(-0.4), func(_, structure *market.Frame) {
		structure.EMASlow = 1.0000
		structure.PrevClose = 1.0004
		structure.Close = 0.9990
	})
	reading, ok := Structure{}.Evaluate(in)
	require.True(t, ok)
	assert.Contains(t, reading.Rationale, "EMA")
}

func TestTimeLimitSparesWinners(t *testing.T) {
	pos := longPosition(1.2)
	pos.OpenedAt = time.Now().Add(-30 * time.Hour)
	in := testInput(pos, nil)
	_, ok := TimeLimit{}.Evaluate(in)
	assert.False(t, ok)
}

func TestTimeLimitFiresPastCeiling(t *testing.T) {
	pos := longPosition(-0.2)
	pos.OpenedAt = time.Now().Add(-10 * time.Hour) // intraday ceiling is 8h
	in := testInput(pos, nil)
	reading, ok := TimeLimit{}.Evaluate(in)
	require.True(t, ok)
	assert.Equal(t, CategoryTime, reading.Category)
}

func TestConfluenceFiresWhenFactorsReverse(t *testing.T) {
	pos := longPosition(-0.3)
	pos.EntryFactors = []types.EntryFactor{
		{Name: FactorEMATrend, Bullish: true},
		{Name: FactorMACD, Bullish: true},
		{Name: FactorRSI, Bullish: true},
	}
	in := testInput(pos, func(_, structure *market.Frame) {
		structure.EMAFast = 0.9990 // below EMASlow: reversed
		structure.MACDHist = -0.0002
		structure.RSI = 42
	})
	reading, ok := Confluence{}.Evaluate(in)
	require.True(t, ok)
	assert.Contains(t, reading.Rationale, "3 of 3")
}

func TestConfluenceQuietWithoutEntryFactors(t *testing.T) {
	in := testInput(longPosition(-0.3), nil)
	_, ok := Confluence{}.Evaluate(in)
	assert.False(t, ok)
}

func TestDetectorsQuietOnMissingFrames(t *testing.T) {
	pos := longPosition(-0.5)
	in := Input{
		Position: pos,
		Snapshot: &market.Snapshot{Symbol: pos.Symbol, TakenAt: time.Now()},
		Limits:   policy.Defaults(),
		Now:      time.Now(),
	}
	for _, det := range []Detector{Structure{}, Momentum{}, Volatility{}, Confluence{}, Shock{}} {
		_, ok := det.Evaluate(in)
		assert.False(t, ok, "%s must return no signal without data", det.Category())
	}
}

func TestBankSkipsExpensiveOnFastCadence(t *testing.T) {
	pos := longPosition(-1.8)
	pos.EntryFactors = []types.EntryFactor{{Name: FactorRSI, Bullish: true}}
	in := testInput(pos, func(fast, structure *market.Frame) {
		fast.ADX = 15
		structure.EMASlow = 1.0000
		structure.PrevClose = 1.0004
		structure.Close = 0.9990
		structure.RSI = 40
	})

	bank := NewBank(0)
	fastOnly := bank.Evaluate(in, false)
	for _, r := range fastOnly {
		assert.NotEqual(t, CategoryStructure, r.Category)
		assert.NotEqual(t, CategoryConfluence, r.Category)
	}

	full := bank.Evaluate(in, true)
	cats := make(map[Category]bool)
	for _, r := range full {
		cats[r.Category] = true
	}
	assert.True(t, cats[CategoryStructure])
	assert.True(t, cats[CategoryConfluence])
	assert.True(t, len(full) > len(fastOnly))
}

// Scenario: deep loss plus dead trend yields exactly the risk and
// momentum strikes.
func TestLossWithWeakTrendFiresRiskAndMomentum(t *testing.T) {
	in := testInput(longPosition(-1.8), func(fast, _ *market.Frame) {
		fast.ADX = 15
	})
	bank := NewBank(0)
	readings := bank.Evaluate(in, false)
	cats := make(map[Category]bool)
	for _, r := range readings {
		cats[r.Category] = true
	}
	assert.True(t, cats[CategoryRisk])
	assert.True(t, cats[CategoryMomentum])
	assert.Len(t, readings, 2)
}
