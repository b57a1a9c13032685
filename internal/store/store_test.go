package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtms/internal/detector"
	"dtms/internal/dtms"
	"dtms/internal/strike"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRecordsAndListsTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Now().Truncate(time.Second)

	rec := strike.Record{
		Ticket:  55,
		Strikes: 2,
		Urgency: strike.UrgencyCaution,
		Readings: []detector.Reading{
			{Category: detector.CategoryRisk, Severity: 0.8, Rationale: "risk fired"},
			{Category: detector.CategoryMomentum, Severity: 0.4, Rationale: "momentum fired"},
		},
	}
	require.NoError(t, s.RecordTransition(ctx, dtms.Transition{
		Ticket: 55, Symbol: "EURUSD",
		From: dtms.StateHealthy, To: dtms.StateWarningL1,
		Reason: "signals active", At: at,
	}, rec))
	require.NoError(t, s.RecordTransition(ctx, dtms.Transition{
		Ticket: 56, Symbol: "XAUUSD",
		From: dtms.StateWarningL1, To: dtms.StateHealthy,
		Reason: "signals cleared", At: at.Add(time.Minute),
	}, strike.Record{Ticket: 56}))

	all, err := s.ListTransitions(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(56), all[0].Ticket, "newest first")

	only55, err := s.ListTransitions(ctx, 55, 10)
	require.NoError(t, err)
	require.Len(t, only55, 1)
	assert.Equal(t, "HEALTHY", only55[0].From)
	assert.Equal(t, "WARNING_L1", only55[0].To)
	assert.Equal(t, 2, only55[0].Strikes)
	assert.Equal(t, "CAUTION", only55[0].Urgency)
	require.Len(t, only55[0].Readings, 2)
	assert.Equal(t, detector.CategoryRisk, only55[0].Readings[0].Category)
}

func TestStoreRecordsAndListsOutcomes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Now().Truncate(time.Second)

	require.NoError(t, s.RecordOutcome(ctx, OutcomeRecord{
		RequestID: "req-9", Ticket: 77, Symbol: "EURUSD",
		Kind: "partial_close", Target: 0.5, Status: "success", Retries: 1, At: at,
	}))

	out, err := s.ListOutcomes(ctx, 77, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "req-9", out[0].RequestID)
	assert.Equal(t, 0.5, out[0].Target)
	assert.Equal(t, 1, out[0].Retries)
}

func TestStoreRejectsEmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
