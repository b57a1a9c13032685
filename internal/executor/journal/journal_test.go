package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJournalAppendAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Entry{
		RequestID: "req-1",
		Ticket:    100,
		Kind:      "full_close",
		Reason:    "risk floor hit",
		Status:    "success",
		Retries:   2,
	}))
	require.NoError(t, s.Append(ctx, Entry{
		RequestID: "req-2",
		Ticket:    101,
		Kind:      "tighten_stop",
		Target:    1.095,
		Status:    "permanent_failure",
		Error:     "invalid stops",
	}))

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, "req-2", recent[0].RequestID)
	assert.Equal(t, 1.095, recent[0].Target)
	assert.Equal(t, "invalid stops", recent[0].Error)
	assert.Equal(t, "req-1", recent[1].RequestID)
	assert.Equal(t, 2, recent[1].Retries)
}

func TestJournalCooldownRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	active := time.Now().Add(3 * time.Minute)
	expired := time.Now().Add(-time.Minute)
	require.NoError(t, s.SetCooldown(ctx, 200, active))
	require.NoError(t, s.SetCooldown(ctx, 201, expired))

	loaded, err := s.LoadCooldowns(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1, "expired stamps are not restored")
	assert.WithinDuration(t, active, loaded[200], time.Second)
}

func TestJournalCooldownUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := time.Now().Add(time.Minute)
	second := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.SetCooldown(ctx, 300, first))
	require.NoError(t, s.SetCooldown(ctx, 300, second))

	loaded, err := s.LoadCooldowns(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.WithinDuration(t, second, loaded[300], time.Second)
}

func TestJournalRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
