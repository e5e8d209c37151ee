package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/migrations"
)

func newTestHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return NewSQLiteHistory(db.DB)
}

func TestSQLiteHistory_RecordAndRead(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	h.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for _, v := range []string{"on", "off", "on"} {
		require.NoError(t, h.Record(ctx, State{
			EntityID:    "light.kitchen",
			Value:       v,
			LastChanged: base,
			UserID:      "user-7",
			Attributes:  map[string]any{"brightness": float64(10)},
		}))
	}
	require.NoError(t, h.Record(ctx, State{EntityID: "light.other", Value: "on"}))

	entries, err := h.History(ctx, "light.kitchen", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "on", entries[0].Value)
	assert.Equal(t, "off", entries[1].Value)
	assert.True(t, entries[0].RecordedAt.After(entries[1].RecordedAt))
	assert.Equal(t, "user-7", entries[0].UserID)
	assert.Equal(t, float64(10), entries[0].Attributes["brightness"])
	assert.True(t, entries[0].LastChanged.Equal(base))
}

func TestSQLiteHistory_Validation(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.Record(ctx, State{}), ErrInvalidEntityID)
	_, err := h.History(ctx, "", 10)
	assert.ErrorIs(t, err, ErrInvalidEntityID)
	_, err = h.Prune(ctx, 0)
	assert.Error(t, err)
}

func TestSQLiteHistory_Prune(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now.Add(-72 * time.Hour) }
	require.NoError(t, h.Record(ctx, State{EntityID: "sensor.t", Value: "1"}))
	h.now = func() time.Time { return now }
	require.NoError(t, h.Record(ctx, State{EntityID: "sensor.t", Value: "2"}))

	deleted, err := h.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	entries, err := h.History(ctx, "sensor.t", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2", entries[0].Value)
}
