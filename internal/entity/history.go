package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// Fixed-width so stored timestamps sort lexically.
	historyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// HistoryEntry is one recorded state of an entity.
type HistoryEntry struct {
	ID          int64          `json:"id"`
	EntityID    string         `json:"entity_id"`
	Value       string         `json:"value"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	UserID      string         `json:"user_id,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

// SQLiteHistory records observed states in the state_history table.
type SQLiteHistory struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistory creates a history repository on an open, migrated database.
func NewSQLiteHistory(db *sql.DB) *SQLiteHistory {
	return &SQLiteHistory{db: db, now: time.Now}
}

// Record inserts one state.
func (h *SQLiteHistory) Record(ctx context.Context, st State) error {
	if st.EntityID == "" {
		return fmt.Errorf("recording history: %w: empty", ErrInvalidEntityID)
	}

	attrs := st.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshalling attributes: %w", err)
	}

	var lastChanged any
	if !st.LastChanged.IsZero() {
		lastChanged = st.LastChanged.UTC().Format(time.RFC3339Nano)
	}
	var userID any
	if st.UserID != "" {
		userID = st.UserID
	}

	_, err = h.db.ExecContext(ctx,
		`INSERT INTO state_history (entity_id, value, attributes, last_changed, user_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.EntityID, st.String(), string(attrsJSON), lastChanged, userID,
		h.now().UTC().Format(historyTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// History returns recent entries for an entity, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - entityID: Entity id
//   - limit: Maximum entries (default 50, capped at 500)
func (h *SQLiteHistory) History(ctx context.Context, entityID string, limit int) ([]HistoryEntry, error) {
	if entityID == "" {
		return nil, fmt.Errorf("reading history: %w: empty", ErrInvalidEntityID)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, entity_id, value, attributes, last_changed, user_id, recorded_at
		 FROM state_history
		 WHERE entity_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var (
			e           HistoryEntry
			value       sql.NullString
			attrsJSON   string
			lastChanged sql.NullString
			userID      sql.NullString
			recordedAt  string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &value, &attrsJSON, &lastChanged, &userID, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.Value = value.String
		e.UserID = userID.String
		if err := json.Unmarshal([]byte(attrsJSON), &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshalling attributes: %w", err)
		}
		if lastChanged.Valid {
			e.LastChanged, _ = time.Parse(time.RFC3339Nano, lastChanged.String) //nolint:errcheck // written by Record
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded more than olderThan ago.
//
// Returns:
//   - int64: Number of rows deleted
func (h *SQLiteHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("pruning history: olderThan must be positive")
	}

	cutoff := h.now().UTC().Add(-olderThan).Format(historyTimeFormat)
	result, err := h.db.ExecContext(ctx, "DELETE FROM state_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
