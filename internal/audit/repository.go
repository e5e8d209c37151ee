// Package audit records every service call made through the hub link, so
// operators can see what was driven, by which component, and whether the hub
// accepted it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeFormat is fixed-width so called_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// ServiceCall is one recorded call.
type ServiceCall struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	Service    string    `json:"service"`
	EntityID   string    `json:"entity_id,omitempty"`
	Origin     string    `json:"origin"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CalledAt   time.Time `json:"called_at"`
}

// Filter controls which calls List returns.
type Filter struct {
	Domain   string // optional
	EntityID string // optional
	Origin   string // optional: automation, scheduler, mqtt, cli
	Failed   bool   // only unsuccessful calls
	Limit    int    // default 50, max 200
	Offset   int
}

// ListResult is one page of calls.
type ListResult struct {
	Calls  []ServiceCall `json:"calls"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Repository stores service calls.
type Repository interface {
	Record(ctx context.Context, call *ServiceCall) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores service calls in the service_calls table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a call. ID and CalledAt are filled in when empty.
func (r *SQLiteRepository) Record(ctx context.Context, call *ServiceCall) error {
	if call.Domain == "" || call.Service == "" {
		return fmt.Errorf("recording service call: domain and service are required")
	}
	if call.ID == "" {
		call.ID = "call-" + uuid.NewString()[:8]
	}
	if call.CalledAt.IsZero() {
		call.CalledAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO service_calls (id, domain, service, entity_id, origin, success, error, duration_ms, called_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.Domain, call.Service,
		nullableString(call.EntityID), call.Origin,
		call.Success, nullableString(call.Error), call.DurationMS,
		call.CalledAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting service call: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns calls matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Domain != "" {
		conditions = append(conditions, "domain = ?")
		args = append(args, filter.Domain)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Origin != "" {
		conditions = append(conditions, "origin = ?")
		args = append(args, filter.Origin)
	}
	if filter.Failed {
		conditions = append(conditions, "success = 0")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM service_calls " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting service calls: %w", err)
	}

	query := "SELECT id, domain, service, entity_id, origin, success, error, duration_ms, called_at FROM service_calls " + //nolint:gosec // as above
		where + " ORDER BY called_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying service calls: %w", err)
	}
	defer rows.Close()

	calls := []ServiceCall{}
	for rows.Next() {
		var call ServiceCall
		var entityID, callErr sql.NullString
		var calledAt string
		if err := rows.Scan(&call.ID, &call.Domain, &call.Service, &entityID, &call.Origin,
			&call.Success, &callErr, &call.DurationMS, &calledAt); err != nil {
			return nil, fmt.Errorf("scanning service call: %w", err)
		}
		call.EntityID = entityID.String
		call.Error = callErr.String

		t, err := time.Parse(time.RFC3339Nano, calledAt)
		if err != nil {
			return nil, fmt.Errorf("parsing service call timestamp %q: %w", calledAt, err)
		}
		call.CalledAt = t
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating service calls: %w", err)
	}

	return &ListResult{
		Calls:  calls,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
