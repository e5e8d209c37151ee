package audit

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRecordAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	calls := []ServiceCall{
		{Domain: "light", Service: "turn_on", EntityID: "light.kitchen", Origin: "scheduler", Success: true, CalledAt: base},
		{Domain: "light", Service: "turn_off", EntityID: "light.kitchen", Origin: "mqtt", Success: false, Error: "not_found", CalledAt: base.Add(time.Minute)},
		{Domain: "switch", Service: "toggle", EntityID: "switch.fan", Origin: "scheduler", Success: true, CalledAt: base.Add(2 * time.Minute)},
	}
	for i := range calls {
		if err := repo.Record(ctx, &calls[i]); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if calls[i].ID == "" {
			t.Error("Record() did not assign an ID")
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string // services, newest first
	}{
		{"all", Filter{}, []string{"toggle", "turn_off", "turn_on"}},
		{"by domain", Filter{Domain: "light"}, []string{"turn_off", "turn_on"}},
		{"by entity", Filter{EntityID: "switch.fan"}, []string{"toggle"}},
		{"by origin", Filter{Origin: "scheduler"}, []string{"toggle", "turn_on"}},
		{"failed only", Filter{Failed: true}, []string{"turn_off"}},
		{"paged", Filter{Limit: 1, Offset: 1}, []string{"turn_off"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(res.Calls) != len(tt.want) {
				t.Fatalf("List() returned %d calls, want %d", len(res.Calls), len(tt.want))
			}
			for i, c := range res.Calls {
				if c.Service != tt.want[i] {
					t.Errorf("call[%d].Service = %q, want %q", i, c.Service, tt.want[i])
				}
			}
		})
	}

	res, err := repo.List(ctx, Filter{Failed: true})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := res.Calls[0]
	if got.Error != "not_found" || got.Success || got.Origin != "mqtt" {
		t.Errorf("failed call = %+v", got)
	}
	if !got.CalledAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CalledAt = %v, want %v", got.CalledAt, base.Add(time.Minute))
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := newTestRepo(t)
	res, err := repo.List(context.Background(), Filter{Limit: 10_000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 || res.Total != 0 || res.Calls == nil {
		t.Errorf("List() = %+v", res)
	}
}

func TestRecordRequiresService(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Record(context.Background(), &ServiceCall{Domain: "light"}); err == nil {
		t.Error("Record() without service should fail")
	}
}
