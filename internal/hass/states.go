package hass

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-hass/internal/entity"
)

// LoadReport summarises an initial state load.
type LoadReport struct {
	Entities     int      `json:"entities"`
	Skipped      int      `json:"skipped"`
	Unregistered []string `json:"unregistered,omitempty"`
}

// StateLoader populates the entity store from get_states.
type StateLoader struct {
	corr   *Correlator
	store  *entity.Store
	logger Logger
}

// NewStateLoader creates a loader.
func NewStateLoader(corr *Correlator, store *entity.Store) *StateLoader {
	return &StateLoader{corr: corr, store: store, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (l *StateLoader) SetLogger(logger Logger) {
	l.logger = logger
}

// Load fetches every entity state and applies it to the store.
//
// Registrations are validated against the reported ids first; unknown ones
// are reported and logged but do not fail the load. Each snapshot is
// flattened, applied to its mirror and then passed to the sensor and
// actuator updaters, in that order.
//
// Returns:
//   - *LoadReport: Counts and unknown registrations; never nil, empty when
//     the request fails
//   - error: Wraps ErrDegradedStart if the request fails; no mirror is
//     touched in that case
func (l *StateLoader) Load(ctx context.Context) (*LoadReport, error) {
	var snapshots []map[string]any
	if _, err := l.corr.Request(ctx, NewGetStates(), &snapshots); err != nil {
		l.logger.Error("initial state load failed", "error", err)
		return &LoadReport{}, fmt.Errorf("%w: get_states: %w", ErrDegradedStart, err)
	}

	report := &LoadReport{}
	flats := make([]map[string]any, 0, len(snapshots))
	ids := make([]string, 0, len(snapshots))
	for _, snapshot := range snapshots {
		id := entity.SnapshotID(snapshot)
		if err := entity.ValidateID(id); err != nil {
			report.Skipped++
			l.logger.Warn("skipping entity snapshot", "error", err)
			continue
		}
		flats = append(flats, entity.Flatten(snapshot))
		ids = append(ids, id)
	}

	report.Unregistered = l.store.Validate(ids)
	for _, id := range report.Unregistered {
		l.logger.Warn("registered entity not reported by hub", "entity_id", id)
	}

	for i, flat := range flats {
		id := ids[i]
		old, updated := l.store.Apply(id, flat)
		l.store.UpdateSensor(id, old, updated)
		l.store.UpdateActuator(id, old, updated)
		report.Entities++
	}

	l.logger.Info("initial state loaded",
		"entities", report.Entities,
		"skipped", report.Skipped,
		"unregistered", len(report.Unregistered),
	)
	return report, nil
}
