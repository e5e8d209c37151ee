package entity

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ServiceCaller invokes a hub service on behalf of an actuator.
// service_data always carries entityID.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error
}

// Observer is notified after a registered entity's mirror changes.
type Observer func(old, updated State)

// Store owns every Mirror and the sensor/actuator registrations.
//
// All public methods are thread-safe.
type Store struct {
	mu        sync.RWMutex
	mirrors   map[string]*Mirror
	sensors   map[string]*Sensor
	actuators map[string]*Actuator
	caller    ServiceCaller
	listeners []Observer
	logger    Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		mirrors:   make(map[string]*Mirror),
		sensors:   make(map[string]*Sensor),
		actuators: make(map[string]*Actuator),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetServiceCaller attaches the caller actuators use for service calls.
func (s *Store) SetServiceCaller(caller ServiceCaller) {
	s.mu.Lock()
	s.caller = caller
	s.mu.Unlock()
}

// OnAnyChange registers an observer for every applied state, registered or
// not. The relay uses it to mirror all entities outward.
func (s *Store) OnAnyChange(fn Observer) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// mirror returns the mirror for id, creating it when absent.
func (s *Store) mirror(id string) *Mirror {
	s.mu.RLock()
	m, ok := s.mirrors[id]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok = s.mirrors[id]; !ok {
		m = newMirror(id)
		s.mirrors[id] = m
	}
	return m
}

// Apply writes a flattened state into the entity's mirror, creating the mirror
// on first sight, and notifies OnAnyChange observers.
//
// Parameters:
//   - id: Entity id
//   - flat: Output of Flatten
//
// Returns:
//   - old: State before the update (zero value on first sight)
//   - updated: State after the update
func (s *Store) Apply(id string, flat map[string]any) (old, updated State) {
	old, updated = s.mirror(id).apply(flat)

	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		s.notify("any", id, fn, old, updated)
	}
	return old, updated
}

// Get returns a copy of an entity's state. ok is false if the hub has never
// reported the entity.
func (s *Store) Get(id string) (State, bool) {
	s.mu.RLock()
	m, exists := s.mirrors[id]
	s.mu.RUnlock()
	if !exists || !m.Seen() {
		return State{}, false
	}
	return m.State(), true
}

// Mirror returns the live mirror for id, creating an empty one if needed.
func (s *Store) Mirror(id string) *Mirror {
	return s.mirror(id)
}

// All returns a copy of every reported entity state sorted by id.
func (s *Store) All() []State {
	s.mu.RLock()
	mirrors := make([]*Mirror, 0, len(s.mirrors))
	for _, m := range s.mirrors {
		mirrors = append(mirrors, m)
	}
	s.mu.RUnlock()

	out := make([]State, 0, len(mirrors))
	for _, m := range mirrors {
		if m.Seen() {
			out = append(out, m.State())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Len returns the number of reported entities.
func (s *Store) Len() int {
	return len(s.All())
}

// RegisterSensor declares a read-only interest in an entity.
//
// Returns ErrDuplicateRegistration if the id already has a sensor or actuator.
func (s *Store) RegisterSensor(id string) (*Sensor, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	m := s.mirror(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnregisteredLocked(id); err != nil {
		return nil, err
	}
	sensor := &Sensor{mirror: m, logger: s.logger}
	s.sensors[id] = sensor
	return sensor, nil
}

// RegisterActuator declares an entity that automations also drive.
//
// Returns ErrDuplicateRegistration if the id already has a sensor or actuator.
func (s *Store) RegisterActuator(id string) (*Actuator, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	m := s.mirror(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUnregisteredLocked(id); err != nil {
		return nil, err
	}
	act := &Actuator{Sensor: Sensor{mirror: m, logger: s.logger}, store: s}
	s.actuators[id] = act
	return act, nil
}

func (s *Store) checkUnregisteredLocked(id string) error {
	if _, ok := s.sensors[id]; ok {
		return fmt.Errorf("%w: %s (sensor)", ErrDuplicateRegistration, id)
	}
	if _, ok := s.actuators[id]; ok {
		return fmt.Errorf("%w: %s (actuator)", ErrDuplicateRegistration, id)
	}
	return nil
}

// Registered returns every registered entity id, sorted.
func (s *Store) Registered() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sensors)+len(s.actuators))
	for id := range s.sensors {
		ids = append(ids, id)
	}
	for id := range s.actuators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate compares registrations with the entity ids the hub reported.
// Registered ids the hub does not know are logged and returned; the caller
// decides whether that matters.
func (s *Store) Validate(known []string) []string {
	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	var unknown []string
	for _, id := range s.Registered() {
		if _, ok := knownSet[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		s.logger.Warn("registered entities not reported by hub", "entities", unknown)
	}
	return unknown
}

// UpdateSensor notifies the sensor registered for id, if any.
func (s *Store) UpdateSensor(id string, old, updated State) {
	s.mu.RLock()
	sensor, ok := s.sensors[id]
	s.mu.RUnlock()
	if ok {
		sensor.fire(s, old, updated)
	}
}

// UpdateActuator notifies the actuator registered for id, if any.
func (s *Store) UpdateActuator(id string, old, updated State) {
	s.mu.RLock()
	act, ok := s.actuators[id]
	s.mu.RUnlock()
	if ok {
		act.fire(s, old, updated)
	}
}

func (s *Store) notify(kind, id string, fn Observer, old, updated State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("entity observer panic recovered", "kind", kind, "entity_id", id, "panic", r)
		}
	}()
	fn(old, updated)
}

func (s *Store) serviceCaller() ServiceCaller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caller
}

// Sensor is a registered read-only view of an entity.
type Sensor struct {
	mirror    *Mirror
	logger    Logger
	mu        sync.RWMutex
	observers []Observer
}

// ID returns the entity id.
func (s *Sensor) ID() string { return s.mirror.ID() }

// State returns a copy of the current state.
func (s *Sensor) State() State { return s.mirror.State() }

// Available reports whether the hub has reported a state yet.
func (s *Sensor) Available() bool { return s.mirror.Seen() }

// OnChange adds an observer run after every update of this entity.
// Observers run on the dispatch loop and must return quickly.
func (s *Sensor) OnChange(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Sensor) fire(store *Store, old, updated State) {
	s.mu.RLock()
	observers := slices.Clone(s.observers)
	s.mu.RUnlock()
	for _, fn := range observers {
		store.notify("sensor", s.ID(), fn, old, updated)
	}
}

// Actuator is a registered entity that can also be driven.
type Actuator struct {
	Sensor
	store *Store
}

// Call invokes domain.service on this entity, using the entity's own domain.
func (a *Actuator) Call(ctx context.Context, service string, data map[string]any) error {
	caller := a.store.serviceCaller()
	if caller == nil {
		return ErrNoServiceCaller
	}
	return caller.CallService(ctx, Domain(a.ID()), service, a.ID(), data)
}

// TurnOn calls <domain>.turn_on.
func (a *Actuator) TurnOn(ctx context.Context, data map[string]any) error {
	return a.Call(ctx, "turn_on", data)
}

// TurnOff calls <domain>.turn_off.
func (a *Actuator) TurnOff(ctx context.Context) error {
	return a.Call(ctx, "turn_off", nil)
}

// Toggle calls <domain>.toggle.
func (a *Actuator) Toggle(ctx context.Context) error {
	return a.Call(ctx, "toggle", nil)
}

func (a *Actuator) fire(store *Store, old, updated State) {
	a.mu.RLock()
	observers := slices.Clone(a.observers)
	a.mu.RUnlock()
	for _, fn := range observers {
		store.notify("actuator", a.ID(), fn, old, updated)
	}
}
