package entity

import (
	"fmt"
	"time"
)

// SunEntityID is the hub's sun position entity.
const SunEntityID = "sun.sun"

// Sun states and attributes.
const (
	SunAboveHorizon = "above_horizon"
	SunBelowHorizon = "below_horizon"
	attrNextRising  = "next_rising"
	attrNextSetting = "next_setting"
)

// Sun reads sunrise and sunset times from the sun.sun mirror.
type Sun struct {
	mirror *Mirror
	loc    *time.Location
}

// NewSun binds to the store's sun.sun mirror. Times are returned in loc
// (time.Local when nil).
func NewSun(store *Store, loc *time.Location) *Sun {
	if loc == nil {
		loc = time.Local
	}
	return &Sun{mirror: store.Mirror(SunEntityID), loc: loc}
}

// IsUp reports whether the sun is above the horizon.
func (s *Sun) IsUp() bool {
	return s.mirror.State().String() == SunAboveHorizon
}

// IsDown reports whether the sun is below the horizon.
func (s *Sun) IsDown() bool {
	return s.mirror.State().String() == SunBelowHorizon
}

// NextRising returns the next sunrise reported by the hub.
func (s *Sun) NextRising() (time.Time, error) {
	return s.attrTime(attrNextRising)
}

// NextSetting returns the next sunset reported by the hub.
func (s *Sun) NextSetting() (time.Time, error) {
	return s.attrTime(attrNextSetting)
}

func (s *Sun) attrTime(key string) (time.Time, error) {
	st := s.mirror.State()
	raw, ok := st.Attribute(key)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s.%s", ErrAttributeMissing, SunEntityID, key)
	}
	str, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s.%s is %T", ErrInvalidTime, SunEntityID, key, raw)
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s.%s: %w", ErrInvalidTime, SunEntityID, key, err)
	}
	return t.In(s.loc), nil
}
