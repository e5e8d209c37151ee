package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseOffset parses a signed minute offset such as "+15" or "-15". The sign
// is required. An empty string or "_" means no offset.
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "_" {
		return 0, nil
	}
	sign, digits := s[0], s[1:]
	if (sign != '+' && sign != '-') || digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, fmt.Errorf("%w: %q: want +N or -N minutes", ErrInvalidOffset, s)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidOffset, s, err)
	}
	if sign == '-' {
		n = -n
	}
	return time.Duration(n) * time.Minute, nil
}

// sunNext returns the first sun event plus offset strictly after prev.
// Each call re-reads sun.sun, which the hub moves forward after every event.
func (s *Scheduler) sunNext(read func() (time.Time, error), offset time.Duration) nextFunc {
	return func(prev time.Time) (time.Time, error) {
		at, err := read()
		if err != nil {
			return time.Time{}, err
		}
		next := at.Add(offset)
		for !next.After(prev) {
			next = next.Add(24 * time.Hour)
		}
		return next, nil
	}
}

func (s *Scheduler) runSun(kind, offset string, read func() (time.Time, error), action Action) (*Task, error) {
	off, err := ParseOffset(offset)
	if err != nil {
		return nil, err
	}
	next := s.sunNext(read, off)

	// The first fire may be now; later ones must move forward.
	first, err := next(s.clock.Now().Add(-time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSun, err)
	}

	name := "every " + kind
	if off != 0 {
		name += fmt.Sprintf(" %+d min", int(off/time.Minute))
	}
	return s.schedule(&Task{
		name:   name,
		action: action,
		next:   first,
		nextFn: next,
	})
}

// RunEverySunrise runs action at every sunrise shifted by offset minutes.
func (s *Scheduler) RunEverySunrise(offset string, action Action) (*Task, error) {
	if s.sun == nil {
		return nil, ErrNoSun
	}
	return s.runSun("sunrise", offset, s.sun.NextRising, action)
}

// RunEverySunset runs action at every sunset shifted by offset minutes.
func (s *Scheduler) RunEverySunset(offset string, action Action) (*Task, error) {
	if s.sun == nil {
		return nil, ErrNoSun
	}
	return s.runSun("sunset", offset, s.sun.NextSetting, action)
}
