package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeOfDay reads hour and minute from a time-valued entity.
//
// input_datetime entities carry "hour" and "minute" attributes; other
// entities may hold "HH:MM" or "HH:MM:SS" as their value.
func TimeOfDay(st State) (hour, minute int, err error) {
	h, hok := st.Attributes["hour"]
	m, mok := st.Attributes["minute"]
	if hok && mok {
		hour, herr := toInt(h)
		minute, merr := toInt(m)
		if herr == nil && merr == nil {
			return checkClock(st.EntityID, hour, minute)
		}
	}
	return ParseClock(st.String())
}

// ParseClock parses "HH:MM" or "HH:MM:SS"; seconds are ignored.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidTime, s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrInvalidTime, s, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %w", ErrInvalidTime, s, err)
	}
	return checkClock(s, hour, minute)
}

func checkClock(src string, hour, minute int) (int, int, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q out of range", ErrInvalidTime, src)
	}
	return hour, minute, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("%w: %T", ErrInvalidTime, v)
}
