package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/entity"
)

// NextOccurrence returns today's hour:minute in loc if it is not before now,
// otherwise tomorrow's.
func NextOccurrence(now time.Time, hour, minute int, loc *time.Location) time.Time {
	now = now.In(loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if at.Before(now) {
		at = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, loc)
	}
	return at
}

// gridStart returns the first point of the grid anchored at today's
// hour:minute with the given period that is not before now.
func gridStart(now time.Time, hour, minute int, period time.Duration, loc *time.Location) time.Time {
	now = now.In(loc)
	anchor := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, loc)
	if !anchor.Before(now) {
		return anchor
	}
	steps := (now.Sub(anchor) + period - 1) / period
	return anchor.Add(steps * period)
}

// dailyNext keeps the wall-clock time across DST changes.
func dailyNext(hour, minute int, loc *time.Location) nextFunc {
	return func(prev time.Time) (time.Time, error) {
		p := prev.In(loc)
		return time.Date(p.Year(), p.Month(), p.Day()+1, hour, minute, 0, 0, loc), nil
	}
}

// entityClock reads hour and minute from a time-valued entity.
func (s *Scheduler) entityClock(entityID string) (int, int, error) {
	if s.store == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrEntityUnavailable, entityID)
	}
	st, ok := s.store.Get(entityID)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrEntityUnavailable, entityID)
	}
	return entity.TimeOfDay(st)
}

func (s *Scheduler) clockAt(t time.Time) (int, int) {
	t = t.In(s.loc)
	return t.Hour(), t.Minute()
}

func (s *Scheduler) daily(name string, hour, minute int, action Action) (*Task, error) {
	return s.schedule(&Task{
		name:   name,
		action: action,
		next:   NextOccurrence(s.clock.Now(), hour, minute, s.loc),
		nextFn: dailyNext(hour, minute, s.loc),
	})
}

func (s *Scheduler) grid(name string, hour, minute int, period time.Duration, action Action) (*Task, error) {
	return s.schedule(&Task{
		name:   name,
		action: action,
		next:   gridStart(s.clock.Now(), hour, minute, period, s.loc),
		period: period,
	})
}

// RunDailyAt runs action every day at "HH:MM", starting today if that time
// has not yet passed.
func (s *Scheduler) RunDailyAt(at string, action Action) (*Task, error) {
	h, m, err := entity.ParseClock(at)
	if err != nil {
		return nil, err
	}
	return s.daily("daily "+at, h, m, action)
}

// RunDailyAtTime runs action every day at t's wall-clock time.
func (s *Scheduler) RunDailyAtTime(t time.Time, action Action) (*Task, error) {
	h, m := s.clockAt(t)
	return s.daily(fmt.Sprintf("daily %02d:%02d", h, m), h, m, action)
}

// RunDailyAtEntity runs action every day at the time held by entityID. The
// entity is read once, when the task is scheduled.
func (s *Scheduler) RunDailyAtEntity(entityID string, action Action) (*Task, error) {
	h, m, err := s.entityClock(entityID)
	if err != nil {
		return nil, err
	}
	return s.daily(fmt.Sprintf("daily %02d:%02d from %s", h, m, entityID), h, m, action)
}

// RunHourlyAt runs action every hour on the grid anchored at today's "HH:MM".
func (s *Scheduler) RunHourlyAt(at string, action Action) (*Task, error) {
	h, m, err := entity.ParseClock(at)
	if err != nil {
		return nil, err
	}
	return s.grid("hourly from "+at, h, m, time.Hour, action)
}

// RunHourlyAtTime is RunHourlyAt anchored at t's wall-clock time.
func (s *Scheduler) RunHourlyAtTime(t time.Time, action Action) (*Task, error) {
	h, m := s.clockAt(t)
	return s.grid(fmt.Sprintf("hourly from %02d:%02d", h, m), h, m, time.Hour, action)
}

// RunHourlyAtEntity is RunHourlyAt anchored at the time held by entityID.
func (s *Scheduler) RunHourlyAtEntity(entityID string, action Action) (*Task, error) {
	h, m, err := s.entityClock(entityID)
	if err != nil {
		return nil, err
	}
	return s.grid(fmt.Sprintf("hourly from %02d:%02d (%s)", h, m, entityID), h, m, time.Hour, action)
}

// RunMinutelyAt runs action every minute on the grid anchored at today's "HH:MM".
func (s *Scheduler) RunMinutelyAt(at string, action Action) (*Task, error) {
	h, m, err := entity.ParseClock(at)
	if err != nil {
		return nil, err
	}
	return s.grid("minutely from "+at, h, m, time.Minute, action)
}

// RunMinutelyAtTime is RunMinutelyAt anchored at t's wall-clock time.
func (s *Scheduler) RunMinutelyAtTime(t time.Time, action Action) (*Task, error) {
	h, m := s.clockAt(t)
	return s.grid(fmt.Sprintf("minutely from %02d:%02d", h, m), h, m, time.Minute, action)
}

// RunMinutelyAtEntity is RunMinutelyAt anchored at the time held by entityID.
func (s *Scheduler) RunMinutelyAtEntity(entityID string, action Action) (*Task, error) {
	h, m, err := s.entityClock(entityID)
	if err != nil {
		return nil, err
	}
	return s.grid(fmt.Sprintf("minutely from %02d:%02d (%s)", h, m, entityID), h, m, time.Minute, action)
}

// RunEveryAt runs action every period starting at first. A first fire in
// the past is moved forward along the grid.
func (s *Scheduler) RunEveryAt(period time.Duration, first time.Time, action Action) (*Task, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	now := s.clock.Now()
	if first.Before(now) {
		steps := (now.Sub(first) + period - 1) / period
		first = first.Add(steps * period)
	}
	return s.schedule(&Task{
		name:   "every " + period.String(),
		action: action,
		next:   first,
		period: period,
	})
}

// RunEveryFor runs action now and then every period, n times in total.
func (s *Scheduler) RunEveryFor(period time.Duration, n int, action Action) (*Task, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if n <= 0 {
		return nil, ErrInvalidCount
	}
	return s.schedule(&Task{
		name:      fmt.Sprintf("every %s x%d", period, n),
		action:    action,
		next:      s.clock.Now(),
		period:    period,
		remaining: n,
	})
}

// RunOnceAt runs action once at the next "HH:MM".
func (s *Scheduler) RunOnceAt(at string, action Action) (*Task, error) {
	h, m, err := entity.ParseClock(at)
	if err != nil {
		return nil, err
	}
	return s.schedule(&Task{
		name:   "once at " + at,
		action: action,
		next:   NextOccurrence(s.clock.Now(), h, m, s.loc),
	})
}

// RunOnceAtTime runs action once at t. A time in the past fires immediately.
func (s *Scheduler) RunOnceAtTime(t time.Time, action Action) (*Task, error) {
	return s.schedule(&Task{
		name:   "once at " + t.In(s.loc).Format(time.RFC3339),
		action: action,
		next:   t,
	})
}

// RunOnceIn runs action once after d.
func (s *Scheduler) RunOnceIn(d time.Duration, action Action) (*Task, error) {
	if d < 0 {
		d = 0
	}
	return s.schedule(&Task{
		name:   "once in " + d.String(),
		action: action,
		next:   s.clock.Now().Add(d),
	})
}

// RunOnceInSeconds runs action once after n seconds.
func (s *Scheduler) RunOnceInSeconds(n int, action Action) (*Task, error) {
	return s.RunOnceIn(time.Duration(n)*time.Second, action)
}

// RunOnceInMinutes runs action once after n minutes.
func (s *Scheduler) RunOnceInMinutes(n int, action Action) (*Task, error) {
	return s.RunOnceIn(time.Duration(n)*time.Minute, action)
}

// RunOnceInHours runs action once after n hours.
func (s *Scheduler) RunOnceInHours(n int, action Action) (*Task, error) {
	return s.RunOnceIn(time.Duration(n)*time.Hour, action)
}

// RunAfterDelay blocks for d and then calls fn on the caller's goroutine. In
// sandbox mode it calls fn immediately.
func (s *Scheduler) RunAfterDelay(ctx context.Context, d time.Duration, fn func()) error {
	if !s.sandbox && d > 0 {
		fired := make(chan struct{})
		timer := s.clock.AfterFunc(d, func() { close(fired) })
		select {
		case <-fired:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	fn()
	return nil
}

// NowIsAfter reports whether the current wall-clock time is at or after
// today's "HH:MM".
func (s *Scheduler) NowIsAfter(at string) (bool, error) {
	h, m, err := entity.ParseClock(at)
	if err != nil {
		return false, err
	}
	now := s.Now()
	mark := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, s.loc)
	return !now.Before(mark), nil
}
