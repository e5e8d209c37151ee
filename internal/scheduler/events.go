package scheduler

import (
	"context"

	"github.com/nerrad567/gray-logic-hass/internal/event"
)

// Custom event names the scheduler listens for.
const (
	EventCancelAll   = "graylogic_scheduler_cancel"
	EventFireSandbox = "graylogic_scheduler_fire"
)

const handlerName = "scheduler"

// BindEvents lets other components stop all tasks, or fire them in sandbox
// mode, by emitting custom events.
func (s *Scheduler) BindEvents(custom *event.CustomEvents) {
	custom.Subscribe(EventCancelAll, handlerName, func(context.Context, event.Event) error {
		s.CancelAll()
		return nil
	})
	custom.Subscribe(EventFireSandbox, handlerName, func(context.Context, event.Event) error {
		s.FireSandbox()
		return nil
	})
}
