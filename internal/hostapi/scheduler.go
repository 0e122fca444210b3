package hostapi

import (
	"github.com/keshon/mycelium/internal/scheduler"
)

// Scheduler is the "scheduler" accessor. Errors (unknown unit, closed
// scheduler, unknown task id) are thrown into the script.
type Scheduler struct {
	s *scheduler.Scheduler
}

func NewScheduler(s *scheduler.Scheduler) *Scheduler {
	return &Scheduler{s: s}
}

// ScheduleOnce fires handler of script once after delay units and returns
// the task id.
func (a *Scheduler) ScheduleOnce(script, handler string, delay int64, unit string) (string, error) {
	t, err := a.s.ScheduleOnce(script, handler, delay, unit)
	return t.ID, err
}

// ScheduleRepeating fires handler of script every period units after
// initialDelay units and returns the task id.
func (a *Scheduler) ScheduleRepeating(script, handler string, initialDelay, period int64, unit string) (string, error) {
	t, err := a.s.ScheduleRepeating(script, handler, initialDelay, period, unit)
	return t.ID, err
}

func (a *Scheduler) Cancel(id string) error {
	return a.s.Cancel(id)
}

// List returns the pending tasks.
func (a *Scheduler) List() []scheduler.Task {
	return a.s.Tasks()
}
