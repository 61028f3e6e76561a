package scheduler

import (
	"context"
	"fmt"
	"time"

	"RepoPulse/internal/ports"
)

// DailyScheduler fires the job once per day at a fixed UTC wall-clock time.
// It sleeps until the next boundary instead of ticking from process start, so
// restarts do not drift the run time.
type DailyScheduler struct {
	hour   int
	minute int
	stop   chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// NewDailyScheduler parses an "HH:MM" UTC time-of-day spec.
func NewDailyScheduler(spec string) (*DailyScheduler, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(spec, "%d:%d", &hour, &minute); err != nil {
		return nil, fmt.Errorf("invalid schedule %q, want HH:MM: %w", spec, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid schedule %q, want HH:MM", spec)
	}
	return &DailyScheduler{hour: hour, minute: minute}, nil
}

// Start launches the scheduling goroutine. Calling Start twice without an
// intervening Stop is a no-op.
func (s *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}
	if s.stop != nil {
		return nil
	}

	// The goroutine reads a captured copy of the stop channel; Stop clears
	// the field concurrently.
	stop := make(chan struct{})
	s.stop = stop
	go func() {
		for {
			timer := time.NewTimer(time.Until(s.next(time.Now().UTC())))
			select {
			case t := <-timer.C:
				job(t)
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			}
		}
	}()

	return nil
}

// Stop halts the scheduling goroutine.
func (s *DailyScheduler) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.stop = nil
	return nil
}

func (s *DailyScheduler) next(now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}
