package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestNewDailySchedulerParsesSpec(t *testing.T) {
	scheduler, err := NewDailyScheduler("06:30")
	if err != nil {
		t.Fatalf("NewDailyScheduler: %v", err)
	}
	if scheduler.hour != 6 || scheduler.minute != 30 {
		t.Fatalf("got %02d:%02d, want 06:30", scheduler.hour, scheduler.minute)
	}
}

func TestNewDailySchedulerRejectsBadSpecs(t *testing.T) {
	for _, spec := range []string{"", "nope", "25:00", "12:61", "-1:30"} {
		if _, err := NewDailyScheduler(spec); err == nil {
			t.Errorf("NewDailyScheduler(%q): expected error", spec)
		}
	}
}

func TestNextBoundary(t *testing.T) {
	scheduler, err := NewDailyScheduler("06:00")
	if err != nil {
		t.Fatalf("NewDailyScheduler: %v", err)
	}

	before := time.Date(2026, 8, 29, 5, 59, 0, 0, time.UTC)
	if got := scheduler.next(before); !got.Equal(time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("next before boundary = %v", got)
	}

	after := time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC)
	if got := scheduler.next(after); !got.Equal(time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("next at boundary = %v, want next day", got)
	}
}

func TestStopDoesNotRaceWithSchedulingGoroutine(t *testing.T) {
	scheduler, err := NewDailyScheduler("06:00")
	if err != nil {
		t.Fatalf("NewDailyScheduler: %v", err)
	}

	// Repeated start/stop cycles re-create the stop channel while the
	// previous goroutine may still be selecting on its own copy.
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := scheduler.Start(ctx, func(time.Time) {}); err != nil {
			t.Fatalf("Start cycle %d: %v", i, err)
		}
		if err := scheduler.Stop(ctx); err != nil {
			t.Fatalf("Stop cycle %d: %v", i, err)
		}
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	scheduler, err := NewDailyScheduler("06:00")
	if err != nil {
		t.Fatalf("NewDailyScheduler: %v", err)
	}

	ctx := context.Background()
	if err := scheduler.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := scheduler.Start(ctx, func(time.Time) {}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := scheduler.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := scheduler.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
