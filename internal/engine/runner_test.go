package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bipulsin/trademanthan-sub001/internal/schedule"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	h := newHarness(t, 1000, 0, 0)
	sched, err := schedule.New(schedule.Config{
		Slots:         []schedule.TimeOfDay{{Hour: 0, Minute: 0}},
		Tolerance:     time.Second,
		MinSeparation: time.Hour,
		MaxWait:       time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	return NewRunner(h.coord, sched, zerolog.Nop())
}

func TestRunnerStartStop(t *testing.T) {
	r := newTestRunner(t)

	if st := r.Status(); st.Running {
		t.Fatalf("runner must start stopped")
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("second start must fail, got %v", err)
	}
	if st := r.Status(); !st.Running {
		t.Fatalf("runner must report running after start")
	}

	r.Stop()
	if st := r.Status(); st.Running {
		t.Fatalf("runner must report stopped after stop")
	}
	if err := r.Wait(); err != nil {
		t.Fatalf("clean stop must not surface an error, got %v", err)
	}
}

func TestRunnerStatusReportsNextRun(t *testing.T) {
	r := newTestRunner(t)
	st := r.Status()
	if st.NextRun == nil {
		t.Fatalf("expected a next run time")
	}
	if !st.NextRun.After(time.Now().Add(-time.Minute)) {
		t.Fatalf("next run in the past: %v", st.NextRun)
	}
	if st.Position != nil {
		t.Fatalf("no position expected, got %+v", st.Position)
	}
}

func TestRunnerRestartsAfterStop(t *testing.T) {
	r := newTestRunner(t)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	r.Stop()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	r.Stop()
}
