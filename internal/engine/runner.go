package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bipulsin/trademanthan-sub001/internal/condition"
	"github.com/bipulsin/trademanthan-sub001/internal/market"
	"github.com/bipulsin/trademanthan-sub001/internal/position"
	"github.com/bipulsin/trademanthan-sub001/internal/schedule"
)

// ErrAlreadyRunning is returned by Start when the runner is active.
var ErrAlreadyRunning = errors.New("engine: already running")

// DefaultEvaluator gates entries on a trend flip and leaves exits to the
// coordinator's reversal and stop-loss logic.
func DefaultEvaluator() *condition.Evaluator {
	entry := condition.Set{
		Logic: condition.And,
		Conditions: map[string]condition.Condition{
			"flip": {
				Kind: condition.KindThreshold,
				Threshold: &condition.Threshold{
					Feature:    "trend_change",
					Comparison: condition.Equals,
					Value:      1,
				},
			},
		},
	}
	return condition.NewEvaluator(entry, condition.Set{})
}

// Status is a point-in-time view of the runner for the operator surface.
type Status struct {
	Running    bool               `json:"running"`
	State      position.State     `json:"position_state"`
	Position   *position.Position `json:"position,omitempty"`
	LastSignal *market.Signal     `json:"last_signal,omitempty"`
	NextRun    *time.Time         `json:"next_run,omitempty"`
}

// Runner ties the coordinator to the scheduler and owns the loop goroutine.
type Runner struct {
	coord *Coordinator
	sched *schedule.Scheduler
	log   zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	runErr  error
}

func NewRunner(coord *Coordinator, sched *schedule.Scheduler, log zerolog.Logger) *Runner {
	return &Runner{coord: coord, sched: sched, log: log}
}

// Start launches the scheduler loop. It returns immediately; the loop runs
// until Stop, context cancellation, or a fatal cycle error.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	r.runErr = nil

	go func() {
		defer close(r.done)
		err := r.sched.Run(loopCtx, r.coord.RunCycle)
		r.mu.Lock()
		r.running = false
		if err != nil && !errors.Is(err, context.Canceled) {
			r.runErr = err
		}
		r.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error().Err(err).Msg("engine loop stopped")
		} else {
			r.log.Info().Msg("engine loop stopped")
		}
	}()
	r.log.Info().Msg("engine loop started")
	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Wait blocks until the loop exits and reports its terminal error, if any.
func (r *Runner) Wait() error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Status reports the runner, position, and schedule state.
func (r *Runner) Status() Status {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	st := Status{
		Running: running,
		State:   r.coord.Machine().State(),
	}
	if pos, ok := r.coord.Machine().Position(); ok {
		st.Position = &pos
	}
	if sig, ok := r.coord.LastSignal(); ok {
		st.LastSignal = &sig
	}
	if next := r.sched.Next(time.Now()); !next.IsZero() {
		st.NextRun = &next
	}
	return st
}
