// Package schedule drives execution cycles on fixed wall-clock slots with drift correction.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimeOfDay is one wall-clock execution slot.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" into a slot.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid slot %q, want HH:MM", s)
	}
	var tod TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &tod.Hour, &tod.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid slot %q: %w", s, err)
	}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("slot %q out of range", s)
	}
	return tod, nil
}

// String renders the slot as HH:MM.
func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// at anchors the slot on the given day in the given location.
func (t TimeOfDay) at(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, loc)
}

// Config tunes the firing rules. The tolerance window and separation guard
// are hand-tuned operational constants, kept configurable on purpose.
type Config struct {
	Slots []TimeOfDay
	// Tolerance is how long after a slot's wall-clock time a delayed poll
	// may still fire it.
	Tolerance time.Duration
	// MinSeparation suppresses re-fires: a cycle never starts within this
	// span of the previous one.
	MinSeparation time.Duration
	// MaxWait caps a single sleep so stop requests are observed promptly.
	MaxWait  time.Duration
	Location *time.Location
}

// Scheduler fires a callback once per due slot from a single cooperative loop.
type Scheduler struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	now      func() time.Time
	lastExec time.Time
}

// ErrNoSlots is returned when the configuration contains no execution slots.
var ErrNoSlots = errors.New("no execution slots configured")

// New validates the config and builds a scheduler.
func New(cfg Config, log zerolog.Logger) (*Scheduler, error) {
	if len(cfg.Slots) == 0 {
		return nil, ErrNoSlots
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 90 * time.Second
	}
	if cfg.MinSeparation <= 0 {
		cfg.MinSeparation = 5 * time.Minute
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	slots := append([]TimeOfDay(nil), cfg.Slots...)
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Hour*60+slots[i].Minute < slots[j].Hour*60+slots[j].Minute
	})
	cfg.Slots = slots
	return &Scheduler{cfg: cfg, log: log, now: time.Now}, nil
}

// WithClock overrides the clock for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run polls until ctx is cancelled, invoking fire once per due slot. A
// non-nil error from fire is treated as fatal and stops the loop; cycle-local
// failures must be absorbed by the callback.
func (s *Scheduler) Run(ctx context.Context, fire func(context.Context) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.now()
		if slot, ok := s.Due(now); ok {
			s.MarkFired(now)
			s.log.Info().Str("slot", slot.String()).Time("at", now).Msg("slot due, running cycle")
			if err := fire(ctx); err != nil {
				return fmt.Errorf("cycle at slot %s: %w", slot, err)
			}
		}
		select {
		case <-time.After(s.wait(s.now())):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Due reports whether a slot should fire at now: now lies inside a slot's
// tolerance window and the separation guard since the last execution holds.
func (s *Scheduler) Due(now time.Time) (TimeOfDay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastExec.IsZero() && now.Sub(s.lastExec) < s.cfg.MinSeparation {
		return TimeOfDay{}, false
	}
	for _, slot := range s.cfg.Slots {
		for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
			at := slot.at(day, s.cfg.Location)
			if !now.Before(at) && now.Sub(at) <= s.cfg.Tolerance {
				return slot, true
			}
		}
	}
	return TimeOfDay{}, false
}

// MarkFired records the execution time for the separation guard.
func (s *Scheduler) MarkFired(at time.Time) {
	s.mu.Lock()
	s.lastExec = at
	s.mu.Unlock()
}

// LastExecution returns the time of the most recent fire.
func (s *Scheduler) LastExecution() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExec
}

// Next returns the wall-clock time of the next slot at or after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	for _, day := range []time.Time{now, now.AddDate(0, 0, 1)} {
		for _, slot := range s.cfg.Slots {
			at := slot.at(day, s.cfg.Location)
			if at.After(now) {
				return at
			}
		}
	}
	// Unreachable with a non-empty slot list.
	return now
}

// wait bounds the sleep to the nearest of the next slot, the end of an open
// tolerance window, and MaxWait, with a one-second floor so repeated
// due-but-suppressed polls do not spin. The window bound matters when the
// separation guard suppressed this poll: the loop must wake again while the
// window is still open rather than sleep the slot away.
func (s *Scheduler) wait(now time.Time) time.Duration {
	d := s.Next(now).Sub(now)
	if end, ok := s.windowEnd(now); ok {
		if w := end.Sub(now); w < d {
			d = w
		}
	}
	if d > s.cfg.MaxWait {
		d = s.cfg.MaxWait
	}
	if d < time.Second {
		d = time.Second
	}
	return d
}

// windowEnd returns the close of the tolerance window containing now, if any.
func (s *Scheduler) windowEnd(now time.Time) (time.Time, bool) {
	for _, slot := range s.cfg.Slots {
		for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
			at := slot.at(day, s.cfg.Location)
			if !now.Before(at) && now.Sub(at) <= s.cfg.Tolerance {
				return at.Add(s.cfg.Tolerance), true
			}
		}
	}
	return time.Time{}, false
}
