// Package position owns the single live position and its lifecycle transitions.
package position

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bipulsin/trademanthan-sub001/internal/options"
)

// State enumerates the lifecycle of the single position.
type State string

const (
	Flat     State = "FLAT"
	Entering State = "ENTERING"
	Open     State = "OPEN"
	Exiting  State = "EXITING"
)

// Side is the direction of the held option position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Position is the one live holding of a strategy instance.
type Position struct {
	Contract         options.Contract
	Side             Side
	Qty              int
	EntryPrice       float64
	EntryTime        time.Time
	StopLossFraction float64
}

// ErrBadTransition is returned for a transition the current state forbids.
var ErrBadTransition = errors.New("invalid position transition")

// Machine enforces FLAT → ENTERING → OPEN → EXITING → FLAT with at most one
// position alive at any time. Entry attempts while a position exists are
// logged no-ops, never errors.
type Machine struct {
	mu    sync.Mutex
	state State
	pos   *Position
	log   zerolog.Logger
}

// NewMachine starts the machine flat.
func NewMachine(log zerolog.Logger) *Machine {
	return &Machine{state: Flat, log: log}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Position returns a copy of the live position, if any.
func (m *Machine) Position() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil {
		return Position{}, false
	}
	return *m.pos, true
}

// BeginEntry moves FLAT → ENTERING. It reports false, without error, when a
// position already exists or an order is in flight.
func (m *Machine) BeginEntry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Flat || m.pos != nil {
		m.log.Info().Str("state", string(m.state)).Str("reason", "position_exists").Msg("entry attempt ignored")
		return false
	}
	m.state = Entering
	return true
}

// ConfirmEntry moves ENTERING → OPEN once the entry fill is acknowledged,
// creating the position at the fill price.
func (m *Machine) ConfirmEntry(contract options.Contract, side Side, qty int, fillPrice, stopLossFraction float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Entering {
		return ErrBadTransition
	}
	m.pos = &Position{
		Contract:         contract,
		Side:             side,
		Qty:              qty,
		EntryPrice:       fillPrice,
		EntryTime:        at,
		StopLossFraction: stopLossFraction,
	}
	m.state = Open
	return nil
}

// AbortEntry rolls ENTERING back to FLAT after order placement fails its
// retry budget. No partial position survives an abort.
func (m *Machine) AbortEntry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Entering {
		m.state = Flat
		m.pos = nil
	}
}

// BeginExit moves OPEN → EXITING.
func (m *Machine) BeginExit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Open || m.pos == nil {
		return ErrBadTransition
	}
	m.state = Exiting
	return nil
}

// AbortExit rolls EXITING back to OPEN when the exit order could not be
// placed; the position remains held and the next cycle retries.
func (m *Machine) AbortExit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Exiting {
		m.state = Open
	}
}

// ConfirmExit moves EXITING → FLAT once the opposing fill is acknowledged,
// clears the position, and returns the realized pnl.
func (m *Machine) ConfirmExit(exitPrice float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Exiting || m.pos == nil {
		return 0, ErrBadTransition
	}
	pnl := RealizedPnL(m.pos.Side, m.pos.EntryPrice, exitPrice, m.pos.Qty)
	m.pos = nil
	m.state = Flat
	return pnl, nil
}

// LossFraction returns the unrealized loss on the entry premium for the held
// position, side-aware: a short loses as premium rises, a long as it falls.
// Profitable marks return a negative fraction.
func (m *Machine) LossFraction(currentPremium float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos == nil || m.pos.EntryPrice <= 0 {
		return 0
	}
	if m.pos.Side == Short {
		return (currentPremium - m.pos.EntryPrice) / m.pos.EntryPrice
	}
	return (m.pos.EntryPrice - currentPremium) / m.pos.EntryPrice
}

// RealizedPnL computes closed-trade profit for one unit-quantity convention:
// (entry − exit)·qty for a short, (exit − entry)·qty for a long.
func RealizedPnL(side Side, entry, exit float64, qty int) float64 {
	if side == Short {
		return (entry - exit) * float64(qty)
	}
	return (exit - entry) * float64(qty)
}
