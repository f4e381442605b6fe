// Package risk encodes guard-rails for sizing and holding the single position.
package risk

import "math"

// Limits bounds how much exposure the engine may take and when it must get out.
type Limits struct {
	// Allocation is the fraction of investable capital committed per entry.
	Allocation float64
	// LotValue is the capital consumed per contract per unit of premium.
	LotValue float64
	// MaxLossFraction is the stop: unrealized loss on entry premium beyond
	// which the position is force-exited.
	MaxLossFraction float64
	// CapitalFloor is the balance below which the position is no longer
	// sustainable and no new entries are taken.
	CapitalFloor float64
}

// SizeFor returns the contract count affordable for the premium under the
// allocation, zero when even one contract does not fit.
func (l Limits) SizeFor(investable, premium float64) int {
	if premium <= 0 || investable <= 0 {
		return 0
	}
	lot := l.LotValue
	if lot <= 0 {
		lot = 1
	}
	alloc := l.Allocation
	if alloc <= 0 || alloc > 1 {
		alloc = 1
	}
	return int(math.Floor(investable * alloc / (premium * lot)))
}

// Sustainable reports whether the balance still supports holding a position.
func (l Limits) Sustainable(balance float64) bool {
	return balance >= l.CapitalFloor
}

// StopLossHit reports whether the unrealized loss fraction breaches the stop.
func (l Limits) StopLossHit(lossFraction float64) bool {
	return l.MaxLossFraction > 0 && lossFraction > l.MaxLossFraction
}
