// Package options resolves a target price level into a concrete tradable contract.
package options

import (
	"errors"
	"time"
)

// ContractType discriminates calls from puts.
type ContractType string

const (
	Call ContractType = "call"
	Put  ContractType = "put"
)

// SearchDirection controls which side of the target the strike search prefers.
type SearchDirection string

const (
	// AtOrAbove returns the smallest strike at or above the target (calls).
	AtOrAbove SearchDirection = "at_or_above"
	// AtOrBelow returns the largest strike at or below the target (puts).
	AtOrBelow SearchDirection = "at_or_below"
)

// Contract is one tradable option from the broker's catalog.
type Contract struct {
	Symbol  string
	Strike  float64
	Expiry  time.Time
	Type    ContractType
	Premium float64
}

var (
	// ErrNoExpiryAvailable means the catalog holds no usable expiry at all.
	ErrNoExpiryAvailable = errors.New("no expiry available")
	// ErrNoSuitableContract means no strike of the wanted type exists for the expiry.
	ErrNoSuitableContract = errors.New("no suitable contract")
	// ErrPremiumOutOfBand means the resolved contract failed the premium gate.
	ErrPremiumOutOfBand = errors.New("premium out of band")
)
