package options

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Resolver selects expiry and strike for a target level and gates the result
// on a premium band. The zero band disables the gate.
type Resolver struct {
	increment  float64
	premiumMin float64
	premiumMax float64
	now        func() time.Time
}

// NewResolver builds a resolver. increment is the rounding step applied to
// the target level (e.g. 100); [premiumMin, premiumMax] is the entry premium
// band, a hard stop rather than a retry condition.
func NewResolver(increment, premiumMin, premiumMax float64) *Resolver {
	if increment <= 0 {
		increment = 100
	}
	return &Resolver{
		increment:  increment,
		premiumMin: premiumMin,
		premiumMax: premiumMax,
		now:        time.Now,
	}
}

// WithClock overrides the clock, for deterministic expiry tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// RoundTarget snaps a raw price level to the nearest configured increment.
func (r *Resolver) RoundTarget(level float64) float64 {
	return math.Round(level/r.increment) * r.increment
}

// Resolve picks the contract for the rounded target level: expiry by priority
// search, strike by directional search, then the premium gate.
func (r *Resolver) Resolve(catalog []Contract, level float64, ctype ContractType) (Contract, error) {
	target := r.RoundTarget(level)

	expiry, err := r.ResolveExpiry(catalog)
	if err != nil {
		return Contract{}, err
	}

	dir := AtOrAbove
	if ctype == Put {
		dir = AtOrBelow
	}
	contract, err := SelectStrike(catalog, expiry, ctype, target, dir)
	if err != nil {
		return Contract{}, err
	}

	if r.premiumMax > 0 && (contract.Premium < r.premiumMin || contract.Premium > r.premiumMax) {
		return Contract{}, fmt.Errorf("%w: premium %.2f outside [%.2f, %.2f]",
			ErrPremiumOutOfBand, contract.Premium, r.premiumMin, r.premiumMax)
	}
	return contract, nil
}

// ResolveExpiry tries tomorrow, then the day after, then falls back to the
// earliest expiry present in the catalog.
func (r *Resolver) ResolveExpiry(catalog []Contract) (time.Time, error) {
	if len(catalog) == 0 {
		return time.Time{}, ErrNoExpiryAvailable
	}

	now := r.now()
	for _, offset := range []int{1, 2} {
		want := now.AddDate(0, 0, offset)
		for _, c := range catalog {
			if sameDay(c.Expiry, want) {
				return c.Expiry, nil
			}
		}
	}

	earliest := catalog[0].Expiry
	for _, c := range catalog[1:] {
		if c.Expiry.Before(earliest) {
			earliest = c.Expiry
		}
	}
	if earliest.IsZero() {
		return time.Time{}, ErrNoExpiryAvailable
	}
	return earliest, nil
}

// SelectStrike filters the catalog to the expiry and type, then searches for
// the strike nearest the target in the given direction, falling back to the
// globally closest strike when no strike lies on the preferred side.
func SelectStrike(catalog []Contract, expiry time.Time, ctype ContractType, target float64, dir SearchDirection) (Contract, error) {
	var pool []Contract
	for _, c := range catalog {
		if c.Type == ctype && sameDay(c.Expiry, expiry) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return Contract{}, fmt.Errorf("%w: type=%s expiry=%s", ErrNoSuitableContract, ctype, expiry.Format("2006-01-02"))
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].Strike < pool[j].Strike })

	switch dir {
	case AtOrAbove:
		for _, c := range pool {
			if c.Strike >= target {
				return c, nil
			}
		}
	case AtOrBelow:
		for i := len(pool) - 1; i >= 0; i-- {
			if pool[i].Strike <= target {
				return pool[i], nil
			}
		}
	}

	// Nothing on the preferred side: fall back to absolute distance.
	best := pool[0]
	for _, c := range pool[1:] {
		if math.Abs(c.Strike-target) < math.Abs(best.Strike-target) {
			best = c
		}
	}
	return best, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
