// Package condition combines named boolean conditions into entry/exit decisions.
package condition

import "math"

// Kind discriminates the condition payload carried by a Condition value.
type Kind string

const (
	// KindThreshold compares one feature against a constant.
	KindThreshold Kind = "threshold"
	// KindCrossover compares two features against each other.
	KindCrossover Kind = "crossover"
	// KindTrend checks the sign of a feature.
	KindTrend Kind = "trend"
	// KindCustom delegates to a pluggable predicate.
	KindCustom Kind = "custom"
)

// Comparison selects the relation used by threshold and crossover conditions.
type Comparison string

const (
	Above  Comparison = "above"
	Below  Comparison = "below"
	Equals Comparison = "equals"
)

// Operator combines per-condition booleans into a single decision.
type Operator string

const (
	And Operator = "AND"
	Or  Operator = "OR"
)

// Predicate is the escape hatch for conditions the tagged kinds cannot express.
type Predicate func(row map[string]float64) bool

// Threshold compares the named feature against Value.
type Threshold struct {
	Feature    string
	Comparison Comparison
	Value      float64
}

// Crossover compares feature A against feature B.
type Crossover struct {
	A          string
	B          string
	Comparison Comparison
}

// Trend checks that the named feature carries the wanted sign.
type Trend struct {
	Feature string
	Want    int // +1 or -1
}

// Condition is a tagged union over the supported condition kinds. Exactly one
// payload matching Kind is expected to be set.
type Condition struct {
	Kind      Kind
	Threshold *Threshold
	Crossover *Crossover
	Trend     *Trend
	Custom    Predicate
}

const equalsEpsilon = 1e-9

// eval returns whether the condition holds for the row plus a normalized
// signal strength in [0,1]. A missing or undefined input makes the condition
// false with zero strength; it never errors.
func (c Condition) eval(row map[string]float64) (bool, float64) {
	switch c.Kind {
	case KindThreshold:
		if c.Threshold == nil {
			return false, 0
		}
		v, ok := row[c.Threshold.Feature]
		if !ok {
			return false, 0
		}
		return compare(v, c.Threshold.Value, c.Threshold.Comparison), strength(v, c.Threshold.Value)

	case KindCrossover:
		if c.Crossover == nil {
			return false, 0
		}
		a, okA := row[c.Crossover.A]
		b, okB := row[c.Crossover.B]
		if !okA || !okB {
			return false, 0
		}
		return compare(a, b, c.Crossover.Comparison), strength(a, b)

	case KindTrend:
		if c.Trend == nil {
			return false, 0
		}
		v, ok := row[c.Trend.Feature]
		if !ok || v == 0 {
			return false, 0
		}
		want := c.Trend.Want > 0
		return (v > 0) == want, 1

	case KindCustom:
		if c.Custom == nil {
			return false, 0
		}
		if c.Custom(row) {
			return true, 1
		}
		return false, 0
	}
	return false, 0
}

func compare(a, b float64, cmp Comparison) bool {
	switch cmp {
	case Above:
		return a > b
	case Below:
		return a < b
	case Equals:
		return math.Abs(a-b) <= equalsEpsilon
	}
	return false
}

// strength normalizes the gap between two values into [0,1].
func strength(a, b float64) float64 {
	scale := math.Max(math.Max(math.Abs(a), math.Abs(b)), 1)
	s := math.Abs(a-b) / scale
	if s > 1 {
		return 1
	}
	return s
}
