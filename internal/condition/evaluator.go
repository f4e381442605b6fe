package condition

// Set is a named group of conditions combined under one logic operator.
type Set struct {
	Conditions map[string]Condition
	Logic      Operator
}

// Outcome carries the combined entry/exit decision for one cycle. Entry and
// exit are independent; when both hold the caller must act on exit first and
// defer re-entry to a later cycle.
type Outcome struct {
	Entry      bool
	Exit       bool
	Confidence float64
}

// Evaluator resolves entry and exit condition sets against a feature row.
type Evaluator struct {
	entry Set
	exit  Set
}

// NewEvaluator builds an evaluator from the configured entry and exit sets.
func NewEvaluator(entry, exit Set) *Evaluator {
	return &Evaluator{entry: entry, exit: exit}
}

// Evaluate resolves both sets against the row. Confidence reflects the
// strength of whichever set fired, exit taking precedence.
func (e *Evaluator) Evaluate(row map[string]float64) Outcome {
	entryOK, entryConf := e.entry.evaluate(row)
	exitOK, exitConf := e.exit.evaluate(row)

	out := Outcome{Entry: entryOK, Exit: exitOK}
	switch {
	case exitOK:
		out.Confidence = exitConf
	case entryOK:
		out.Confidence = entryConf
	}
	return out
}

// evaluate combines the set's conditions under its operator and averages the
// strengths of the satisfied conditions into a confidence.
func (s Set) evaluate(row map[string]float64) (bool, float64) {
	if len(s.Conditions) == 0 {
		return false, 0
	}

	satisfied := 0
	var confSum float64
	for _, c := range s.Conditions {
		ok, conf := c.eval(row)
		if ok {
			satisfied++
			confSum += conf
		} else if s.Logic == And {
			return false, 0
		}
	}
	if satisfied == 0 {
		return false, 0
	}
	if s.Logic == And && satisfied < len(s.Conditions) {
		return false, 0
	}
	return true, confSum / float64(satisfied)
}
