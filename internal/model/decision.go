package model

// Decision is the output of one signal evaluation cycle.
// Only position *changes* produce a non-Hold decision.
type Decision string

const (
	DecisionEnterLong  Decision = "ENTER_LONG"
	DecisionEnterShort Decision = "ENTER_SHORT"
	DecisionExit       Decision = "EXIT"
	DecisionHold       Decision = "HOLD"
)

// Actionable reports whether the decision should reach the execution gateway.
func (d Decision) Actionable() bool {
	return d != DecisionHold && d != ""
}
