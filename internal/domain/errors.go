package domain

import "fmt"

// ValidationError means an opportunity went stale between scan and execute.
// The runner skips it silently and moves on; it never stops the cycle.
type ValidationError struct {
	OpportunityID string
	Reason        string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("opportunity %s failed revalidation: %s", e.OpportunityID, e.Reason)
}

// ExecutionError means the venue rejected an order. The opportunity is
// marked FAILED and surfaced through an ERROR event; there is no retry.
type ExecutionError struct {
	OpportunityID string
	OrderID       string
	Reason        string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of opportunity %s failed: %s", e.OpportunityID, e.Reason)
}

// PartialExecutionError means a multi-leg opportunity filled one leg and
// failed a sibling. A best-effort cancel of the filled leg is attempted;
// Cancelled reports whether it worked. Cross-leg atomicity is not
// guaranteed, so a false Cancelled leaves a real one-sided position behind.
type PartialExecutionError struct {
	OpportunityID string
	FilledOrderID string
	FilledLeg     Leg
	FailedLeg     Leg
	Cancelled     bool
	Reason        string
}

func (e *PartialExecutionError) Error() string {
	rollback := "rolled back"
	if !e.Cancelled {
		rollback = "ROLLBACK FAILED, one-sided exposure remains"
	}
	return fmt.Sprintf("partial execution of opportunity %s (%s on %s filled, %s on %s failed: %s): %s",
		e.OpportunityID, e.FilledLeg.Side, e.FilledLeg.TokenID,
		e.FailedLeg.Side, e.FailedLeg.TokenID, e.Reason, rollback)
}
