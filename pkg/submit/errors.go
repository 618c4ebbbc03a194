package submit

import (
	"fmt"
)

// State is a submission's position in its lifecycle.  A submission starts
// pending, is queued while the log batches entries, becomes sequenced once
// the leaf has a tree index, and is proven when a full proof bundle exists.
type State string

const (
	StatePending   = State("pending")
	StateQueued    = State("queued")
	StateSequenced = State("sequenced")
	StateProven    = State("proven")
	StateFailed    = State("failed")
)

// RejectedError means the log refused the leaf outright, e.g., because it was
// malformed or over quota.  Retrying the same submission cannot succeed.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("submission rejected: %s", e.Reason)
}

// TimeoutError means the retry policy's deadline or attempt budget ran out
// before the log produced a proof.  LastState tells the caller how far the
// submission got; re-invoking Submit resumes safely because the log is
// content-addressed.
type TimeoutError struct {
	LastState State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("submission timed out in state %q", e.LastState)
}
