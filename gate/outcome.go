package gate

import (
	"math"
	"time"
)

type OutcomeState string

const (
	OutcomeApproved OutcomeState = "approved"
	OutcomePending  OutcomeState = "pending"
	OutcomeRejected OutcomeState = "rejected"
)

// Outcome is the three-way result of one evaluation. Exactly one state is
// set; callers branch on State rather than on errors.
type Outcome struct {
	State OutcomeState

	// Wait is the remaining grace period. Set only when State is pending.
	Wait time.Duration

	// Reason explains a rejection. Set only when State is rejected.
	Reason string

	// Summary is the artifact persisted by this evaluation.
	Summary Summary
}

func (o Outcome) Approved() bool { return o.State == OutcomeApproved }
func (o Outcome) Pending() bool  { return o.State == OutcomePending }
func (o Outcome) Rejected() bool { return o.State == OutcomeRejected }

// WaitMinutes returns the remaining wait rounded to one decimal for
// operator display.
func (o Outcome) WaitMinutes() float64 {
	return math.Round(o.Wait.Seconds()/60*10) / 10
}
