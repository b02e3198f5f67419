package borrow

import "fmt"

// State is a point in the borrow sequence. States only move forward.
type State int

const (
	StateStart State = iota
	StateWrapped
	StateApprovedCollateral
	StateDeposited
	StatePositionRead1
	StateRateRead
	StatePlanComputed
	StateApprovedDebt
	StateBorrowed
	StatePositionRead2
	StateApprovedRepay
	StateRepaid
	StatePositionRead3
	StateDone
)

var stateNames = [...]string{
	StateStart:              "start",
	StateWrapped:            "wrapped",
	StateApprovedCollateral: "approved_collateral",
	StateDeposited:          "deposited",
	StatePositionRead1:      "position_read_1",
	StateRateRead:           "rate_read",
	StatePlanComputed:       "plan_computed",
	StateApprovedDebt:       "approved_debt",
	StateBorrowed:           "borrowed",
	StatePositionRead2:      "position_read_2",
	StateApprovedRepay:      "approved_repay",
	StateRepaid:             "repaid",
	StatePositionRead3:      "position_read_3",
	StateDone:               "done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StepError reports the transition that failed. The sequence stops at the
// first StepError; nothing that was already confirmed is undone.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("borrow: step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
