package borrow

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// PositionSnapshot is the account position as read at a given step.
type PositionSnapshot struct {
	Step     State
	Position domain.AccountPosition
}

// StepReceipt ties a confirmed (or recovered) call to the step that sent it.
type StepReceipt struct {
	Step      State
	Receipt   domain.Receipt
	Recovered bool
}

type grantKey struct {
	token, spender common.Address
}

// Run holds everything one invocation learns. Positions are appended, never
// edited; Position is always the latest one.
type Run struct {
	ID        string
	Network   string
	Account   common.Address
	State     State
	StartedAt time.Time

	DebtDecimals   uint8
	InitialBalance domain.Amount
	Wrapped        *domain.WrapResult
	Position       domain.AccountPosition
	Positions      []PositionSnapshot
	Rate           *domain.ExchangeRate
	Plan           *domain.BorrowPlan
	Receipts       []StepReceipt

	Failed     bool
	FailedStep State
	Err        error

	grants map[grantKey]domain.Amount
}

func newRun(id, network string, account common.Address, now time.Time) *Run {
	return &Run{
		ID:        id,
		Network:   network,
		Account:   account,
		State:     StateStart,
		StartedAt: now,
		grants:    make(map[grantKey]domain.Amount),
	}
}

func (r *Run) record(step State, p domain.AccountPosition) {
	r.Position = p
	r.Positions = append(r.Positions, PositionSnapshot{Step: step, Position: p})
}

func (r *Run) fail(step State, err error) {
	r.Failed = true
	r.FailedStep = step
	r.Err = err
}

func (r *Run) grant(token, spender common.Address, amount domain.Amount) {
	r.grants[grantKey{token, spender}] = amount
}

func (r *Run) spend(token, spender common.Address) {
	delete(r.grants, grantKey{token, spender})
}

// requireGrant fails with ErrOrderingViolation unless a confirmed allowance
// of at least need is on record for (token, spender).
func (r *Run) requireGrant(token, spender common.Address, need domain.Amount) error {
	got, ok := r.grants[grantKey{token, spender}]
	if !ok {
		return fmt.Errorf("borrow: %w: no confirmed allowance on %s for %s", domain.ErrOrderingViolation, token.Hex(), spender.Hex())
	}
	c, err := got.Cmp(need)
	if err != nil {
		return err
	}
	if c < 0 {
		return fmt.Errorf("borrow: %w: allowance %s below %s", domain.ErrOrderingViolation, got, need)
	}
	return nil
}

// PositionAt returns the snapshot taken at step, if any.
func (r *Run) PositionAt(step State) (domain.AccountPosition, bool) {
	for i := len(r.Positions) - 1; i >= 0; i-- {
		if r.Positions[i].Step == step {
			return r.Positions[i].Position, true
		}
	}
	return domain.AccountPosition{}, false
}

// Summary renders the run for reports and journals.
func (r *Run) Summary(mode string, finishedAt time.Time) Summary {
	s := Summary{
		RunID:        r.ID,
		Network:      r.Network,
		Account:      r.Account.Hex(),
		Mode:         mode,
		Reached:      r.State.String(),
		Succeeded:    !r.Failed && r.State == StateDone,
		StartedAt:    r.StartedAt,
		FinishedAt:   finishedAt,
		Positions:    make([]PositionSummary, 0, len(r.Positions)),
		Transactions: make([]TxSummary, 0, len(r.Receipts)),
	}
	if r.Failed {
		s.FailedStep = r.FailedStep.String()
		s.ErrorKind = domain.Kind(r.Err)
		if r.Err != nil {
			s.Error = r.Err.Error()
		}
	}
	if r.Wrapped != nil {
		s.TokenBalance = r.Wrapped.NewBalance.String()
	} else if r.InitialBalance.Value != nil {
		s.TokenBalance = r.InitialBalance.String()
	}
	if r.Plan != nil {
		s.Plan = &PlanSummary{
			AvailableBase: r.Plan.AvailableBase.String(),
			QuoteAmount:   r.Plan.QuoteAmount.String(),
			DebtAmount:    r.Plan.DebtAmount.String(),
			NativeValue:   r.Plan.NativeValue.String(),
			SafetyFactor:  r.Plan.SafetyFactor.String(),
			Rate:          r.Plan.Rate.Rate.String(),
			RateUpdatedAt: r.Plan.Rate.UpdatedAt,
		}
	}
	for _, p := range r.Positions {
		s.Positions = append(s.Positions, positionSummary(p.Step, p.Position))
	}
	for _, rc := range r.Receipts {
		s.Transactions = append(s.Transactions, TxSummary{
			Step:      rc.Step.String(),
			Hash:      rc.Receipt.TxHash.Hex(),
			Block:     rc.Receipt.BlockNumber,
			GasUsed:   rc.Receipt.GasUsed,
			Recovered: rc.Recovered,
		})
	}
	return s
}
