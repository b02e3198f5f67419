package borrow

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// StepStatus is the outcome of a single transition.
type StepStatus string

const (
	StepOK StepStatus = "ok"
	// StepRecovered marks a call whose confirmation wait timed out but whose
	// effect was found on chain afterwards.
	StepRecovered StepStatus = "recovered"
	StepFailed    StepStatus = "failed"
)

// StepEvent is emitted after every transition, successful or not.
type StepEvent struct {
	RunID    string
	Step     State
	Status   StepStatus
	Duration time.Duration
	TxHash   common.Hash
	Detail   map[string]any
	Err      error
}

// Reporter receives progress from a run. Implementations must not block the
// run on their own failures; they log and move on.
type Reporter interface {
	StepCompleted(ctx context.Context, ev StepEvent)
	RunFinished(ctx context.Context, s Summary)
}

// Reporters fans every event out to each reporter in order.
type Reporters []Reporter

func (rs Reporters) StepCompleted(ctx context.Context, ev StepEvent) {
	for _, r := range rs {
		if r != nil {
			r.StepCompleted(ctx, ev)
		}
	}
}

func (rs Reporters) RunFinished(ctx context.Context, s Summary) {
	for _, r := range rs {
		if r != nil {
			r.RunFinished(ctx, s)
		}
	}
}

// Summary is the serialisable outcome of a run.
type Summary struct {
	RunID        string            `json:"run_id"`
	Network      string            `json:"network"`
	Account      string            `json:"account"`
	Mode         string            `json:"mode"`
	Reached      string            `json:"reached"`
	Succeeded    bool              `json:"succeeded"`
	FailedStep   string            `json:"failed_step,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	TokenBalance string            `json:"token_balance,omitempty"`
	Plan         *PlanSummary      `json:"plan,omitempty"`
	Positions    []PositionSummary `json:"positions"`
	Transactions []TxSummary       `json:"transactions"`
}

type PlanSummary struct {
	AvailableBase string    `json:"available_base"`
	QuoteAmount   string    `json:"quote_amount"`
	DebtAmount    string    `json:"debt_amount"`
	NativeValue   string    `json:"native_value"`
	SafetyFactor  string    `json:"safety_factor"`
	Rate          string    `json:"rate"`
	RateUpdatedAt time.Time `json:"rate_updated_at"`
}

type PositionSummary struct {
	Step         string `json:"step"`
	Collateral   string `json:"collateral"`
	Debt         string `json:"debt"`
	Available    string `json:"available"`
	HealthFactor string `json:"health_factor"`
}

type TxSummary struct {
	Step      string `json:"step"`
	Hash      string `json:"hash"`
	Block     uint64 `json:"block"`
	GasUsed   uint64 `json:"gas_used"`
	Recovered bool   `json:"recovered,omitempty"`
}

func positionSummary(step State, p domain.AccountPosition) PositionSummary {
	hf := "-"
	if p.HealthFactor != nil {
		// health factor is reported with 18 decimals
		hf = domain.NewAmount(p.HealthFactor, 18).String()
	}
	return PositionSummary{
		Step:         step.String(),
		Collateral:   p.Collateral().String(),
		Debt:         p.Debt().String(),
		Available:    p.AvailableBorrows().String(),
		HealthFactor: hf,
	}
}
