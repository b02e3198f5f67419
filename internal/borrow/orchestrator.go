package borrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Config controls a single run.
type Config struct {
	// WrapAmount is wrapped and then deposited in full. It carries the
	// wrapped token's precision.
	WrapAmount   domain.Amount
	SafetyFactor decimal.Decimal
	// ApproveDebt grants the pool an allowance on the debt token before the
	// borrow.
	ApproveDebt bool
	Repay       bool
	// WrapOnly stops the run once the native currency is wrapped.
	WrapOnly bool
}

// Deps are the adapters a run drives.
type Deps struct {
	Wrapper  Wrapper
	Approver Approver
	Pool     LendingPool
	Oracle   PriceOracle
	Reporter Reporter
	// Receipts settles confirmation timeouts by transaction hash. Without it
	// the orchestrator falls back to reading balances and the position.
	Receipts ReceiptLookup
}

type outcome struct {
	receipt   domain.Receipt
	recovered bool
	detail    map[string]any
}

type transition struct {
	to State
	fn func(ctx context.Context, r *Run) (outcome, error)
}

// Orchestrator drives the wrap, deposit, borrow and repay sequence for one
// account on one network. Each state has exactly one outgoing transition and
// the first failure ends the run.
type Orchestrator struct {
	wrapper  Wrapper
	approver Approver
	pool     LendingPool
	oracle   PriceOracle
	reporter Reporter
	receipts ReceiptLookup

	addrs   domain.NetworkAddresses
	account common.Address
	cfg     Config
	path    []transition
	logger  *slog.Logger
	now     func() time.Time
}

// New validates cfg and builds the transition path it implies.
func New(deps Deps, addrs domain.NetworkAddresses, account common.Address, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Wrapper == nil || deps.Approver == nil || deps.Pool == nil || deps.Oracle == nil {
		return nil, errors.New("borrow: wrapper, approver, pool and oracle are required")
	}
	if cfg.WrapAmount.Sign() <= 0 {
		return nil, fmt.Errorf("borrow: %w: wrap amount must be positive", domain.ErrInvalidAmount)
	}
	if cfg.SafetyFactor.IsZero() {
		cfg.SafetyFactor = DefaultSafetyFactor
	}
	if !cfg.SafetyFactor.IsPositive() || cfg.SafetyFactor.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("borrow: %w: safety factor %s outside (0, 1]", domain.ErrInvalidAmount, cfg.SafetyFactor)
	}
	if deps.Reporter == nil {
		deps.Reporter = Reporters(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		wrapper:  deps.Wrapper,
		approver: deps.Approver,
		pool:     deps.Pool,
		oracle:   deps.Oracle,
		reporter: deps.Reporter,
		receipts: deps.Receipts,
		addrs:    addrs,
		account:  account,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "borrow")),
		now:      time.Now,
	}
	o.path = o.buildPath()
	return o, nil
}

func (o *Orchestrator) buildPath() []transition {
	path := []transition{{StateWrapped, o.wrap}}
	if o.cfg.WrapOnly {
		return path
	}
	path = append(path,
		transition{StateApprovedCollateral, o.approveCollateral},
		transition{StateDeposited, o.deposit},
		transition{StatePositionRead1, o.readPosition(StatePositionRead1)},
		transition{StateRateRead, o.readRate},
		transition{StatePlanComputed, o.computePlan},
	)
	if o.cfg.ApproveDebt {
		path = append(path, transition{StateApprovedDebt, o.approveDebt})
	}
	path = append(path,
		transition{StateBorrowed, o.borrow},
		transition{StatePositionRead2, o.readPosition(StatePositionRead2)},
	)
	if o.cfg.Repay {
		path = append(path,
			transition{StateApprovedRepay, o.approveRepay},
			transition{StateRepaid, o.repay},
			transition{StatePositionRead3, o.readPosition(StatePositionRead3)},
		)
	}
	return path
}

// Steps lists the states the configured run passes through, in order.
func (o *Orchestrator) Steps() []State {
	out := make([]State, 0, len(o.path)+1)
	for _, t := range o.path {
		out = append(out, t.to)
	}
	return append(out, StateDone)
}

// Prepare reads what the run needs before anything is sent: the debt
// token's precision, the starting wrapped balance and the starting position.
// The returned Run is never nil.
func (o *Orchestrator) Prepare(ctx context.Context, runID string) (*Run, error) {
	r := newRun(runID, o.addrs.Name, o.account, o.now())

	var (
		decimals uint8
		balance  domain.Amount
		position domain.AccountPosition
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := o.approver.Decimals(gctx, o.addrs.DebtToken)
		decimals = d
		return err
	})
	g.Go(func() error {
		b, err := o.wrapper.Balance(gctx)
		balance = b
		return err
	})
	g.Go(func() error {
		p, err := o.pool.GetAccountData(gctx, o.account)
		position = p
		return err
	})
	if err := g.Wait(); err != nil {
		r.fail(StateStart, err)
		return r, fmt.Errorf("borrow: prepare: %w", err)
	}

	r.DebtDecimals = decimals
	r.InitialBalance = balance
	r.record(StateStart, position)
	o.logger.InfoContext(ctx, "run prepared",
		slog.String("run_id", runID),
		slog.String("network", o.addrs.Name),
		slog.String("account", o.account.Hex()),
		slog.String("pool", o.pool.Address().Hex()),
		slog.String("balance", balance.String()),
		slog.String("collateral", position.Collateral().String()),
		slog.String("debt", position.Debt().String()),
	)
	return r, nil
}

// Execute walks the transition path from Start to Done. It stops at the
// first failing transition and returns a *StepError naming it.
func (o *Orchestrator) Execute(ctx context.Context, r *Run) error {
	if r.State != StateStart {
		return fmt.Errorf("borrow: run %s already at %s", r.ID, r.State)
	}
	for _, t := range o.path {
		started := o.now()
		out, err := t.fn(ctx, r)
		ev := StepEvent{
			RunID:    r.ID,
			Step:     t.to,
			Duration: o.now().Sub(started),
			TxHash:   out.receipt.TxHash,
			Detail:   out.detail,
		}
		if err != nil {
			ev.Status = StepFailed
			ev.Err = err
			r.fail(t.to, err)
			o.reporter.StepCompleted(ctx, ev)
			return &StepError{Step: t.to, Err: err}
		}

		ev.Status = StepOK
		if out.recovered {
			ev.Status = StepRecovered
		}
		if out.receipt.TxHash != (common.Hash{}) || out.recovered {
			r.Receipts = append(r.Receipts, StepReceipt{Step: t.to, Receipt: out.receipt, Recovered: out.recovered})
		}
		r.State = t.to
		o.reporter.StepCompleted(ctx, ev)
	}
	r.State = StateDone
	return nil
}

// Finish closes the run and hands its summary to the reporter.
func (o *Orchestrator) Finish(ctx context.Context, r *Run, mode string) Summary {
	s := r.Summary(mode, o.now())
	o.reporter.RunFinished(ctx, s)
	return s
}

// Start prepares and executes a run, then reports it.
func (o *Orchestrator) Start(ctx context.Context, runID, mode string) (*Run, error) {
	r, err := o.Prepare(ctx, runID)
	if err == nil {
		err = o.Execute(ctx, r)
	}
	o.Finish(ctx, r, mode)
	return r, err
}

// Inspect prepares a run without sending anything and reports the starting
// position.
func (o *Orchestrator) Inspect(ctx context.Context, runID, mode string) (*Run, error) {
	r, err := o.Prepare(ctx, runID)
	if err == nil {
		r.State = StateDone
	}
	o.Finish(ctx, r, mode)
	return r, err
}

// settle decides whether a failed state-changing call still counts. Only a
// confirmation timeout is open to doubt. When the call's hash is known its
// receipt decides; otherwise landed reads chain state for the step's full
// effect. Nothing is ever resubmitted.
func (o *Orchestrator) settle(ctx context.Context, step State, rcpt domain.Receipt, err error, landed func(context.Context) (bool, error)) (domain.Receipt, error) {
	if !errors.Is(err, domain.ErrConfirmationTimeout) {
		return rcpt, err
	}

	var (
		ok   bool
		qerr error
	)
	if o.receipts != nil && rcpt.TxHash != (common.Hash{}) {
		var mined domain.Receipt
		mined, ok, qerr = o.receipts.Lookup(ctx, rcpt.TxHash)
		if errors.Is(qerr, domain.ErrTransactionReverted) {
			return mined, qerr
		}
		if ok {
			rcpt = mined
		}
	} else {
		ok, qerr = landed(ctx)
	}
	if qerr != nil {
		return rcpt, errors.Join(err, fmt.Errorf("borrow: re-check %s after timeout: %w", step, qerr))
	}
	if !ok {
		return rcpt, err
	}
	o.logger.WarnContext(ctx, "confirmation timed out but the call landed, continuing",
		slog.String("step", step.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
		slog.String("error", err.Error()),
	)
	return rcpt, nil
}

func (o *Orchestrator) wrap(ctx context.Context, r *Run) (outcome, error) {
	amount := o.cfg.WrapAmount
	res, err := o.wrapper.Wrap(ctx, amount)
	if err == nil {
		r.Wrapped = &res
		return outcome{receipt: res.Receipt, detail: map[string]any{
			"amount":  amount.String(),
			"balance": res.NewBalance.String(),
		}}, nil
	}

	var balance domain.Amount
	rcpt, err := o.settle(ctx, StateWrapped, res.Receipt, err, func(ctx context.Context) (bool, error) {
		want, err := r.InitialBalance.Add(amount)
		if err != nil {
			return false, err
		}
		if balance, err = o.wrapper.Balance(ctx); err != nil {
			return false, err
		}
		c, err := balance.Cmp(want)
		return c >= 0, err
	})
	if err != nil {
		return outcome{receipt: rcpt}, err
	}
	if balance.Value == nil {
		if balance, err = o.wrapper.Balance(ctx); err != nil {
			return outcome{receipt: rcpt}, err
		}
	}
	r.Wrapped = &domain.WrapResult{Receipt: rcpt, NewBalance: balance}
	return outcome{receipt: rcpt, recovered: true, detail: map[string]any{
		"amount":  amount.String(),
		"balance": balance.String(),
	}}, nil
}

// approve sets an exact allowance and records it once it is known to be in
// place, either from a confirmed receipt or from the allowance itself.
func (o *Orchestrator) approve(ctx context.Context, r *Run, step State, token common.Address, amount domain.Amount) (outcome, error) {
	spender := o.pool.Address()
	detail := map[string]any{
		"token":   token.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	}
	rcpt, err := o.approver.Approve(ctx, token, spender, amount)
	if err == nil {
		if rcpt.Confirmed() {
			r.grant(token, spender, amount)
		}
		return outcome{receipt: rcpt, detail: detail}, nil
	}

	rcpt, err = o.settle(ctx, step, rcpt, err, func(ctx context.Context) (bool, error) {
		got, err := o.approver.Allowance(ctx, token, o.account, spender)
		if err != nil {
			return false, err
		}
		c, err := got.Cmp(amount)
		return c == 0, err
	})
	if err != nil {
		return outcome{receipt: rcpt}, err
	}
	r.grant(token, spender, amount)
	return outcome{receipt: rcpt, recovered: true, detail: detail}, nil
}

func (o *Orchestrator) approveCollateral(ctx context.Context, r *Run) (outcome, error) {
	return o.approve(ctx, r, StateApprovedCollateral, o.wrapper.Token(), o.cfg.WrapAmount)
}

// deposit supplies the wrapped amount. Collateral accrues on its own, so a
// timed out deposit is judged by the wrapped balance it should have drained.
func (o *Orchestrator) deposit(ctx context.Context, r *Run) (outcome, error) {
	token, amount := o.wrapper.Token(), o.cfg.WrapAmount
	if err := r.requireGrant(token, o.pool.Address(), amount); err != nil {
		return outcome{}, err
	}
	detail := map[string]any{"token": token.Hex(), "amount": amount.String()}

	rcpt, err := o.pool.Deposit(ctx, token, amount, o.account)
	if err != nil {
		rcpt, err = o.settle(ctx, StateDeposited, rcpt, err, func(ctx context.Context) (bool, error) {
			if r.Wrapped == nil {
				return false, nil
			}
			want, err := r.Wrapped.NewBalance.Sub(amount)
			if err != nil {
				return false, err
			}
			got, err := o.wrapper.Balance(ctx)
			if err != nil {
				return false, err
			}
			c, err := got.Cmp(want)
			return c <= 0, err
		})
		if err != nil {
			return outcome{receipt: rcpt}, err
		}
		r.spend(token, o.pool.Address())
		return outcome{receipt: rcpt, recovered: true, detail: detail}, nil
	}
	r.spend(token, o.pool.Address())
	return outcome{receipt: rcpt, detail: detail}, nil
}

func (o *Orchestrator) readPosition(step State) func(context.Context, *Run) (outcome, error) {
	return func(ctx context.Context, r *Run) (outcome, error) {
		p, err := o.pool.GetAccountData(ctx, o.account)
		if err != nil {
			return outcome{}, err
		}
		r.record(step, p)
		o.logger.InfoContext(ctx, "position",
			slog.String("step", step.String()),
			slog.String("collateral", p.Collateral().String()),
			slog.String("debt", p.Debt().String()),
			slog.String("available", p.AvailableBorrows().String()),
		)
		return outcome{detail: map[string]any{
			"collateral": p.Collateral().String(),
			"debt":       p.Debt().String(),
			"available":  p.AvailableBorrows().String(),
		}}, nil
	}
}

func (o *Orchestrator) readRate(ctx context.Context, r *Run) (outcome, error) {
	rate, err := o.oracle.GetExchangeRate(ctx, o.addrs.PriceFeed)
	if err != nil {
		return outcome{}, err
	}
	r.Rate = &rate
	return outcome{detail: map[string]any{
		"rate":       rate.Rate.String(),
		"updated_at": rate.UpdatedAt.UTC().Format(time.RFC3339),
	}}, nil
}

func (o *Orchestrator) computePlan(_ context.Context, r *Run) (outcome, error) {
	if r.Rate == nil {
		return outcome{}, fmt.Errorf("borrow: %w: no rate snapshot", domain.ErrOracleUnavailable)
	}
	plan, err := PlanBorrow(r.Position, o.cfg.SafetyFactor, *r.Rate, r.DebtDecimals, o.cfg.WrapAmount.Decimals)
	if err != nil {
		return outcome{}, err
	}
	r.Plan = &plan
	return outcome{detail: map[string]any{
		"quote_amount": plan.QuoteAmount.String(),
		"debt_amount":  plan.DebtAmount.String(),
		"native_value": plan.NativeValue.String(),
	}}, nil
}

func (o *Orchestrator) approveDebt(ctx context.Context, r *Run) (outcome, error) {
	return o.approve(ctx, r, StateApprovedDebt, o.addrs.DebtToken, r.Plan.DebtAmount)
}

// borrowSlack is the share of the plan, in hundredths, a landed borrow may
// fall short by in quote terms when the debt token trades off its peg.
const borrowSlack = 1

// borrow draws the planned amount. Debt accrues on its own, so a timed out
// borrow only counts when the debt grew by about the whole plan.
func (o *Orchestrator) borrow(ctx context.Context, r *Run) (outcome, error) {
	token, amount := o.addrs.DebtToken, r.Plan.DebtAmount
	before := r.Position.Debt()
	detail := map[string]any{"token": token.Hex(), "amount": amount.String()}

	rcpt, err := o.pool.Borrow(ctx, token, amount, o.account)
	if err != nil {
		rcpt, err = o.settle(ctx, StateBorrowed, rcpt, err, func(ctx context.Context) (bool, error) {
			p, err := o.pool.GetAccountData(ctx, o.account)
			if err != nil {
				return false, err
			}
			grown, err := p.Debt().Sub(before)
			if err != nil {
				return false, err
			}
			q := r.Plan.QuoteAmount.Int()
			want := new(big.Int).Sub(q, new(big.Int).Quo(new(big.Int).Mul(q, big.NewInt(borrowSlack)), big.NewInt(100)))
			return grown.Int().Cmp(want) >= 0, nil
		})
		if err != nil {
			return outcome{receipt: rcpt}, err
		}
		return outcome{receipt: rcpt, recovered: true, detail: detail}, nil
	}
	return outcome{receipt: rcpt, detail: detail}, nil
}

func (o *Orchestrator) approveRepay(ctx context.Context, r *Run) (outcome, error) {
	return o.approve(ctx, r, StateApprovedRepay, o.addrs.DebtToken, r.Plan.DebtAmount)
}

// repay returns the borrowed amount. Accrual only raises the debt, so any
// drop below the last read means the repayment landed.
func (o *Orchestrator) repay(ctx context.Context, r *Run) (outcome, error) {
	token, amount := o.addrs.DebtToken, r.Plan.DebtAmount
	if err := r.requireGrant(token, o.pool.Address(), amount); err != nil {
		return outcome{}, err
	}
	before := r.Position.Debt()
	detail := map[string]any{"token": token.Hex(), "amount": amount.String()}

	rcpt, err := o.pool.Repay(ctx, token, amount, o.account)
	if err != nil {
		rcpt, err = o.settle(ctx, StateRepaid, rcpt, err, func(ctx context.Context) (bool, error) {
			p, err := o.pool.GetAccountData(ctx, o.account)
			if err != nil {
				return false, err
			}
			c, err := p.Debt().Cmp(before)
			return c < 0, err
		})
		if err != nil {
			return outcome{receipt: rcpt}, err
		}
		r.spend(token, o.pool.Address())
		return outcome{receipt: rcpt, recovered: true, detail: detail}, nil
	}
	r.spend(token, o.pool.Address())
	return outcome{receipt: rcpt, detail: detail}, nil
}
