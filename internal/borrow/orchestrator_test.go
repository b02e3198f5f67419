package borrow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/borrowbot/internal/borrow"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

var wrapAmount = domain.NewAmount(big.NewInt(20_000_000_000_000_000), 18) // 0.02

func newTestOrchestrator(t *testing.T, m *fakeMarket, rep borrow.Reporter, mutate func(*borrow.Config)) *borrow.Orchestrator {
	t.Helper()
	return buildOrchestrator(t, m, rep, true, mutate)
}

// buildOrchestrator wires m into every port. Without receipts a timed out
// call is judged from balances and the position alone.
func buildOrchestrator(t *testing.T, m *fakeMarket, rep borrow.Reporter, receipts bool, mutate func(*borrow.Config)) *borrow.Orchestrator {
	t.Helper()
	cfg := borrow.Config{
		WrapAmount:   wrapAmount,
		SafetyFactor: decimal.RequireFromString("0.95"),
		Repay:        true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	deps := borrow.Deps{
		Wrapper:  m,
		Approver: m,
		Pool:     m,
		Oracle:   m,
		Reporter: rep,
	}
	if receipts {
		deps.Receipts = m
	}
	o, err := borrow.New(deps, testAddrs, account, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return o
}

// sequence drops the three concurrent preflight reads, whose order is not
// fixed, and returns what follows.
func sequence(t *testing.T, m *fakeMarket) []string {
	t.Helper()
	calls := m.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	require.ElementsMatch(t, []string{"decimals", "balance", "account"}, calls[:3])
	return calls[3:]
}

func TestStartFullSequence(t *testing.T) {
	m := newFakeMarket()
	rep := &recordingReporter{}
	o := newTestOrchestrator(t, m, rep, nil)

	run, err := o.Start(context.Background(), "run-1", "borrow")
	require.NoError(t, err)
	require.Equal(t, borrow.StateDone, run.State)
	require.False(t, run.Failed)

	require.Equal(t, []string{
		"wrap",
		"approve:weth",
		"deposit",
		"account",
		"rate",
		"borrow",
		"account",
		"approve:dai",
		"repay",
		"account",
	}, sequence(t, m))

	require.Equal(t, 18, int(run.DebtDecimals))
	require.NotNil(t, run.Plan)
	require.Equal(t, big.NewInt(30_40000000), run.Plan.QuoteAmount.Int())
	require.Equal(t, "30.4", run.Plan.DebtAmount.String())
	require.Equal(t, "0.0152", run.Plan.NativeValue.String())

	afterBorrow, ok := run.PositionAt(borrow.StatePositionRead2)
	require.True(t, ok)
	afterRepay, ok := run.PositionAt(borrow.StatePositionRead3)
	require.True(t, ok)
	require.GreaterOrEqual(t, afterRepay.TotalDebtBase.Sign(), 0)
	require.Equal(t, -1, afterRepay.TotalDebtBase.Cmp(afterBorrow.TotalDebtBase))

	require.Equal(t, o.Steps()[:len(o.Steps())-1], rep.steps())
	require.Equal(t, 1, rep.finished)
	require.True(t, rep.summary.Succeeded)
	require.Equal(t, "done", rep.summary.Reached)
	require.Len(t, rep.summary.Transactions, 6)
	require.Len(t, rep.summary.Positions, 4)
}

func TestStepsFollowConfig(t *testing.T) {
	m := newFakeMarket()

	o := newTestOrchestrator(t, m, nil, func(c *borrow.Config) { c.Repay = false })
	require.Equal(t, []borrow.State{
		borrow.StateWrapped, borrow.StateApprovedCollateral, borrow.StateDeposited,
		borrow.StatePositionRead1, borrow.StateRateRead, borrow.StatePlanComputed,
		borrow.StateBorrowed, borrow.StatePositionRead2, borrow.StateDone,
	}, o.Steps())

	o = newTestOrchestrator(t, m, nil, func(c *borrow.Config) { c.ApproveDebt = true })
	require.Contains(t, o.Steps(), borrow.StateApprovedDebt)
	require.Contains(t, o.Steps(), borrow.StateRepaid)

	o = newTestOrchestrator(t, m, nil, func(c *borrow.Config) { c.WrapOnly = true })
	require.Equal(t, []borrow.State{borrow.StateWrapped, borrow.StateDone}, o.Steps())
}

func TestNewRejectsBadConfig(t *testing.T) {
	m := newFakeMarket()
	deps := borrow.Deps{Wrapper: m, Approver: m, Pool: m, Oracle: m}

	_, err := borrow.New(deps, testAddrs, account, borrow.Config{WrapAmount: domain.ZeroAmount(18)}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = borrow.New(deps, testAddrs, account, borrow.Config{
		WrapAmount:   wrapAmount,
		SafetyFactor: decimal.RequireFromString("1.2"),
	}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = borrow.New(borrow.Deps{Wrapper: m}, testAddrs, account, borrow.Config{WrapAmount: wrapAmount}, nil)
	require.Error(t, err)
}

func TestBorrowRevertStopsBeforeRepay(t *testing.T) {
	m := newFakeMarket()
	m.errBorrow = domain.ErrTransactionReverted
	rep := &recordingReporter{}
	o := newTestOrchestrator(t, m, rep, nil)

	run, err := o.Start(context.Background(), "run-2", "borrow")
	require.ErrorIs(t, err, domain.ErrTransactionReverted)

	var stepErr *borrow.StepError
	require.True(t, errors.As(err, &stepErr))
	require.Equal(t, borrow.StateBorrowed, stepErr.Step)
	require.Equal(t, borrow.StatePlanComputed, run.State)

	require.False(t, m.called("repay"))
	require.False(t, m.called("approve:dai"))
	require.Equal(t, "borrow", sequence(t, m)[len(sequence(t, m))-1])

	require.False(t, rep.summary.Succeeded)
	require.Equal(t, "borrowed", rep.summary.FailedStep)
	require.Equal(t, "transaction_reverted", rep.summary.ErrorKind)
	last := rep.events[len(rep.events)-1]
	require.Equal(t, borrow.StepFailed, last.Status)
}

func TestDepositTimeoutWithoutEffectAborts(t *testing.T) {
	m := newFakeMarket()
	m.errDeposit = domain.ErrConfirmationTimeout
	o := newTestOrchestrator(t, m, nil, nil)

	run, err := o.Start(context.Background(), "run-3", "borrow")
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	require.Equal(t, borrow.StateDeposited, run.FailedStep)

	// one receipt lookup after the timeout, never a second deposit and never a borrow
	require.Equal(t, []string{"wrap", "approve:weth", "deposit", "receipt"}, sequence(t, m))
	require.False(t, m.called("borrow"))
}

func TestDepositTimeoutWithEffectContinues(t *testing.T) {
	m := newFakeMarket()
	m.errDeposit = domain.ErrConfirmationTimeout
	m.applyDeposit = true
	rep := &recordingReporter{}
	o := newTestOrchestrator(t, m, rep, nil)

	run, err := o.Start(context.Background(), "run-4", "borrow")
	require.NoError(t, err)
	require.Equal(t, borrow.StateDone, run.State)

	var deposit borrow.StepEvent
	for _, ev := range rep.events {
		if ev.Step == borrow.StateDeposited {
			deposit = ev
		}
	}
	require.Equal(t, borrow.StepRecovered, deposit.Status)
	require.Equal(t, 1, countOf(m.Calls(), "deposit"))
}

func TestWrapTimeoutRecoveredFromBalance(t *testing.T) {
	m := newFakeMarket()
	m.errWrap = domain.ErrConfirmationTimeout
	m.applyWrap = true
	o := newTestOrchestrator(t, m, nil, func(c *borrow.Config) { c.WrapOnly = true })

	run, err := o.Start(context.Background(), "run-5", "wrap")
	require.NoError(t, err)
	require.Equal(t, borrow.StateDone, run.State)
	require.Equal(t, "0.02", run.Wrapped.NewBalance.String())
	require.True(t, run.Receipts[0].Recovered)
	require.Equal(t, 1, countOf(m.Calls(), "wrap"))
}

func TestApproveTimeoutRecoveredByReceipt(t *testing.T) {
	m := newFakeMarket()
	m.errApprove = domain.ErrConfirmationTimeout
	m.applyApprove = true
	o := newTestOrchestrator(t, m, nil, func(c *borrow.Config) { c.Repay = false })

	run, err := o.Start(context.Background(), "run-6", "borrow")
	require.NoError(t, err)
	require.Equal(t, borrow.StateDone, run.State)
	require.Equal(t, []string{
		"wrap", "approve:weth", "receipt", "deposit",
		"account", "rate", "borrow", "account",
	}, sequence(t, m))
}

func TestApproveTimeoutWithoutEffectAborts(t *testing.T) {
	m := newFakeMarket()
	m.errApprove = domain.ErrConfirmationTimeout
	o := newTestOrchestrator(t, m, nil, nil)

	_, err := o.Start(context.Background(), "run-7", "borrow")
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
	require.False(t, m.called("deposit"))
}

func TestSecondRunBorrowsAgainstExistingCollateral(t *testing.T) {
	m := newFakeMarket()
	m.collateral.SetInt64(40_00000000) // 0.02 ETH left by an earlier run
	o := newTestOrchestrator(t, m, nil, func(c *borrow.Config) { c.Repay = false })

	run, err := o.Start(context.Background(), "run-13", "borrow")
	require.NoError(t, err)
	require.Equal(t, borrow.StateDone, run.State)
	require.True(t, m.called("borrow"))

	// 80 of collateral at 80% LTV times 0.95, worth more than this run's deposit
	require.Equal(t, "60.8", run.Plan.DebtAmount.String())
	require.Equal(t, "0.0304", run.Plan.NativeValue.String())
}

func TestAccruingPositionRoundTrip(t *testing.T) {
	m := newFakeMarket()
	m.collateral.SetInt64(40_00000000)
	m.debt.SetInt64(10_00000000)
	m.accrual = 3
	o := newTestOrchestrator(t, m, nil, nil)

	run, err := o.Start(context.Background(), "run-14", "borrow")
	require.NoError(t, err)
	require.Equal(t, borrow.StateDone, run.State)

	afterBorrow, ok := run.PositionAt(borrow.StatePositionRead2)
	require.True(t, ok)
	afterRepay, ok := run.PositionAt(borrow.StatePositionRead3)
	require.True(t, ok)
	require.GreaterOrEqual(t, afterRepay.TotalDebtBase.Sign(), 0)
	require.Equal(t, -1, afterRepay.TotalDebtBase.Cmp(afterBorrow.TotalDebtBase))
}

func TestDepositTimeoutOnAccruingPosition(t *testing.T) {
	for _, tc := range []struct {
		name     string
		receipts bool
		landed   bool
	}{
		{"unmined by receipt", true, false},
		{"unmined by balance", false, false},
		{"landed by receipt", true, true},
		{"landed by balance", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newFakeMarket()
			m.collateral.SetInt64(40_00000000)
			m.debt.SetInt64(10_00000000)
			m.accrual = 1
			m.errDeposit = domain.ErrConfirmationTimeout
			m.applyDeposit = tc.landed
			o := buildOrchestrator(t, m, nil, tc.receipts, nil)

			run, err := o.Start(context.Background(), "run-15", "borrow")
			require.Equal(t, 1, countOf(m.Calls(), "deposit"))
			if !tc.landed {
				require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
				require.Equal(t, borrow.StateDeposited, run.FailedStep)
				require.False(t, m.called("borrow"))
				return
			}
			require.NoError(t, err)
			require.True(t, run.Receipts[2].Recovered)
			require.Equal(t, borrow.StateDeposited, run.Receipts[2].Step)
		})
	}
}

func TestBorrowTimeoutOnAccruingPosition(t *testing.T) {
	for _, tc := range []struct {
		name     string
		receipts bool
		landed   bool
	}{
		{"unmined by receipt", true, false},
		{"unmined by position", false, false},
		{"landed by receipt", true, true},
		{"landed by position", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newFakeMarket()
			m.collateral.SetInt64(40_00000000)
			m.debt.SetInt64(10_00000000)
			m.accrual = 1
			m.errBorrow = domain.ErrConfirmationTimeout
			m.applyBorrow = tc.landed
			o := buildOrchestrator(t, m, nil, tc.receipts, nil)

			run, err := o.Start(context.Background(), "run-16", "borrow")
			require.Equal(t, 1, countOf(m.Calls(), "borrow"))
			if !tc.landed {
				require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
				require.Equal(t, borrow.StateBorrowed, run.FailedStep)
				require.False(t, m.called("repay"))
				return
			}
			require.NoError(t, err)
			require.True(t, m.called("repay"))
		})
	}
}

func TestTimeoutThenRevertedReceiptAborts(t *testing.T) {
	m := newFakeMarket()
	m.errDeposit = domain.ErrConfirmationTimeout
	m.errLookup = fmt.Errorf("tx 0x01 in block 7: %w", domain.ErrTransactionReverted)
	o := newTestOrchestrator(t, m, nil, nil)

	_, err := o.Start(context.Background(), "run-17", "borrow")
	require.ErrorIs(t, err, domain.ErrTransactionReverted)
	require.Equal(t, "transaction_reverted", domain.Kind(err))
	require.False(t, m.called("borrow"))
}

func TestUnconfirmedApprovalBlocksDeposit(t *testing.T) {
	m := newFakeMarket()
	m.unconfirmedApprove = true
	o := newTestOrchestrator(t, m, nil, nil)

	run, err := o.Start(context.Background(), "run-8", "borrow")
	require.ErrorIs(t, err, domain.ErrOrderingViolation)
	require.Equal(t, borrow.StateDeposited, run.FailedStep)
	require.False(t, m.called("deposit"))
	require.Equal(t, "ordering_violation", domain.Kind(err))
}

func TestStaleRateStopsBeforeBorrow(t *testing.T) {
	m := newFakeMarket()
	m.errRate = domain.ErrStaleData
	o := newTestOrchestrator(t, m, nil, nil)

	run, err := o.Start(context.Background(), "run-9", "borrow")
	require.ErrorIs(t, err, domain.ErrStaleData)
	require.Equal(t, borrow.StateRateRead, run.FailedStep)
	require.Equal(t, borrow.StatePositionRead1, run.State)
	require.False(t, m.called("borrow"))
}

func TestPrepareFailureSendsNothing(t *testing.T) {
	m := newFakeMarket()
	m.errAccount = domain.ErrReadFailed
	rep := &recordingReporter{}
	o := newTestOrchestrator(t, m, rep, nil)

	run, err := o.Start(context.Background(), "run-10", "borrow")
	require.ErrorIs(t, err, domain.ErrReadFailed)
	require.NotNil(t, run)
	require.True(t, run.Failed)
	require.False(t, m.called("wrap"))
	require.Equal(t, 1, rep.finished)
	require.Equal(t, "start", rep.summary.FailedStep)
	require.Equal(t, "read_failed", rep.summary.ErrorKind)
}

func TestInspectReadsOnly(t *testing.T) {
	m := newFakeMarket()
	rep := &recordingReporter{}
	o := newTestOrchestrator(t, m, rep, nil)

	run, err := o.Inspect(context.Background(), "run-11", "position")
	require.NoError(t, err)
	require.Equal(t, borrow.StateDone, run.State)
	require.Len(t, m.Calls(), 3)
	require.True(t, rep.summary.Succeeded)
	require.Len(t, rep.summary.Positions, 1)
	require.Empty(t, rep.events)
}

func TestExecuteRejectsStartedRun(t *testing.T) {
	m := newFakeMarket()
	o := newTestOrchestrator(t, m, nil, func(c *borrow.Config) { c.WrapOnly = true })

	run, err := o.Prepare(context.Background(), "run-12")
	require.NoError(t, err)
	require.NoError(t, o.Execute(context.Background(), run))
	require.Error(t, o.Execute(context.Background(), run))
	require.Equal(t, 1, countOf(m.Calls(), "wrap"))
}

func TestStepErrorFormat(t *testing.T) {
	err := &borrow.StepError{Step: borrow.StateRepaid, Err: domain.ErrTransactionReverted}
	require.Equal(t, "borrow: step repaid: transaction reverted", err.Error())
	require.ErrorIs(t, err, domain.ErrTransactionReverted)
	require.Equal(t, "State(99)", borrow.State(99).String())
}

func countOf(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}
