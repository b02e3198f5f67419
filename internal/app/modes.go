package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/borrowbot/internal/borrow"
	"github.com/alanyoungcy/borrowbot/internal/domain"
	"github.com/alanyoungcy/borrowbot/internal/notify"
	"github.com/alanyoungcy/borrowbot/internal/units"
)

// Operating modes.
const (
	ModeWrap     = "wrap"
	ModePosition = "position"
	ModeBorrow   = "borrow"
)

// WrapMode wraps the configured amount and reports the new token balance.
func (a *App) WrapMode(ctx context.Context, deps *Dependencies) error {
	return a.runSequence(ctx, deps, ModeWrap)
}

// PositionMode reports the account's current position without sending
// anything.
func (a *App) PositionMode(ctx context.Context, deps *Dependencies) error {
	return a.runSequence(ctx, deps, ModePosition)
}

// BorrowMode runs the full wrap, deposit, borrow and optional repay sequence.
func (a *App) BorrowMode(ctx context.Context, deps *Dependencies) error {
	return a.runSequence(ctx, deps, ModeBorrow)
}

func (a *App) runSequence(ctx context.Context, deps *Dependencies, mode string) error {
	runID := uuid.NewString()
	account := deps.Account.Hex()
	logger := a.logger.With(slog.String("run_id", runID), slog.String("mode", mode))

	// position reads only, so it may overlap a running sequence
	if deps.Locks != nil && mode != ModePosition {
		release, err := deps.Locks.AcquireRun(ctx, deps.Addresses.Name, account, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			a.audit(ctx, deps, "run_rejected", map[string]any{
				"run_id":     runID,
				"network":    deps.Addresses.Name,
				"account":    account,
				"mode":       mode,
				"error_kind": domain.Kind(err),
			})
			return fmt.Errorf("app: acquire run lock: %w", err)
		}
		defer release()
	}

	cfg, err := a.runConfig(ctx, deps, mode)
	if err != nil {
		return err
	}

	reporters := borrow.Reporters{notify.NewConsole(a.logger)}
	if deps.Metrics != nil {
		reporters = append(reporters, deps.Metrics)
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		reporters = append(reporters, notify.NewAlerts(deps.Notifier))
	}
	var j *journal
	if deps.Journal != nil {
		j = newJournal(deps.Journal, a.logger)
		reporters = append(reporters, j)
	}
	if deps.Reports != nil {
		reporters = append(reporters, newArchive(deps.Reports, a.logger))
	}

	orch, err := borrow.New(borrow.Deps{
		Wrapper:  deps.Wrapper,
		Approver: deps.Approver,
		Pool:     deps.Pool,
		Oracle:   deps.Oracle,
		Receipts: deps.Receipts,
		Reporter: reporters,
	}, deps.Addresses, deps.Account, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	steps := make([]string, 0, len(orch.Steps()))
	for _, s := range orch.Steps() {
		steps = append(steps, s.String())
	}
	logger.InfoContext(ctx, "run starting",
		slog.String("network", deps.Addresses.Name),
		slog.String("account", account),
		slog.String("wrap_amount", cfg.WrapAmount.String()),
		slog.String("safety_factor", cfg.SafetyFactor.String()),
		slog.Any("steps", steps),
	)

	if j != nil {
		j.begin(ctx, domain.RunRecord{
			ID:        runID,
			Network:   deps.Addresses.Name,
			Account:   account,
			Mode:      mode,
			StartedAt: time.Now().UTC(),
		})
	}

	if mode == ModePosition {
		_, err = orch.Inspect(ctx, runID, mode)
	} else {
		_, err = orch.Start(ctx, runID, mode)
	}
	if err != nil {
		detail := map[string]any{
			"run_id":     runID,
			"network":    deps.Addresses.Name,
			"account":    account,
			"mode":       mode,
			"error_kind": domain.Kind(err),
			"error":      err.Error(),
		}
		var stepErr *borrow.StepError
		if errors.As(err, &stepErr) {
			detail["step"] = stepErr.Step.String()
		}
		a.audit(ctx, deps, "run_failed", detail)
		return fmt.Errorf("app: %s run %s: %w", mode, runID, err)
	}
	return nil
}

// runConfig turns the textual borrow settings into a borrow.Config. The wrap
// amount takes the wrapped token's on-chain precision.
func (a *App) runConfig(ctx context.Context, deps *Dependencies, mode string) (borrow.Config, error) {
	wrap, err := units.Parse(a.cfg.Borrow.WrapAmount)
	if err != nil {
		return borrow.Config{}, fmt.Errorf("app: wrap_amount: %w", err)
	}
	safety, err := units.Parse(a.cfg.Borrow.SafetyFactor)
	if err != nil {
		return borrow.Config{}, fmt.Errorf("app: safety_factor: %w", err)
	}
	decimals, err := deps.Approver.Decimals(ctx, deps.Addresses.WrappedNative)
	if err != nil {
		return borrow.Config{}, fmt.Errorf("app: wrapped token decimals: %w", err)
	}
	amount, err := units.ToAmount(wrap, decimals)
	if err != nil {
		return borrow.Config{}, fmt.Errorf("app: wrap_amount: %w", err)
	}
	if amount.IsZero() {
		return borrow.Config{}, fmt.Errorf("app: wrap_amount %s: %w: below one base unit", wrap, domain.ErrInvalidAmount)
	}

	return borrow.Config{
		WrapAmount:   amount,
		SafetyFactor: safety,
		ApproveDebt:  a.cfg.Borrow.ApproveDebt,
		Repay:        a.cfg.Borrow.Repay,
		WrapOnly:     mode == ModeWrap,
	}, nil
}

func (a *App) audit(ctx context.Context, deps *Dependencies, event string, detail map[string]any) {
	if deps.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := deps.Audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
