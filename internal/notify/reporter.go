package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/borrow"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Console writes one structured log line per transition and one for the
// finished run.
type Console struct {
	logger *slog.Logger
}

func NewConsole(logger *slog.Logger) *Console {
	return &Console{logger: logger.With(slog.String("component", "progress"))}
}

func (c *Console) StepCompleted(ctx context.Context, ev borrow.StepEvent) {
	attrs := []slog.Attr{
		slog.String("run_id", ev.RunID),
		slog.String("step", ev.Step.String()),
		slog.String("status", string(ev.Status)),
		slog.Duration("took", ev.Duration),
	}
	if ev.TxHash != (common.Hash{}) {
		attrs = append(attrs, slog.String("tx", ev.TxHash.Hex()))
	}
	for k, v := range ev.Detail {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch ev.Status {
	case borrow.StepFailed:
		attrs = append(attrs,
			slog.String("error_kind", domain.Kind(ev.Err)),
			slog.String("error", errString(ev.Err)),
		)
		c.logger.LogAttrs(ctx, slog.LevelError, "step failed", attrs...)
	case borrow.StepRecovered:
		c.logger.LogAttrs(ctx, slog.LevelWarn, "step recovered after confirmation timeout", attrs...)
	default:
		c.logger.LogAttrs(ctx, slog.LevelInfo, "step done", attrs...)
	}
}

func (c *Console) RunFinished(ctx context.Context, s borrow.Summary) {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.String("network", s.Network),
		slog.String("account", s.Account),
		slog.String("mode", s.Mode),
		slog.String("reached", s.Reached),
		slog.Duration("took", s.FinishedAt.Sub(s.StartedAt)),
	}
	if s.Plan != nil {
		attrs = append(attrs,
			slog.String("borrowed", s.Plan.DebtAmount),
			slog.String("borrowed_native", s.Plan.NativeValue),
		)
	}
	if n := len(s.Positions); n > 0 {
		last := s.Positions[n-1]
		attrs = append(attrs,
			slog.String("collateral", last.Collateral),
			slog.String("debt", last.Debt),
			slog.String("available", last.Available),
		)
	}
	if !s.Succeeded {
		attrs = append(attrs,
			slog.String("failed_step", s.FailedStep),
			slog.String("error_kind", s.ErrorKind),
			slog.String("error", s.Error),
		)
		c.logger.LogAttrs(ctx, slog.LevelError, "run failed", attrs...)
		return
	}
	c.logger.LogAttrs(ctx, slog.LevelInfo, "run finished", attrs...)
}

// Alerts turns run outcomes into operator notifications.
type Alerts struct {
	notifier *Notifier
}

func NewAlerts(n *Notifier) *Alerts {
	return &Alerts{notifier: n}
}

func (a *Alerts) StepCompleted(ctx context.Context, ev borrow.StepEvent) {
	if ev.Status != borrow.StepRecovered {
		return
	}
	msg := fmt.Sprintf("run %s: %s timed out waiting for confirmation but landed on chain (tx %s)",
		ev.RunID, ev.Step, ev.TxHash.Hex())
	_ = a.notifier.Notify(ctx, EventStepRecovered, "borrowbot: step recovered", msg)
}

func (a *Alerts) RunFinished(ctx context.Context, s borrow.Summary) {
	if s.Succeeded {
		_ = a.notifier.Notify(ctx, EventRunSucceeded, "borrowbot: run succeeded", FormatSummary(s))
		return
	}
	_ = a.notifier.Notify(ctx, EventRunFailed, "borrowbot: run failed", FormatSummary(s))
}

// FormatSummary renders s as a short plain-text message.
func FormatSummary(s borrow.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s on %s)\n", s.RunID, s.Mode, s.Network)
	fmt.Fprintf(&b, "account %s\n", s.Account)
	if s.Succeeded {
		fmt.Fprintf(&b, "reached %s\n", s.Reached)
	} else {
		fmt.Fprintf(&b, "failed at %s: %s (%s)\n", s.FailedStep, s.ErrorKind, s.Error)
	}
	if s.Plan != nil {
		fmt.Fprintf(&b, "borrow %s (%s native at rate %s)\n", s.Plan.DebtAmount, s.Plan.NativeValue, s.Plan.Rate)
	}
	if n := len(s.Positions); n > 0 {
		p := s.Positions[n-1]
		fmt.Fprintf(&b, "collateral %s, debt %s, available %s\n", p.Collateral, p.Debt, p.Available)
	}
	for _, tx := range s.Transactions {
		fmt.Fprintf(&b, "%s %s\n", tx.Step, tx.Hash)
	}
	return strings.TrimRight(b.String(), "\n")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
