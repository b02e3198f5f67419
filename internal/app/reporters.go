package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/borrowbot/internal/blob/s3"
	"github.com/alanyoungcy/borrowbot/internal/borrow"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// journal persists each transition of a run. Write failures are logged and
// never abort the run: the chain is the source of truth.
type journal struct {
	store  domain.RunJournal
	logger *slog.Logger

	mu      sync.Mutex
	created bool
}

func newJournal(store domain.RunJournal, logger *slog.Logger) *journal {
	return &journal{store: store, logger: logger.With(slog.String("component", "journal"))}
}

// begin inserts the run row. Steps are only recorded once it exists.
func (j *journal) begin(ctx context.Context, rec domain.RunRecord) {
	rec.Status = domain.RunStatusRunning
	if err := j.store.CreateRun(ctx, rec); err != nil {
		j.logger.WarnContext(ctx, "journal disabled for run",
			slog.String("run_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	j.mu.Lock()
	j.created = true
	j.mu.Unlock()
}

func (j *journal) active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.created
}

func (j *journal) StepCompleted(ctx context.Context, ev borrow.StepEvent) {
	if !j.active() {
		return
	}
	rec := domain.StepRecord{
		RunID:      ev.RunID,
		Step:       ev.Step.String(),
		Status:     string(ev.Status),
		Detail:     ev.Detail,
		Duration:   ev.Duration,
		RecordedAt: time.Now().UTC(),
	}
	if ev.TxHash != (common.Hash{}) {
		rec.TxHash = ev.TxHash.Hex()
	}
	if ev.Err != nil {
		if rec.Detail == nil {
			rec.Detail = map[string]any{}
		}
		rec.Detail["error"] = ev.Err.Error()
	}
	if err := j.store.RecordStep(ctx, rec); err != nil {
		j.logger.WarnContext(ctx, "record step failed",
			slog.String("run_id", ev.RunID),
			slog.String("step", rec.Step),
			slog.String("error", err.Error()),
		)
	}
}

func (j *journal) RunFinished(ctx context.Context, s borrow.Summary) {
	if !j.active() {
		return
	}
	finished := s.FinishedAt.UTC()
	rec := domain.RunRecord{
		ID:         s.RunID,
		Network:    s.Network,
		Account:    s.Account,
		Mode:       s.Mode,
		Status:     domain.RunStatusSucceeded,
		FailedStep: s.FailedStep,
		ErrorKind:  s.ErrorKind,
		Error:      s.Error,
		StartedAt:  s.StartedAt,
		FinishedAt: &finished,
	}
	if !s.Succeeded {
		rec.Status = domain.RunStatusFailed
	}
	// the run context may be cancelled by now
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := j.store.FinishRun(ctx, rec); err != nil {
		j.logger.WarnContext(ctx, "finish run failed",
			slog.String("run_id", s.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// archive uploads the final summary as JSON.
type archive struct {
	blobs  domain.BlobWriter
	logger *slog.Logger
}

func newArchive(blobs domain.BlobWriter, logger *slog.Logger) *archive {
	return &archive{blobs: blobs, logger: logger.With(slog.String("component", "archive"))}
}

func (a *archive) StepCompleted(context.Context, borrow.StepEvent) {}

func (a *archive) RunFinished(ctx context.Context, s borrow.Summary) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		a.logger.ErrorContext(ctx, "marshal summary", slog.String("error", err.Error()))
		return
	}
	key := s3blob.ReportKey(s.Network, s.RunID, s.StartedAt)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := a.blobs.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		a.logger.WarnContext(ctx, "report upload failed",
			slog.String("run_id", s.RunID),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "report uploaded", slog.String("run_id", s.RunID), slog.String("key", key))
}
