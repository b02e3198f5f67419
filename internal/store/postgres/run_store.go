package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// RunStore implements domain.RunJournal using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

var _ domain.RunJournal = (*RunStore)(nil)

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// CreateRun inserts the run row. A second insert with the same id fails.
func (s *RunStore) CreateRun(ctx context.Context, run domain.RunRecord) error {
	const query = `
		INSERT INTO runs (id, network, account, mode, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Network, run.Account, run.Mode, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final status of a run.
func (s *RunStore) FinishRun(ctx context.Context, run domain.RunRecord) error {
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	const query = `
		UPDATE runs
		SET status = $2, failed_step = $3, error_kind = $4, error = $5, finished_at = $6
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		run.ID, string(run.Status), run.FailedStep, run.ErrorKind, run.Error, finished,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, pgx.ErrNoRows)
	}
	return nil
}

// RecordStep appends one transition to a run.
func (s *RunStore) RecordStep(ctx context.Context, step domain.StepRecord) error {
	var detail []byte
	if step.Detail != nil {
		var err error
		if detail, err = json.Marshal(step.Detail); err != nil {
			return fmt.Errorf("postgres: marshal step detail: %w", err)
		}
	}
	recorded := step.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now().UTC()
	}
	const query = `
		INSERT INTO run_steps (run_id, step, status, tx_hash, detail, duration_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		step.RunID, step.Step, step.Status, step.TxHash, detail, step.Duration.Milliseconds(), recorded,
	)
	if err != nil {
		return fmt.Errorf("postgres: record step %s/%s: %w", step.RunID, step.Step, err)
	}
	return nil
}

// ListSteps returns a run's transitions in the order they were recorded.
func (s *RunStore) ListSteps(ctx context.Context, runID string) ([]domain.StepRecord, error) {
	const query = `
		SELECT run_id, step, status, tx_hash, detail, duration_ms, recorded_at
		FROM run_steps WHERE run_id = $1 ORDER BY id`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list steps %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.StepRecord
	for rows.Next() {
		var (
			rec        domain.StepRecord
			detailJSON []byte
			durationMS int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Step, &rec.Status, &rec.TxHash, &detailJSON, &durationMS, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan step: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &rec.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal step detail: %w", err)
			}
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list steps rows: %w", err)
	}
	return out, nil
}
