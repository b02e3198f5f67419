package metrics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/borrowbot/internal/borrow"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRecorderCountsStepsAndRuns(t *testing.T) {
	r := New("", "borrowbot", "localhost", discard())

	r.StepCompleted(context.Background(), borrow.StepEvent{Step: borrow.StateWrapped, Status: borrow.StepOK, Duration: 2 * time.Second})
	r.StepCompleted(context.Background(), borrow.StepEvent{Step: borrow.StateDeposited, Status: borrow.StepRecovered, Duration: time.Minute})
	r.StepCompleted(context.Background(), borrow.StepEvent{Step: borrow.StateBorrowed, Status: borrow.StepFailed})

	require.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues("wrapped", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues("deposited", "recovered")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.steps.WithLabelValues("borrowed", "failed")))

	finished := time.Unix(1_800_000_000, 0)
	r.RunFinished(context.Background(), borrow.Summary{
		Mode:       "borrow",
		ErrorKind:  "transaction_reverted",
		StartedAt:  finished.Add(-90 * time.Second),
		FinishedAt: finished,
		Plan:       &borrow.PlanSummary{DebtAmount: "30.4"},
	})

	require.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("borrow", "failed", "transaction_reverted")))
	require.Equal(t, 1_800_000_000.0, testutil.ToFloat64(r.lastRun))
	require.Equal(t, 90.0, testutil.ToFloat64(r.runDuration))
	require.InDelta(t, 30.4, testutil.ToFloat64(r.borrowed), 1e-9)
}

func TestRecorderPushes(t *testing.T) {
	var (
		mu     sync.Mutex
		paths  []string
		method string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		paths = append(paths, req.URL.Path)
		method = req.Method
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(srv.URL, "borrowbot", "mainnet", discard())
	r.RunFinished(context.Background(), borrow.Summary{Mode: "wrap", Succeeded: true, FinishedAt: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/metrics/job/borrowbot/network/mainnet"}, paths)
	require.Equal(t, http.MethodPut, method)
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	require.NoError(t, New("", "j", "n", discard()).Push(context.Background()))
}
