package reporter_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"context"

	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/reporter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	delivered, rejected, deadLettered atomic.Int64
}

func (m *countingMetrics) Delivered()    { m.delivered.Add(1) }
func (m *countingMetrics) Rejected()     { m.rejected.Add(1) }
func (m *countingMetrics) DeadLettered() { m.deadLettered.Add(1) }

func testConfig(backendURL, dir string) reporter.Config {
	return reporter.Config{
		BackendURL:          backendURL,
		SpoolPath:           filepath.Join(dir, "spool.ndjson"),
		DeadLetterSpoolPath: filepath.Join(dir, "dead.ndjson"),
		RetryBase:           10 * time.Millisecond,
		RetryCap:            100 * time.Millisecond,
		RetryFactor:         2,
		MaxAttempts:         5,
		SendTimeout:         time.Second,
	}
}

func TestReporter_DeliversOnFirstSuccess(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := &countingMetrics{}
	rep := reporter.New(testConfig(srv.URL, t.TempDir()), clock.New(), nil, metrics)
	rep.Enqueue(model.ViolationReport{EventID: "evt-1"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go rep.Run(ctx)

	require.Eventually(t, func() bool { return metrics.delivered.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 0, rep.PendingCount())
}

func TestReporter_RetriesOnFlapThenDelivers(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := &countingMetrics{}
	rep := reporter.New(testConfig(srv.URL, t.TempDir()), clock.New(), nil, metrics)
	rep.Enqueue(model.ViolationReport{EventID: "evt-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go rep.Run(ctx)

	require.Eventually(t, func() bool { return metrics.delivered.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int64(4))
}

func TestReporter_PermanentRejectDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	metrics := &countingMetrics{}
	rep := reporter.New(testConfig(srv.URL, t.TempDir()), clock.New(), nil, metrics)
	rep.Enqueue(model.ViolationReport{EventID: "evt-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	rep.Run(ctx)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), metrics.rejected.Load())
}

func TestReporter_ShutdownDurability_SpoolSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	metrics := &countingMetrics{}
	cfg := testConfig(srv.URL, dir)
	rep := reporter.New(cfg, clock.New(), nil, metrics)
	for i := 0; i < 5; i++ {
		rep.Enqueue(model.ViolationReport{EventID: "evt"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	go rep.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, rep.Flush())
	srv.Close()

	data, err := os.ReadFile(cfg.SpoolPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv2.Close()

	cfg2 := cfg
	cfg2.BackendURL = srv2.URL
	rep2 := reporter.New(cfg2, clock.New(), nil, metrics)
	warnings := rep2.LoadAndResume()
	require.Empty(t, warnings)
	assert.Equal(t, 5, rep2.PendingCount())

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	go rep2.Run(ctx2)

	require.Eventually(t, func() bool { return rep2.PendingCount() == 0 }, time.Second, 5*time.Millisecond)
}
