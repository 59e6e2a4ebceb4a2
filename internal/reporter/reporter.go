package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/odsyjr2/detection-supervisor/internal/backoff"
	"github.com/odsyjr2/detection-supervisor/internal/clock"
	"github.com/odsyjr2/detection-supervisor/internal/httputil"
	"github.com/odsyjr2/detection-supervisor/internal/model"
	"github.com/odsyjr2/detection-supervisor/internal/telemetry"
)

// Config configures the dispatcher.
type Config struct {
	BackendURL          string
	SpoolPath           string
	DeadLetterSpoolPath string
	RetryBase           time.Duration
	RetryCap            time.Duration
	RetryFactor         float64
	MaxAttempts         int
	SendTimeout         time.Duration
}

// Metrics receives reporter observability events.
type Metrics interface {
	Delivered()
	Rejected()
	DeadLettered()
}

// Reporter is the single-threaded dispatcher. Enqueue is safe to call from
// any goroutine (pipeline workers); the send loop itself runs on one goroutine
// started by Run).
type Reporter struct {
	cfg     Config
	clk     clock.Clock
	log     telemetry.Logger
	client  httputil.HTTPClient
	sched   backoff.Schedule
	metrics Metrics

	mu      sync.Mutex
	records []model.ReporterRecord
	pending chan struct{} // signalled on Enqueue to wake the send loop
}

// New creates a Reporter using a production HTTP client. It does not load
// the spool; call LoadAndResume for that.
func New(cfg Config, clk clock.Clock, log telemetry.Logger, metrics Metrics) *Reporter {
	return NewWithClient(cfg, clk, log, metrics, httputil.NewStandardClient(&http.Client{Timeout: cfg.SendTimeout}))
}

// NewWithClient creates a Reporter against a caller-supplied HTTPClient,
// letting tests substitute httputil.MockHTTPClient.
func NewWithClient(cfg Config, clk clock.Clock, log telemetry.Logger, metrics Metrics, client httputil.HTTPClient) *Reporter {
	if log == nil {
		log = telemetry.New(nil)
	}
	return &Reporter{
		cfg:     cfg,
		clk:     clk,
		log:     log,
		client:  client,
		sched:   backoff.Schedule{Base: cfg.RetryBase, Factor: cfg.RetryFactor, Cap: cfg.RetryCap, JitterFrac: 0.2},
		metrics: metrics,
		pending: make(chan struct{}, 1),
	}
}

// LoadAndResume reads the on-disk spool, reinserting records with their
// original first_failure_at so backoff continues correctly. Returns any
// non-fatal warnings encountered (malformed lines) for the caller to log.
func (r *Reporter) LoadAndResume() []error {
	records, warnings := LoadSpool(r.cfg.SpoolPath)
	r.mu.Lock()
	r.records = append(r.records, records...)
	r.mu.Unlock()
	return warnings
}

// Enqueue adds a ViolationReport for delivery. Submission order within
// one stream_id is preserved absent retries; a retried record may land
// after later records from the same stream.
func (r *Reporter) Enqueue(report model.ViolationReport) {
	r.mu.Lock()
	r.records = append(r.records, model.ReporterRecord{Report: report, FirstFailureAt: time.Time{}})
	r.mu.Unlock()
	r.wake()
}

func (r *Reporter) wake() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
}

// Run drives the send loop until ctx is cancelled. Run itself does not
// flush, since a mid-loop cancellation may interrupt an HTTP call; records
// still pending on return (in-flight or scheduled) stay in memory until
// the caller calls Flush to write them to the spool.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, idx, ok := r.nextDue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-r.pending:
			case <-r.clk.After(200 * time.Millisecond):
			}
			continue
		}

		outcome := r.send(ctx, rec)
		r.applyOutcome(ctx, idx, rec, outcome)
	}
}

type sendOutcome int

const (
	sendDelivered sendOutcome = iota
	sendPermanentReject
	sendRetryable
)

// nextDue returns the earliest record whose NextRetryAt has arrived, along
// with its index for in-place replacement, or ok=false if nothing is due.
func (r *Reporter) nextDue() (model.ReporterRecord, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	bestIdx := -1
	for i, rec := range r.records {
		if rec.NextRetryAt.After(now) {
			continue
		}
		if bestIdx == -1 || rec.NextRetryAt.Before(r.records[bestIdx].NextRetryAt) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return model.ReporterRecord{}, -1, false
	}
	return r.records[bestIdx], bestIdx, true
}

func (r *Reporter) send(ctx context.Context, rec model.ReporterRecord) sendOutcome {
	sctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	body, err := json.Marshal(rec.Report)
	if err != nil {
		return sendPermanentReject
	}

	req, err := http.NewRequestWithContext(sctx, http.MethodPost, r.cfg.BackendURL, bytes.NewReader(body))
	if err != nil {
		return sendPermanentReject
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", rec.Report.CorrelationID)

	resp, err := r.client.Do(req)
	if err != nil {
		return sendRetryable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return sendDelivered
	case resp.StatusCode == 408 || resp.StatusCode == 429 || resp.StatusCode >= 500:
		return sendRetryable
	default:
		return sendPermanentReject
	}
}

func (r *Reporter) applyOutcome(ctx context.Context, idx int, rec model.ReporterRecord, outcome sendOutcome) {
	var deadLetter *model.ReporterRecord
	defer func() {
		// File I/O happens after the lock is released.
		if deadLetter != nil {
			_ = AppendDeadLetter(r.cfg.DeadLetterSpoolPath, *deadLetter)
		}
	}()
	r.mu.Lock()
	defer r.mu.Unlock()

	switch outcome {
	case sendDelivered:
		r.remove(idx)
		if r.metrics != nil {
			r.metrics.Delivered()
		}
	case sendPermanentReject:
		r.remove(idx)
		r.log.WarnCtx(ctx, "report permanently rejected by backend, not retrying",
			"event_id", rec.Report.EventID,
			"stream_id", rec.Report.StreamID,
			"correlation_id", rec.Report.CorrelationID)
		if r.metrics != nil {
			r.metrics.Rejected()
		}
	case sendRetryable:
		now := r.clk.Now()
		if rec.FirstFailureAt.IsZero() {
			rec.FirstFailureAt = now
		}
		rec.AttemptCount++
		if rec.AttemptCount >= r.cfg.MaxAttempts {
			r.remove(idx)
			deadLetter = &rec
			r.log.ErrorCtx(ctx, "report dead-lettered after exhausting retries",
				"event_id", rec.Report.EventID,
				"stream_id", rec.Report.StreamID,
				"correlation_id", rec.Report.CorrelationID,
				"attempts", rec.AttemptCount,
				"first_failure_at", rec.FirstFailureAt)
			if r.metrics != nil {
				r.metrics.DeadLettered()
			}
			return
		}
		rec.NextRetryAt = rec.FirstFailureAt.Add(r.sched.Duration(rec.AttemptCount-1, nil))
		if idx < len(r.records) {
			r.records[idx] = rec
		}
	}
}

// remove deletes the record at idx, preserving relative order of the rest
// (not performance-critical: spool sizes are bounded by backend outage
// duration, not steady-state throughput).
func (r *Reporter) remove(idx int) {
	if idx < 0 || idx >= len(r.records) {
		return
	}
	r.records = append(r.records[:idx], r.records[idx+1:]...)
}

// Flush persists all in-flight and scheduled records to the spool file.
func (r *Reporter) Flush() error {
	r.mu.Lock()
	records := make([]model.ReporterRecord, len(r.records))
	copy(records, r.records)
	r.mu.Unlock()
	if err := SaveSpool(r.cfg.SpoolPath, records); err != nil {
		return fmt.Errorf("reporter: flushing spool: %w", err)
	}
	return nil
}

// PendingCount reports the spool depth, for the health pulse.
func (r *Reporter) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
