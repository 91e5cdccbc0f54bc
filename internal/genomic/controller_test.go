package genomic

import (
	"context"
	"sync"
	"testing"
	"time"

	"genomicore/internal/notify"
	"genomicore/pkg/domain"
)

type resultCounterStub struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *resultCounterStub) CountResult(job, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[job+"/"+result]++
}

type metricsStub struct {
	ops []string
	ok  []bool
}

func (m *metricsStub) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	m.ops = append(m.ops, op)
	m.ok = append(m.ok, success)
}

func TestBeginUsesDefaultWatermarkThenLastSuccess(t *testing.T) {
	floor := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, WithDefaultWatermark(floor))
	ctx := context.Background()

	h := fx.begin(t, domain.JobMetricsIngestion)
	if !h.Watermark.Equal(floor) {
		t.Fatalf("expected default watermark, got %s", h.Watermark)
	}
	if h.Run.Status != domain.JobRunning || h.Run.Result != domain.ResultUnset {
		t.Fatalf("unexpected opened run %+v", h.Run)
	}
	fx.clock.Advance(time.Hour)
	if err := fx.svc.End(ctx, h, domain.ResultSuccess); err != nil {
		t.Fatalf("end: %v", err)
	}
	firstEnd := fx.clock.Now()

	fx.clock.Advance(time.Hour)
	failed := fx.begin(t, domain.JobMetricsIngestion)
	if !failed.Watermark.Equal(firstEnd) {
		t.Fatalf("expected watermark %s, got %s", firstEnd, failed.Watermark)
	}
	fx.clock.Advance(time.Hour)
	if err := fx.svc.End(ctx, failed, domain.ResultError); err != nil {
		t.Fatalf("end failed run: %v", err)
	}

	next := fx.begin(t, domain.JobMetricsIngestion)
	if !next.Watermark.Equal(firstEnd) {
		t.Fatalf("failed runs must not move the watermark, got %s", next.Watermark)
	}
	other := fx.begin(t, domain.JobAW1Ingestion)
	if !other.Watermark.Equal(floor) {
		t.Fatalf("watermark is per job kind, got %s", other.Watermark)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	results := &resultCounterStub{}
	metrics := &metricsStub{}
	fx := newFixture(t, WithResultCounter(results), WithMetricsRecorder(metrics))
	ctx := context.Background()
	h := fx.begin(t, domain.JobReconcileDataFiles)
	if h.Ended() {
		t.Fatalf("fresh handle reports ended")
	}
	if err := fx.svc.End(ctx, h, domain.ResultSuccess); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := fx.svc.End(ctx, h, domain.ResultError); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if err := fx.svc.Abort(ctx, h, nil); err != nil {
		t.Fatalf("abort after end: %v", err)
	}
	if !h.Ended() || h.Run.Result != domain.ResultSuccess || h.Run.Status != domain.JobCompleted || h.Run.EndTime == nil {
		t.Fatalf("unexpected run %+v", h.Run)
	}
	if results.counts["reconcile_data_file_index/SUCCESS"] != 1 || len(results.counts) != 1 {
		t.Fatalf("unexpected result counts %v", results.counts)
	}
	if len(metrics.ops) != 1 || metrics.ops[0] != "job.reconcile_data_file_index" || !metrics.ok[0] {
		t.Fatalf("unexpected metrics %v %v", metrics.ops, metrics.ok)
	}
	if len(fx.incidents(t)) != 0 {
		t.Fatalf("successful run must not raise incidents")
	}
	if err := fx.svc.End(ctx, nil, domain.ResultSuccess); err == nil {
		t.Fatalf("expected nil handle error")
	}
}

func TestEndRaisesIncidentAboveThreshold(t *testing.T) {
	sink, url := newWebhookSink(t)
	alerters := notify.NewAlerters(map[string]string{ingestionNamespace: url}, notify.ClientOptions{RetryMax: 1})
	fx := newFixture(t, WithAlerters(alerters))
	ctx := context.Background()

	h := fx.begin(t, domain.JobAW1Ingestion)
	if err := fx.svc.End(ctx, h, domain.ResultInvalidFileName); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(fx.incidents(t)) != 0 {
		t.Fatalf("severity at the threshold must not raise an incident")
	}

	h = fx.begin(t, domain.JobAW1Ingestion)
	if err := fx.svc.End(ctx, h, domain.ResultError); err != nil {
		t.Fatalf("end: %v", err)
	}
	incs := fx.incidents(t)
	if len(incs) != 1 {
		t.Fatalf("expected one incident, got %d", len(incs))
	}
	inc := incs[0]
	if inc.Code != domain.IncidentUnknown || inc.JobRunID != h.Run.ID || inc.Message != "ingest_aw1_manifest finished with ERROR" {
		t.Fatalf("unexpected incident %+v", inc)
	}
	if !inc.Notified || inc.NotifiedAt == nil {
		t.Fatalf("expected incident to be marked notified")
	}
	if sink.count() != 1 || sink.texts[0] != inc.Message {
		t.Fatalf("unexpected alerts %v", sink.texts)
	}

	h = fx.begin(t, domain.JobAW1Ingestion)
	if err := fx.svc.End(ctx, h, domain.ResultError); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(fx.incidents(t)) != 1 || sink.count() != 1 {
		t.Fatalf("repeated failure inside the window must be suppressed")
	}
}

func TestAbortMarksRunAborted(t *testing.T) {
	results := &resultCounterStub{}
	fx := newFixture(t, WithResultCounter(results))
	ctx := context.Background()
	h := fx.begin(t, domain.JobW1Manifest)
	if err := fx.svc.Abort(ctx, h, context.Canceled); err != nil {
		t.Fatalf("abort: %v", err)
	}
	var run domain.JobRun
	fx.view(t, func(v domain.TransactionView) { run, _ = v.FindJobRun(h.Run.ID) })
	if run.Status != domain.JobAborted || run.Result != domain.ResultError || run.EndTime == nil {
		t.Fatalf("unexpected aborted run %+v", run)
	}
	if results.counts["w1_manifest/ERROR"] != 1 {
		t.Fatalf("abort not counted: %v", results.counts)
	}
	if !fx.logger.contains("job run aborted") {
		t.Fatalf("expected abort to be logged")
	}
	if _, err := fx.svc.Begin(ctx, ""); err == nil {
		t.Fatalf("expected empty kind error")
	}
}
