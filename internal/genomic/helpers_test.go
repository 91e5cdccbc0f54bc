package genomic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"genomicore/internal/blob"
	"genomicore/internal/core"
	"genomicore/internal/infra/persistence/memory"
	"genomicore/internal/notify"
	"genomicore/internal/tasks"
	"genomicore/pkg/domain"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Debug(msg string, args ...any) { c.add("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.add("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.add("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.add("error", msg, args) }

func (c *captureLogger) add(level, msg string, args []any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (c *captureLogger) contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

type captureMailer struct {
	sent []notify.Email
	err  error
}

func (m *captureMailer) Send(_ context.Context, e notify.Email) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

// webhookSink records alert texts posted to it.
type webhookSink struct {
	mu     sync.Mutex
	texts  []string
	status int
}

func newWebhookSink(t *testing.T) (*webhookSink, string) {
	t.Helper()
	sink := &webhookSink{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sink.mu.Lock()
		sink.texts = append(sink.texts, body.Text)
		status := sink.status
		sink.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return sink, srv.URL
}

func (s *webhookSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	blobs  blob.Provider
	clock  *stubClock
	logger *captureLogger
	mailer *captureMailer
}

const (
	inboxBucket = "genomic-inbox"
	dataBucket  = "prod-genomics-data-baylor"
)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := &stubClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	fx := &fixture{
		store:  memory.NewStore(core.NewDefaultRulesEngine(), memory.WithNowFunc(clock.Now)),
		blobs:  blob.NewMemory(),
		clock:  clock,
		logger: &captureLogger{},
		mailer: &captureMailer{},
	}
	base := []Option{WithClock(clock), WithLogger(fx.logger), WithMailer(fx.mailer)}
	svc, err := NewService(fx.store, fx.blobs, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fx.svc = svc
	return fx
}

func (fx *fixture) begin(t *testing.T, kind domain.JobKind) *RunHandle {
	t.Helper()
	h, err := fx.svc.Begin(context.Background(), kind)
	if err != nil {
		t.Fatalf("begin %s: %v", kind, err)
	}
	return h
}

func (fx *fixture) put(t *testing.T, bucket, key, content string) {
	t.Helper()
	st, err := fx.blobs.Bucket(context.Background(), bucket)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if _, err := st.Put(context.Background(), key, strings.NewReader(content), blob.PutOptions{}); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

// setBlobClock pins LastModified for objects written to bucket afterwards.
func (fx *fixture) setBlobClock(t *testing.T, bucket string, at time.Time) {
	t.Helper()
	st, err := fx.blobs.Bucket(context.Background(), bucket)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	clocked, ok := st.(interface{ SetNow(func() time.Time) })
	if !ok {
		t.Fatalf("bucket %s has no settable clock", bucket)
	}
	clocked.SetNow(func() time.Time { return at })
}

// seed creates one sample set holding the given members.
func (fx *fixture) seed(t *testing.T, members ...domain.SampleMember) []domain.SampleMember {
	t.Helper()
	var out []domain.SampleMember
	_, err := fx.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		set, err := tx.CreateSampleSet(domain.SampleSet{Criteria: "test", Version: 1})
		if err != nil {
			return err
		}
		for _, m := range members {
			m.SampleSetID = set.ID
			created, err := tx.CreateSampleMember(m)
			if err != nil {
				return err
			}
			out = append(out, created)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return out
}

func (fx *fixture) member(t *testing.T, id string) domain.SampleMember {
	t.Helper()
	var m domain.SampleMember
	err := fx.store.View(context.Background(), func(v domain.TransactionView) error {
		var ok bool
		m, ok = v.FindSampleMember(id)
		if !ok {
			return fmt.Errorf("member %s missing", id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("%v", err)
	}
	return m
}

func (fx *fixture) view(t *testing.T, fn func(v domain.TransactionView)) {
	t.Helper()
	if err := fx.store.View(context.Background(), func(v domain.TransactionView) error {
		fn(v)
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func (fx *fixture) incidents(t *testing.T) []domain.Incident {
	t.Helper()
	var out []domain.Incident
	fx.view(t, func(v domain.TransactionView) { out = v.ListIncidents() })
	return out
}

func wgsMember(tube, sample string, state domain.GenomicState) domain.SampleMember {
	return domain.SampleMember{
		BiobankID:        "A" + tube,
		CollectionTubeID: tube,
		SampleID:         sample,
		GenomeType:       domain.GenomeWGS,
		State:            state,
	}
}

func arrayMember(tube, sample string, state domain.GenomicState) domain.SampleMember {
	m := wgsMember(tube, sample, state)
	m.GenomeType = domain.GenomeArray
	return m
}

// recordingDispatcher records dispatched tasks without running them.
func recordingDispatcher() *tasks.LocalDispatcher { return tasks.NewLocalDispatcher(nil) }
