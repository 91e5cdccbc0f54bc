// Package genomic orchestrates the genomic sample pipeline: job run
// bookkeeping, manifest ingestion, reconciliation against the object store,
// cohort coupling, outbound manifest compilation, and incident reporting.
package genomic

import (
	"errors"
	"time"

	"genomicore/internal/blob"
	"genomicore/internal/core"
	"genomicore/internal/notify"
	"genomicore/internal/tasks"
	"genomicore/pkg/domain"
)

// ReconcileTarget is one bucket prefix listed into the staging table.
type ReconcileTarget struct {
	Bucket     string
	Prefix     string
	GenomeType domain.GenomeType
}

// Source is the default location scanned by an ingestion job.
type Source struct {
	Bucket    string
	Subfolder string
}

// ResultCounter counts finished runs by kind and result.
type ResultCounter interface {
	CountResult(job, result string)
}

// IncidentCounter counts inserted incidents by code.
type IncidentCounter interface {
	CountIncident(code string)
}

type serviceOptions struct {
	logger            core.Logger
	clock             core.Clock
	metrics           core.MetricsRecorder
	tracer            core.Tracer
	audit             core.AuditRecorder
	alerters          *notify.Alerters
	mailer            notify.Mailer
	dispatcher        tasks.Dispatcher
	results           ResultCounter
	incidents         IncidentCounter
	tables            *ManifestTables
	batchSize         int
	fanOut            bool
	dedupWindow       time.Duration
	severityThreshold int
	watermark         time.Time
	thresholds        Thresholds
	targets           []ReconcileTarget
	missingAfter      time.Duration
	compilerBucket    string
	maxRowsPerFile    int
	siteRecipients    map[string][]string
	ccRecipients      []string
	sources           map[domain.JobKind]Source
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:            core.NoopLogger(),
		clock:             core.SystemClock(),
		metrics:           core.NoopMetrics(),
		tracer:            core.NoopTracer(),
		audit:             core.NoopAudit(),
		mailer:            notify.NoopMailer(),
		batchSize:         100,
		dedupWindow:       7 * 24 * time.Hour,
		severityThreshold: 1,
		watermark:         time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		thresholds:        DefaultThresholds(),
		compilerBucket:    "genomic-manifests",
		maxRowsPerFile:    10000,
		sources:           map[domain.JobKind]Source{},
	}
}

// Option configures a Service.
type Option func(*serviceOptions)

// WithLogger sets the structured logger.
func WithLogger(l core.Logger) Option {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(c core.Clock) Option {
	return func(o *serviceOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(m core.MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer wrapping each job run.
func WithTracer(t core.Tracer) Option {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithAuditRecorder sets the recorder for operator actions.
func WithAuditRecorder(a core.AuditRecorder) Option {
	return func(o *serviceOptions) {
		if a != nil {
			o.audit = a
		}
	}
}

// WithAlerters binds alert namespaces to webhooks.
func WithAlerters(a *notify.Alerters) Option {
	return func(o *serviceOptions) { o.alerters = a }
}

// WithMailer sets the email relay used for site notifications.
func WithMailer(m notify.Mailer) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.mailer = m
		}
	}
}

// WithDispatcher sets the task dispatcher used for follow-on work. The
// default runs tasks in-process against the same Service.
func WithDispatcher(d tasks.Dispatcher) Option {
	return func(o *serviceOptions) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithResultCounter counts finished runs.
func WithResultCounter(c ResultCounter) Option {
	return func(o *serviceOptions) { o.results = c }
}

// WithIncidentCounter counts inserted incidents.
func WithIncidentCounter(c IncidentCounter) Option {
	return func(o *serviceOptions) { o.incidents = c }
}

// WithManifestTables replaces the embedded column mapping tables.
func WithManifestTables(t *ManifestTables) Option {
	return func(o *serviceOptions) { o.tables = t }
}

// WithBatchSize sets the number of rows written per transaction.
func WithBatchSize(n int) Option {
	return func(o *serviceOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithFanOut dispatches one task per discovered file instead of ingesting inline.
func WithFanOut(enabled bool) Option {
	return func(o *serviceOptions) { o.fanOut = enabled }
}

// WithIncidentPolicy sets the dedup window and the result severity above
// which End raises an incident.
func WithIncidentPolicy(window time.Duration, severityThreshold int) Option {
	return func(o *serviceOptions) {
		if window >= 0 {
			o.dedupWindow = window
		}
		o.severityThreshold = severityThreshold
	}
}

// WithDefaultWatermark sets the watermark used before any successful run.
func WithDefaultWatermark(t time.Time) Option {
	return func(o *serviceOptions) { o.watermark = t.UTC() }
}

// WithContaminationThresholds overrides the category thresholds.
func WithContaminationThresholds(t Thresholds) Option {
	return func(o *serviceOptions) { o.thresholds = t }
}

// WithReconcileTargets sets the bucket prefixes listed by ReconcileDataFiles.
func WithReconcileTargets(targets []ReconcileTarget, missingAfter time.Duration) Option {
	return func(o *serviceOptions) {
		o.targets = append([]ReconcileTarget(nil), targets...)
		o.missingAfter = missingAfter
	}
}

// WithCompiler sets the outbound manifest bucket and row cap.
func WithCompiler(bucket string, maxRowsPerFile int) Option {
	return func(o *serviceOptions) {
		if bucket != "" {
			o.compilerBucket = bucket
		}
		if maxRowsPerFile > 0 {
			o.maxRowsPerFile = maxRowsPerFile
		}
	}
}

// WithSiteRecipients sets the per-site email recipients.
func WithSiteRecipients(recipients map[string][]string, cc []string) Option {
	return func(o *serviceOptions) {
		o.siteRecipients = recipients
		o.ccRecipients = cc
	}
}

// WithSources sets the default scan location per ingestion job.
func WithSources(sources map[domain.JobKind]Source) Option {
	return func(o *serviceOptions) {
		for k, v := range sources {
			o.sources[k] = v
		}
	}
}

// Service runs genomic jobs against a persistent store and a blob provider.
type Service struct {
	store     domain.PersistentStore
	blobs     blob.Provider
	opts      serviceOptions
	logger    core.Logger
	clock     core.Clock
	incidents *IncidentRecorder
	jobs      map[domain.JobKind]jobSpec
}

// NewService wires a Service. The embedded manifest tables are validated here.
func NewService(store domain.PersistentStore, blobs blob.Provider, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("genomic: store required")
	}
	if blobs == nil {
		return nil, errors.New("genomic: blob provider required")
	}
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tables == nil {
		tables, err := DefaultManifestTables()
		if err != nil {
			return nil, err
		}
		o.tables = tables
	}
	svc := &Service{
		store:  store,
		blobs:  blobs,
		opts:   o,
		logger: o.logger,
		clock:  o.clock,
	}
	svc.incidents = &IncidentRecorder{
		store:   store,
		clock:   o.clock,
		logger:  o.logger,
		audit:   o.audit,
		window:  o.dedupWindow,
		counter: o.incidents,
	}
	if svc.opts.dispatcher == nil {
		svc.opts.dispatcher = tasks.NewLocalDispatcher(svc)
	}
	svc.jobs = svc.jobTable()
	return svc, nil
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Incidents returns the incident recorder.
func (s *Service) Incidents() *IncidentRecorder { return s.incidents }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }
