package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"genomicore/internal/blob"
	"genomicore/internal/config"
	"genomicore/internal/core"
	"genomicore/internal/genomic"
	"genomicore/internal/notify"
	"genomicore/internal/observability"
	"genomicore/internal/tasks"
	"genomicore/pkg/domain"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg     config.Config
	logger  *observability.ZerologLogger
	store   core.PersistentStore
	blobs   blob.Provider
	metrics *observability.PrometheusRecorder
	svc     *genomic.Service
	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger, err := observability.NewLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	storage := cfg.Storage
	storage.Logger = logger.With("component", "store")
	store, err := core.OpenPersistentStore(ctx, storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, func(context.Context) error { return c.Close() })
	}

	a.blobs, err = blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	a.metrics, err = observability.NewPrometheusRecorder(prometheus.NewRegistry())
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	tp, shutdown, err := observability.SetupTracing(cfg.Tracing, logOut, "genomicore")
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	clientOpts := notify.ClientOptions{Logger: logger}
	opts := []genomic.Option{
		genomic.WithLogger(logger),
		genomic.WithMetricsRecorder(a.metrics),
		genomic.WithResultCounter(a.metrics),
		genomic.WithIncidentCounter(a.metrics),
		genomic.WithTracer(observability.NewOtelTracer(tp)),
		genomic.WithAuditRecorder(core.LoggingAuditRecorder{Logger: logger.With("component", "audit")}),
		genomic.WithAlerters(notify.NewAlerters(cfg.Alerts, clientOpts)),
		genomic.WithBatchSize(cfg.Ingestion.BatchSize),
		genomic.WithFanOut(cfg.Ingestion.FanOut),
		genomic.WithIncidentPolicy(cfg.Incidents.DedupWindow, cfg.Incidents.SeverityThreshold),
		genomic.WithDefaultWatermark(cfg.Watermark),
		genomic.WithContaminationThresholds(genomic.Thresholds{
			NoExtractMax:  cfg.Contamination.NoExtractMax,
			ExtractWGSMax: cfg.Contamination.ExtractWGSMax,
		}),
		genomic.WithReconcileTargets(reconcileTargets(cfg.Reconcile.Targets), cfg.Reconcile.MissingAfter),
		genomic.WithCompiler(cfg.Compiler.Bucket, cfg.Compiler.MaxRowsPerFile),
		genomic.WithSiteRecipients(cfg.Email.SiteRecipients, cfg.Email.CCRecipients),
		genomic.WithSources(sources(cfg.Sources)),
	}
	if cfg.Email.RelayURL != "" {
		opts = append(opts, genomic.WithMailer(notify.NewRelay(cfg.Email.RelayURL, clientOpts)))
	}
	if cfg.Tasks.BaseURL != "" {
		opts = append(opts, genomic.WithDispatcher(tasks.NewHTTPDispatcher(cfg.Tasks.BaseURL, cfg.Tasks.Queue, clientOpts)))
	}
	a.svc, err = genomic.NewService(store, a.blobs, opts...)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Close releases the store and flushes tracing, in reverse order of setup.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func reconcileTargets(in []config.ReconcileTarget) []genomic.ReconcileTarget {
	out := make([]genomic.ReconcileTarget, len(in))
	for i, t := range in {
		out[i] = genomic.ReconcileTarget{Bucket: t.Bucket, Prefix: t.Prefix, GenomeType: t.GenomeType}
	}
	return out
}

func sources(in map[domain.JobKind]config.Source) map[domain.JobKind]genomic.Source {
	out := make(map[domain.JobKind]genomic.Source, len(in))
	for k, s := range in {
		out[k] = genomic.Source{Bucket: s.Bucket, Subfolder: s.Subfolder}
	}
	return out
}
