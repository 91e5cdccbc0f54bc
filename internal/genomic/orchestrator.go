package genomic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"genomicore/internal/tasks"
	"genomicore/pkg/domain"
)

// Alert namespaces resolved through the alerts configuration.
const (
	defaultNamespace        = "genomic"
	ingestionNamespace      = "genomic_ingestions"
	reconciliationNamespace = "genomic_reconciliation"
	manifestNamespace       = "genomic_manifests"
)

// JobRequest carries the inputs of one job. Fields a job does not use are
// ignored.
type JobRequest struct {
	Kind      domain.JobKind
	File      FileRef
	Genome    domain.GenomeType
	Path      string
	MemberIDs []string
	Field     string
	Value     any
	Criteria  Criteria
}

type jobFunc func(ctx context.Context, h *RunHandle, req JobRequest) (SubProcessResult, error)

type jobSpec struct {
	namespace string
	run       jobFunc
}

func (s *Service) jobTable() map[domain.JobKind]jobSpec {
	ingest := jobSpec{namespace: ingestionNamespace, run: func(ctx context.Context, h *RunHandle, req JobRequest) (SubProcessResult, error) {
		return s.Ingest(ctx, h, req.File)
	}}
	compile := func(mt domain.ManifestType, genome domain.GenomeType) jobSpec {
		return jobSpec{namespace: manifestNamespace, run: func(ctx context.Context, h *RunHandle, req JobRequest) (SubProcessResult, error) {
			g := genome
			if g == "" {
				g = req.Genome
			}
			return s.Compile(ctx, h, mt, g)
		}}
	}
	reconcile := func(genome domain.GenomeType) jobSpec {
		return jobSpec{namespace: reconciliationNamespace, run: func(ctx context.Context, h *RunHandle, _ JobRequest) (SubProcessResult, error) {
			return s.ReconcileMetrics(ctx, h, genome)
		}}
	}
	return map[domain.JobKind]jobSpec{
		domain.JobBiobankLoad: {namespace: ingestionNamespace, run: func(ctx context.Context, h *RunHandle, req JobRequest) (SubProcessResult, error) {
			return s.LoadBiobankSamples(ctx, h, req.File)
		}},
		domain.JobCreateSampleSet: {namespace: manifestNamespace, run: func(ctx context.Context, h *RunHandle, req JobRequest) (SubProcessResult, error) {
			return s.CreateSampleSet(ctx, h, req.Criteria)
		}},
		domain.JobAW1Ingestion:       ingest,
		domain.JobAW1FIngestion:      ingest,
		domain.JobMetricsIngestion:   ingest,
		domain.JobA2Ingestion:        ingest,
		domain.JobW2Ingestion:        ingest,
		domain.JobAW0Manifest:        compile(domain.ManifestAW0, ""),
		domain.JobA1Manifest:         compile(domain.ManifestA1, domain.GenomeArray),
		domain.JobW1Manifest:         compile(domain.ManifestW1, domain.GenomeWGS),
		domain.JobW3Manifest:         compile(domain.ManifestW3, domain.GenomeWGS),
		domain.JobAW3ArrayManifest:   compile(domain.ManifestAW3, domain.GenomeArray),
		domain.JobAW3WGSManifest:     compile(domain.ManifestAW3, domain.GenomeWGS),
		domain.JobAW2FManifest:       compile(domain.ManifestAW2F, ""),
		domain.JobReconcileArrayData: reconcile(domain.GenomeArray),
		domain.JobReconcileWGSData:   reconcile(domain.GenomeWGS),
		domain.JobReconcileDataFiles: {namespace: reconciliationNamespace, run: func(ctx context.Context, h *RunHandle, _ JobRequest) (SubProcessResult, error) {
			return s.ReconcileDataFiles(ctx, h)
		}},
		domain.JobFeedbackReconcile: {namespace: reconciliationNamespace, run: func(ctx context.Context, h *RunHandle, _ JobRequest) (SubProcessResult, error) {
			return s.ReconcileFeedback(ctx, h)
		}},
		domain.JobCalculateRecordCount: {namespace: ingestionNamespace, run: func(ctx context.Context, h *RunHandle, req JobRequest) (SubProcessResult, error) {
			p := req.Path
			if p == "" && req.File.Key != "" {
				p = joinPath(req.File.Bucket, req.File.Key)
			}
			return s.CalculateRecordCount(ctx, h, p)
		}},
		domain.JobUpdateMembers: {namespace: defaultNamespace, run: func(ctx context.Context, h *RunHandle, req JobRequest) (SubProcessResult, error) {
			return s.UpdateMembers(ctx, h, req.MemberIDs, req.Field, req.Value)
		}},
	}
}

// Jobs returns every dispatchable job kind, sorted.
func (s *Service) Jobs() []domain.JobKind {
	out := make([]domain.JobKind, 0, len(s.jobs))
	for k := range s.jobs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run executes one job inside its own job run. End always runs, including
// after a panic in the job, which is reported as ERROR.
func (s *Service) Run(ctx context.Context, req JobRequest) (run domain.JobRun, sub SubProcessResult, err error) {
	spec, ok := s.jobs[req.Kind]
	if !ok {
		return domain.JobRun{}, SubProcessResult{}, fmt.Errorf("%w: %s", tasks.ErrUnknownJob, req.Kind)
	}
	ctx, span := s.opts.tracer.Start(ctx, "genomic."+string(req.Kind))
	h, err := s.Begin(ctx, req.Kind)
	if err != nil {
		span.End(err)
		return domain.JobRun{}, SubProcessResult{Result: domain.ResultError}, err
	}
	result := domain.ResultError
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", string(req.Kind), "run_id", h.Run.ID, "panic", fmt.Sprint(r))
			err = fmt.Errorf("job %s panicked: %v", req.Kind, r)
			result = domain.ResultError
			sub.Result = result
		}
		if endErr := s.End(context.WithoutCancel(ctx), h, result); endErr != nil && err == nil {
			err = endErr
		}
		run = h.Run
		span.End(err)
	}()

	sub, err = spec.run(ctx, h, req)
	result = sub.Result
	if err != nil {
		s.logger.Error("job failed", "job", string(req.Kind), "run_id", h.Run.ID, "error", err)
		result = domain.ResultError
		sub.Result = result
	}
	return h.Run, sub, err
}

// RunTask implements tasks.Runner for the task endpoint and the local dispatcher.
func (s *Service) RunTask(ctx context.Context, job domain.JobKind, p tasks.Payload) (domain.RunResult, error) {
	req := JobRequest{Kind: job, MemberIDs: p.MemberIDs, Field: p.Field, Value: p.Value}
	if p.FilePath != "" {
		bucket, key := splitPath(p.FilePath)
		if p.BucketName != "" && !strings.HasPrefix(strings.TrimPrefix(p.FilePath, "/"), p.BucketName+"/") {
			bucket, key = p.BucketName, strings.TrimPrefix(p.FilePath, "/")
		}
		req.File = FileRef{Bucket: bucket, Key: key}
		req.Path = joinPath(bucket, key)
	}
	run, _, err := s.Run(ctx, req)
	return run.Result, err
}

var _ tasks.Runner = (*Service)(nil)
