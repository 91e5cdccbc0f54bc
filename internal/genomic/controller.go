package genomic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"genomicore/internal/notify"
	"genomicore/pkg/domain"
)

// RunHandle scopes one job run. It is returned by Begin and closed exactly
// once by End or Abort.
type RunHandle struct {
	Run       domain.JobRun
	Watermark time.Time
	Alerter   notify.Alerter

	start time.Time
	mu    sync.Mutex
	ended bool
}

func (h *RunHandle) finish() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return false
	}
	h.ended = true
	return true
}

// Ended reports whether End or Abort already ran.
func (h *RunHandle) Ended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

func (s *Service) alerter(kind domain.JobKind) notify.Alerter {
	ns := defaultNamespace
	if spec, ok := s.jobs[kind]; ok && spec.namespace != "" {
		ns = spec.namespace
	}
	return s.opts.alerters.For(ns)
}

// Begin opens a RUNNING job run. The watermark is the latest end time of a
// prior successful run of the same kind, or the configured default.
func (s *Service) Begin(ctx context.Context, kind domain.JobKind) (*RunHandle, error) {
	if kind == "" {
		return nil, errors.New("genomic: job kind required")
	}
	now := s.now()
	h := &RunHandle{Watermark: s.opts.watermark, Alerter: s.alerter(kind), start: now}
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, prior := range tx.ListJobRuns(kind) {
			if prior.Result == domain.ResultSuccess && prior.EndTime != nil && prior.EndTime.After(h.Watermark) {
				h.Watermark = prior.EndTime.UTC()
			}
		}
		run, err := tx.CreateJobRun(domain.JobRun{
			Kind:      kind,
			StartTime: now,
			Status:    domain.JobRunning,
			Result:    domain.ResultUnset,
		})
		if err != nil {
			return err
		}
		h.Run = run
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("begin %s: %w", kind, err)
	}
	s.logger.Info("job run started", "job", string(kind), "run_id", h.Run.ID, "watermark", h.Watermark)
	return h, nil
}

// End completes the run with result. A result more severe than the configured
// threshold raises an UNKNOWN incident against the run. Calling End on a
// finished handle is a no-op.
func (s *Service) End(ctx context.Context, h *RunHandle, result domain.RunResult) error {
	if h == nil {
		return errors.New("genomic: nil run handle")
	}
	if !h.finish() {
		return nil
	}
	if result == "" {
		result = domain.ResultUnset
	}
	if err := s.closeRun(ctx, h, domain.JobCompleted, result); err != nil {
		return err
	}
	if result.Severity() > s.opts.severityThreshold {
		inc := domain.Incident{
			Code:     domain.IncidentUnknown,
			Message:  fmt.Sprintf("%s finished with %s", h.Run.Kind, result),
			JobRunID: h.Run.ID,
		}
		if _, _, err := s.incidents.Record(ctx, h, inc, RecordOptions{Persist: true, Alert: true}); err != nil {
			s.logger.Error("record run incident", "run_id", h.Run.ID, "error", err)
		}
	}
	return nil
}

// Abort marks the run ABORTED with an ERROR result.
func (s *Service) Abort(ctx context.Context, h *RunHandle, cause error) error {
	if h == nil {
		return errors.New("genomic: nil run handle")
	}
	if !h.finish() {
		return nil
	}
	s.logger.Warn("job run aborted", "job", string(h.Run.Kind), "run_id", h.Run.ID, "error", cause)
	return s.closeRun(ctx, h, domain.JobAborted, domain.ResultError)
}

func (s *Service) closeRun(ctx context.Context, h *RunHandle, status domain.JobRunStatus, result domain.RunResult) error {
	end := s.now()
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		run, err := tx.UpdateJobRun(h.Run.ID, func(r *domain.JobRun) error {
			r.Status = status
			r.Result = result
			r.EndTime = &end
			return nil
		})
		if err != nil {
			return err
		}
		h.Run = run
		return nil
	})
	elapsed := end.Sub(h.start)
	s.opts.metrics.Observe(ctx, "job."+string(h.Run.Kind), err == nil && result.Severity() == 0, elapsed)
	if s.opts.results != nil {
		s.opts.results.CountResult(string(h.Run.Kind), string(result))
	}
	if err != nil {
		s.logger.Error("close job run", "run_id", h.Run.ID, "error", err)
		return fmt.Errorf("close run %s: %w", h.Run.ID, err)
	}
	s.logger.Info("job run finished", "job", string(h.Run.Kind), "run_id", h.Run.ID,
		"status", string(status), "result", string(result), "duration", elapsed)
	return nil
}
