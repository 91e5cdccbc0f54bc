package genomic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"genomicore/pkg/domain"
)

type fileGap struct {
	member  domain.SampleMember
	missing []domain.DataFileType
}

// ReconcileMetrics fills each AW2/AW2_MISSING member's received data files
// from the file index and advances members whose required files are all
// present. Incomplete members are returned in Missing.
func (s *Service) ReconcileMetrics(ctx context.Context, h *RunHandle, genome domain.GenomeType) (SubProcessResult, error) {
	if !genome.Valid() {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("reconcile metrics: unknown genome type %q", genome)
	}
	ready := domain.SignalGEMReady
	if genome == domain.GenomeWGS {
		ready = domain.SignalCVLReady
	}
	required := RequiredFileTypes(genome)
	now := s.now()

	var (
		out       SubProcessResult
		gaps      []fileGap
		noMetrics []domain.SampleMember
	)
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		members := tx.ListSampleMembers(domain.MemberFilter{
			States:     []domain.GenomicState{domain.StateAW2, domain.StateAW2Missing},
			GenomeType: genome,
		})
		for _, m := range members {
			vm, ok := tx.FindValidationMetrics(m.ID)
			if !ok {
				noMetrics = append(noMetrics, m)
				continue
			}
			identifier := m.SampleID
			if genome == domain.GenomeArray {
				identifier = vm.ChipWellBarcode
			}
			received := make(map[domain.DataFileType]string)
			if identifier != "" {
				for _, df := range tx.ListDataFiles(genome, identifier) {
					received[df.FileType] = df.FilePath
				}
			}
			changed := false
			for t, p := range received {
				if vm.DataFiles[t] != p {
					changed = true
				}
			}
			if changed {
				updated, err := tx.UpsertValidationMetrics(m.ID, func(v *domain.ValidationMetrics) error {
					if v.DataFiles == nil {
						v.DataFiles = make(map[domain.DataFileType]string, len(received))
					}
					for t, p := range received {
						v.DataFiles[t] = p
					}
					return nil
				})
				if err != nil {
					return err
				}
				vm = updated
			}
			var missing []domain.DataFileType
			for _, t := range required {
				if !vm.Received(t) {
					missing = append(missing, t)
				}
			}
			if len(missing) == 0 {
				if _, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
					s.advance(sm, ready)
					return nil
				}); err != nil {
					return err
				}
				out.Advanced = append(out.Advanced, m.ID)
				continue
			}
			gaps = append(gaps, fileGap{member: m, missing: missing})
			if s.opts.missingAfter > 0 && m.State == domain.StateAW2 && now.Sub(vm.CreatedAt) > s.opts.missingAfter {
				if _, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
					s.advance(sm, domain.SignalMissing)
					return nil
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("reconcile %s metrics: %w", genome, err)
	}

	for _, g := range gaps {
		out.Missing = append(out.Missing, g.member.ID)
		names := make([]string, len(g.missing))
		for i, t := range g.missing {
			names[i] = string(t)
		}
		inc := domain.Incident{
			Code:     domain.IncidentMissingFiles,
			Message:  fmt.Sprintf("%s sample %s is missing data files: %s", genome, g.member.SampleID, strings.Join(names, ", ")),
			MemberID: g.member.ID,
			SampleID: g.member.SampleID,
			SiteID:   g.member.GCSiteID,
		}
		if _, _, err := s.incidents.Record(ctx, h, inc, RecordOptions{Persist: true, Alert: true}); err != nil {
			s.logger.Error("record missing files incident", "member_id", g.member.ID, "error", err)
		}
	}
	for _, m := range noMetrics {
		inc := domain.Incident{
			Code:     domain.IncidentMetricsNotFound,
			Message:  fmt.Sprintf("%s sample %s has no validation metrics", genome, m.SampleID),
			MemberID: m.ID,
			SampleID: m.SampleID,
		}
		if _, _, err := s.incidents.Record(ctx, h, inc, RecordOptions{Persist: true}); err != nil {
			s.logger.Error("record metrics incident", "member_id", m.ID, "error", err)
		}
	}
	s.logger.Info("metrics reconciled", "genome_type", string(genome), "advanced", len(out.Advanced), "missing", len(out.Missing))
	out.Result = domain.ResultSuccess
	return out, nil
}

// ReconcileDataFiles lists every configured target into the staging table and
// indexes staged objects that have no DataFile row yet. Nothing is deleted.
func (s *Service) ReconcileDataFiles(ctx context.Context, _ *RunHandle) (SubProcessResult, error) {
	targets := s.opts.targets
	if len(targets) == 0 {
		return SubProcessResult{Result: domain.ResultNoFiles}, nil
	}
	listed := make([][]domain.StagedObject, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			store, err := s.blobs.Bucket(gctx, t.Bucket)
			if err != nil {
				return fmt.Errorf("open bucket %s: %w", t.Bucket, err)
			}
			infos, err := store.List(gctx, t.Prefix)
			if err != nil {
				return fmt.Errorf("list %s: %w", joinPath(t.Bucket, t.Prefix), err)
			}
			objs := make([]domain.StagedObject, 0, len(infos))
			for _, info := range infos {
				if strings.HasSuffix(info.Key, "/") {
					continue
				}
				objs = append(objs, domain.StagedObject{
					FilePath:   joinPath(t.Bucket, info.Key),
					BucketName: t.Bucket,
					GenomeType: t.GenomeType,
					UploadDate: info.LastModified.UTC(),
				})
			}
			listed[i] = objs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SubProcessResult{Result: domain.ResultError}, err
	}
	var staged []domain.StagedObject
	for _, objs := range listed {
		staged = append(staged, objs...)
	}
	if _, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.ReplaceStagedObjects(staged)
	}); err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("stage objects: %w", err)
	}

	var out SubProcessResult
	skipped := 0
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, obj := range tx.ListStagedObjects() {
			if _, ok := tx.FindDataFileByPath(obj.FilePath); ok {
				continue
			}
			df, ok := describeObject(obj)
			if !ok {
				skipped++
				continue
			}
			if _, err := tx.CreateDataFile(df); err != nil {
				return err
			}
			out.Inserted++
		}
		return nil
	})
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("index data files: %w", err)
	}
	s.logger.Info("data files reconciled", "staged", len(staged), "inserted", out.Inserted, "skipped", skipped)
	out.Result = domain.ResultSuccess
	return out, nil
}

// ReconcileFeedback raises each open feedback record's count to the number of
// distinct samples from its input manifest that appear in AW2 rows, and
// completes it once the count reaches the manifest's record count.
func (s *Service) ReconcileFeedback(ctx context.Context, _ *RunHandle) (SubProcessResult, error) {
	now := s.now()
	var out SubProcessResult
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		aw2 := tx.ListRawRecordsByType(domain.ManifestAW2)
		members := tx.ListSampleMembers(domain.MemberFilter{})
		for _, fb := range tx.ListManifestFeedback() {
			if fb.FeedbackComplete {
				continue
			}
			input, ok := tx.FindManifestFile(fb.InputManifestFileID)
			if !ok {
				s.logger.Warn("feedback without input manifest", "feedback_id", fb.ID)
				continue
			}
			samples := make(map[string]bool)
			for _, m := range members {
				if m.AW1ManifestFileID == input.ID && m.SampleID != "" {
					samples[m.SampleID] = true
				}
			}
			seen := make(map[string]bool)
			for _, r := range aw2 {
				if samples[r.SampleID] {
					seen[r.SampleID] = true
				}
			}
			count := fb.FeedbackRecordCount
			raise := len(seen) > count
			if raise {
				count = len(seen)
			}
			complete := input.RecordCount > 0 && count >= input.RecordCount
			if !raise && !complete {
				continue
			}
			if _, err := tx.UpdateManifestFeedback(fb.ID, func(f *domain.ManifestFeedback) error {
				f.FeedbackRecordCount = count
				if complete {
					f.FeedbackComplete = true
					f.FeedbackCompleteDate = &now
				}
				return nil
			}); err != nil {
				return err
			}
			if raise {
				out.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("reconcile feedback: %w", err)
	}
	out.Result = domain.ResultSuccess
	return out, nil
}

// CalculateRecordCount sets a manifest's record count from its staged rows.
// Re-ingested rows are counted once.
func (s *Service) CalculateRecordCount(ctx context.Context, h *RunHandle, path string) (SubProcessResult, error) {
	var count int
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		mf, ok := tx.FindManifestFileByPath(path)
		if !ok {
			return &LookupError{Code: domain.IncidentManifestNotFound, Entity: "manifest", Key: path}
		}
		distinct := make(map[string]bool)
		for _, r := range tx.ListRawRecords(path) {
			distinct[r.BiobankID+"|"+r.SampleID] = true
		}
		count = len(distinct)
		_, err := tx.UpdateManifestFile(mf.ID, func(m *domain.ManifestFile) error {
			m.RecordCount = count
			return nil
		})
		return err
	})
	var le *LookupError
	if errors.As(err, &le) {
		inc := domain.Incident{Code: le.Code, Message: le.Error()}
		if _, _, rerr := s.incidents.Record(ctx, h, inc, RecordOptions{Persist: true, Alert: true}); rerr != nil {
			s.logger.Error("record manifest incident", "error", rerr)
		}
		return SubProcessResult{Result: domain.ResultError}, nil
	}
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("record count %s: %w", path, err)
	}
	s.logger.Info("record count calculated", "path", path, "count", count)
	return SubProcessResult{Result: domain.ResultSuccess, Updated: 1}, nil
}
