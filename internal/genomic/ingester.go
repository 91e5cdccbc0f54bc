package genomic

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"genomicore/internal/blob"
	"genomicore/internal/notify"
	"genomicore/internal/tasks"
	"genomicore/pkg/domain"
)

// FileRef selects the files one ingestion pass covers: a single key, or every
// unprocessed object under Bucket/Subfolder.
type FileRef struct {
	Manifest       domain.ManifestType
	Bucket         string
	Key            string
	Subfolder      string
	SinceWatermark bool
	// Force re-ingests files that already have a FileProcessed row.
	Force bool
}

// FileOutcome is the result of one file pass.
type FileOutcome struct {
	Path   string
	Result domain.RunResult
	Rows   int
	Err    error
}

// SubProcessResult is a component's contribution to a run.
type SubProcessResult struct {
	Result   domain.RunResult
	Files    []FileOutcome
	Advanced []string
	Missing  []string
	Inserted int
	Updated  int
}

var manifestForJob = map[domain.JobKind]domain.ManifestType{
	domain.JobBiobankLoad:      domain.ManifestBiobank,
	domain.JobAW1Ingestion:     domain.ManifestAW1,
	domain.JobAW1FIngestion:    domain.ManifestAW1F,
	domain.JobMetricsIngestion: domain.ManifestAW2,
	domain.JobA2Ingestion:      domain.ManifestA2,
	domain.JobW2Ingestion:      domain.ManifestW2,
}

type rowHandler func(s *Service, tx domain.Transaction, fc *fileContext, row Row) error

var rowHandlers = map[domain.ManifestType]rowHandler{
	domain.ManifestBiobank: (*Service).applyBiobank,
	domain.ManifestAW1:     (*Service).applyAW1,
	domain.ManifestAW1F:    (*Service).applyAW1F,
	domain.ManifestAW2:     (*Service).applyAW2,
	domain.ManifestA2:      (*Service).applyA2,
	domain.ManifestW2:      (*Service).applyW2,
}

type fileContext struct {
	run      *RunHandle
	manifest domain.ManifestType
	bucket   string
	name     string
	path     string
	genome   domain.GenomeType
	site     string
	fp       domain.FileProcessed
	mf       domain.ManifestFile
	failures []Row
}

// Ingest runs one ingestion pass. File-level failures are recorded as
// incidents and folded into the aggregate result; the returned error is
// reserved for failures that prevent discovery.
func (s *Service) Ingest(ctx context.Context, h *RunHandle, ref FileRef) (SubProcessResult, error) {
	fail := SubProcessResult{Result: domain.ResultError}
	mt := ref.Manifest
	if mt == "" {
		mt = manifestForJob[h.Run.Kind]
	}
	table, ok := s.opts.tables.Table(mt)
	if !ok {
		return fail, fmt.Errorf("no column table for manifest type %q", mt)
	}
	if ref.Bucket == "" {
		src := s.opts.sources[h.Run.Kind]
		ref.Bucket = src.Bucket
		if ref.Subfolder == "" {
			ref.Subfolder = src.Subfolder
		}
	}
	if ref.Bucket == "" {
		return fail, fmt.Errorf("ingest %s: bucket required", mt)
	}
	store, err := s.blobs.Bucket(ctx, ref.Bucket)
	if err != nil {
		return fail, fmt.Errorf("open bucket %s: %w", ref.Bucket, err)
	}
	files, err := s.discover(ctx, h, store, ref)
	if err != nil {
		return fail, err
	}
	var out SubProcessResult
	results := make([]domain.RunResult, 0, len(files))
	for _, info := range files {
		if err := ctx.Err(); err != nil {
			return fail, err
		}
		var fo FileOutcome
		if s.opts.fanOut && ref.Key == "" {
			fo = s.dispatchFile(ctx, h, ref.Bucket, info)
		} else {
			fo = s.ingestFile(ctx, h, store, table, ref.Bucket, info)
		}
		out.Files = append(out.Files, fo)
		results = append(results, fo.Result)
	}
	out.Result = domain.Aggregate(results)
	return out, nil
}

// discover resolves ref to the objects still to be processed.
func (s *Service) discover(ctx context.Context, h *RunHandle, store blob.Store, ref FileRef) ([]blob.Info, error) {
	var candidates []blob.Info
	if ref.Key != "" {
		info, err := store.Head(ctx, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", joinPath(ref.Bucket, ref.Key), err)
		}
		candidates = []blob.Info{info}
	} else {
		prefix := ref.Subfolder
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		listed, err := store.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", joinPath(ref.Bucket, prefix), err)
		}
		for _, info := range listed {
			if strings.HasSuffix(info.Key, "/") {
				continue
			}
			if ref.SinceWatermark && !info.LastModified.After(h.Watermark) {
				continue
			}
			candidates = append(candidates, info)
		}
	}
	if ref.Force {
		return candidates, nil
	}
	var out []blob.Info
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, info := range candidates {
			if _, done := v.FindFileProcessedByPath(joinPath(ref.Bucket, info.Key)); done {
				s.logger.Debug("file already processed", "path", joinPath(ref.Bucket, info.Key))
				continue
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

func (s *Service) dispatchFile(ctx context.Context, h *RunHandle, bucket string, info blob.Info) FileOutcome {
	p := joinPath(bucket, info.Key)
	err := s.opts.dispatcher.Dispatch(ctx, h.Run.Kind, tasks.Payload{
		FilePath:   p,
		BucketName: bucket,
		UploadDate: info.LastModified.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("dispatch file task", "path", p, "error", err)
		return FileOutcome{Path: p, Result: domain.ResultError, Err: err}
	}
	return FileOutcome{Path: p, Result: domain.ResultSuccess}
}

func (s *Service) ingestFile(ctx context.Context, h *RunHandle, store blob.Store, table *ManifestTable, bucket string, info blob.Info) FileOutcome {
	fc := &fileContext{
		run:      h,
		manifest: table.Type,
		bucket:   bucket,
		name:     path.Base(info.Key),
		path:     joinPath(bucket, info.Key),
	}
	fc.site = siteFromManifestName(fc.name)
	switch table.Type {
	case domain.ManifestA2:
		fc.genome = domain.GenomeArray
	case domain.ManifestW2:
		fc.genome = domain.GenomeWGS
	default:
		fc.genome = genomeFromManifestName(fc.name)
	}
	valid := table.ValidName(fc.name)
	if err := s.checkpoint(ctx, fc, info, valid); err != nil {
		s.logger.Error("checkpoint file", "path", fc.path, "error", err)
		return FileOutcome{Path: fc.path, Result: domain.ResultError, Err: err}
	}
	if !valid {
		return s.failFile(ctx, fc, 0, &FileValidationError{
			Result: domain.ResultInvalidFileName,
			Path:   fc.path,
			Reason: fmt.Sprintf("file name does not match the %s naming convention", table.Type),
		})
	}
	rows, err := s.applyFile(ctx, store, table, fc, info.Key)
	if err != nil {
		return s.failFile(ctx, fc, rows, err)
	}
	if err := s.setFileResult(ctx, fc, domain.ResultSuccess); err != nil {
		return FileOutcome{Path: fc.path, Result: domain.ResultError, Rows: rows, Err: err}
	}
	s.logger.Info("manifest ingested", "path", fc.path, "manifest", string(fc.manifest), "rows", rows)
	s.afterFile(ctx, fc, info)
	return FileOutcome{Path: fc.path, Result: domain.ResultSuccess, Rows: rows}
}

// checkpoint inserts the FileProcessed row before any row is read. Valid
// inbound manifests also get their ManifestFile identity, and AW1 manifests a
// feedback record.
func (s *Service) checkpoint(ctx context.Context, fc *fileContext, info blob.Info, valid bool) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if valid && fc.manifest != domain.ManifestBiobank {
			mf, ok := tx.FindManifestFileByPath(fc.path)
			if !ok {
				created, err := tx.CreateManifestFile(domain.ManifestFile{
					FilePath:     fc.path,
					BucketName:   fc.bucket,
					FileName:     fc.name,
					ManifestType: fc.manifest,
					UploadDate:   info.LastModified.UTC(),
				})
				if err != nil {
					return err
				}
				mf = created
			}
			fc.mf = mf
			if fc.manifest == domain.ManifestAW1 {
				if _, ok := tx.FindFeedbackByInputManifest(mf.ID); !ok {
					if _, err := tx.CreateManifestFeedback(domain.ManifestFeedback{InputManifestFileID: mf.ID}); err != nil {
						return err
					}
				}
			}
		}
		if existing, ok := tx.FindFileProcessedByPath(fc.path); ok {
			updated, err := tx.UpdateFileProcessed(existing.ID, func(f *domain.FileProcessed) error {
				f.JobRunID = fc.run.Run.ID
				f.Status = domain.FileStatusQueued
				f.Result = domain.ResultUnset
				f.ManifestFileID = fc.mf.ID
				return nil
			})
			fc.fp = updated
			return err
		}
		created, err := tx.CreateFileProcessed(domain.FileProcessed{
			JobRunID:       fc.run.Run.ID,
			FilePath:       fc.path,
			BucketName:     fc.bucket,
			FileName:       fc.name,
			Status:         domain.FileStatusQueued,
			Result:         domain.ResultUnset,
			ManifestFileID: fc.mf.ID,
			UploadDate:     info.LastModified.UTC(),
		})
		fc.fp = created
		return err
	})
	return err
}

func (s *Service) setFileResult(ctx context.Context, fc *fileContext, result domain.RunResult) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		updated, err := tx.UpdateFileProcessed(fc.fp.ID, func(f *domain.FileProcessed) error {
			f.Status = domain.FileStatusCompleted
			f.Result = result
			return nil
		})
		fc.fp = updated
		return err
	})
	if err != nil {
		return fmt.Errorf("complete file %s: %w", fc.path, err)
	}
	return nil
}

// failFile closes the file pass with the error's result and records an incident.
func (s *Service) failFile(ctx context.Context, fc *fileContext, rows int, cause error) FileOutcome {
	result := domain.ResultError
	inc := domain.Incident{
		Code:            domain.IncidentUnknown,
		Message:         fmt.Sprintf("%s: %v", fc.path, cause),
		FileProcessedID: fc.fp.ID,
		SiteID:          fc.site,
		DataFileName:    fc.name,
	}
	var fve *FileValidationError
	var le *LookupError
	switch {
	case errors.As(cause, &fve):
		result = fve.Result
		inc.Code = fve.IncidentCode()
	case errors.As(cause, &le):
		inc.Code = le.Code
		if le.Entity == "sample" {
			inc.SampleID = le.Key
		}
	}
	s.logger.Error("manifest ingestion failed", "path", fc.path, "result", string(result), "error", cause)
	if err := s.setFileResult(ctx, fc, result); err != nil {
		s.logger.Error("close failed file", "path", fc.path, "error", err)
	}
	if _, _, err := s.incidents.Record(ctx, fc.run, inc, RecordOptions{Persist: true, Alert: true}); err != nil {
		s.logger.Error("record file incident", "path", fc.path, "error", err)
	}
	return FileOutcome{Path: fc.path, Result: result, Rows: rows, Err: cause}
}

// applyFile streams the CSV and commits rows in batches. It returns the
// number of committed rows.
func (s *Service) applyFile(ctx context.Context, store blob.Store, table *ManifestTable, fc *fileContext, key string) (int, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", fc.path, err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, &FileValidationError{Result: domain.ResultInvalidFileStructure, Path: fc.path, Reason: "empty file"}
	}
	if err != nil {
		return 0, &FileValidationError{Result: domain.ResultInvalidFileStructure, Path: fc.path, Reason: err.Error()}
	}
	b, missing := table.bind(header)
	if len(missing) > 0 {
		return 0, &FileValidationError{
			Result: domain.ResultInvalidFileStructure,
			Path:   fc.path,
			Reason: "missing required columns: " + strings.Join(missing, ", "),
		}
	}

	committed := 0
	batch := make([]Row, 0, s.opts.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.commitBatch(ctx, fc, batch); err != nil {
			return err
		}
		committed += len(batch)
		batch = batch[:0]
		return nil
	}
	line := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return committed, &LookupError{Code: domain.IncidentMalformedRow, Entity: "record", Key: strconv.Itoa(line), Row: line, Err: err}
		}
		if blank(record) {
			continue
		}
		row, err := b.decode(record, line)
		if err != nil {
			return committed, err
		}
		batch = append(batch, row)
		if len(batch) >= s.opts.batchSize {
			if err := flush(); err != nil {
				return committed, err
			}
		}
	}
	if err := flush(); err != nil {
		return committed, err
	}
	return committed, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (s *Service) commitBatch(ctx context.Context, fc *fileContext, batch []Row) error {
	apply := rowHandlers[fc.manifest]
	failures := len(fc.failures)
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, row := range batch {
			if _, err := tx.CreateRawRecord(domain.RawManifestRecord{
				FilePath:     fc.path,
				ManifestType: fc.manifest,
				BiobankID:    row.BiobankID,
				SampleID:     row.SampleID,
				Fields:       row.Raw,
			}); err != nil {
				return err
			}
			if err := apply(s, tx, fc, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		fc.failures = fc.failures[:failures]
	}
	return err
}

// advance applies sig when the state machine maps it from the member's
// current state. It reports whether the state changed.
func (s *Service) advance(m *domain.SampleMember, sig domain.Signal) bool {
	next, ok := domain.Next(m.State, sig)
	if !ok {
		s.logger.Debug("signal ignored", "member_id", m.ID, "state", string(m.State), "signal", string(sig))
		return false
	}
	m.State = next
	m.StateModifiedAt = s.now()
	m.StateOverrideReason = ""
	return true
}

func memberNotFound(kind, key string, row Row) error {
	return &LookupError{Code: domain.IncidentMemberNotFound, Entity: kind, Key: key, Row: row.Line}
}

func (s *Service) applyBiobank(tx domain.Transaction, _ *fileContext, row Row) error {
	_, err := tx.UpsertBiobankSample(domain.BiobankSample{
		CollectionTubeID:    row.CollectionTubeID,
		ParticipantID:       row.ParticipantID,
		BiobankID:           row.BiobankID,
		SexAtBirth:          row.SexAtBirth,
		Age:                 row.Age,
		ZipCode:             row.ZipCode,
		ConsentCohort:       row.ConsentCohort,
		EnrollmentMilestone: row.EnrollmentMilestone,
		ConsentedGenomics:   row.ConsentedGenomics,
		Withdrawn:           row.Withdrawn,
	})
	return err
}

func (s *Service) applyAW1(tx domain.Transaction, fc *fileContext, row Row) error {
	m, ok := tx.FindMemberByCollectionTube(row.CollectionTubeID, fc.genome)
	if !ok {
		return memberNotFound("collection tube", row.CollectionTubeID, row)
	}
	sig := domain.SignalAW1Reconciled
	if row.FailureMode != "" {
		sig = domain.SignalAW1Failed
	}
	if existing, ok := liveTubeMember(tx, row.CollectionTubeID, row.SampleID, fc.genome); ok {
		m = existing
	} else if m.SampleID != "" && row.SampleID != "" {
		return s.reextract(tx, fc, m, row, sig)
	}
	_, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
		sm.SampleID = row.SampleID
		sm.GCSiteID = fc.site
		sm.BoxPlateID = row.BoxPlateID
		sm.WellPosition = row.WellPosition
		sm.FailureMode = row.FailureMode
		sm.FailureModeDescription = row.FailureModeDescription
		sm.AW1ManifestFileID = fc.mf.ID
		sm.AW1FileProcessedID = fc.fp.ID
		s.advance(sm, sig)
		return nil
	})
	return err
}

// liveTubeMember finds the live member of the tube that already carries
// sampleID.
func liveTubeMember(view domain.TransactionView, tubeID, sampleID string, genome domain.GenomeType) (domain.SampleMember, bool) {
	if sampleID == "" {
		return domain.SampleMember{}, false
	}
	for _, m := range view.ListMembersByCollectionTube(tubeID) {
		if m.GenomeType == genome && m.SampleID == sampleID && !m.State.Absorbing() {
			return m, true
		}
	}
	return domain.SampleMember{}, false
}

// reextract records a new sample id for a tube whose member already has one.
// The tube's earlier member keeps its sample id and metrics; the new member
// joins the same set with the tube's identity and enters the AW1 stage.
func (s *Service) reextract(tx domain.Transaction, fc *fileContext, prior domain.SampleMember, row Row, sig domain.Signal) error {
	m := domain.SampleMember{
		SampleSetID:            prior.SampleSetID,
		ParticipantID:          prior.ParticipantID,
		BiobankID:              prior.BiobankID,
		CollectionTubeID:       prior.CollectionTubeID,
		GenomeType:             prior.GenomeType,
		SexAtBirth:             prior.SexAtBirth,
		ValidationFlags:        append([]domain.ValidationFlag(nil), prior.ValidationFlags...),
		BlockResearch:          prior.BlockResearch,
		BlockResearchReason:    prior.BlockResearchReason,
		BlockResults:           prior.BlockResults,
		BlockResultsReason:     prior.BlockResultsReason,
		AW0ManifestFileID:      prior.AW0ManifestFileID,
		SampleID:               row.SampleID,
		GCSiteID:               fc.site,
		BoxPlateID:             row.BoxPlateID,
		WellPosition:           row.WellPosition,
		FailureMode:            row.FailureMode,
		FailureModeDescription: row.FailureModeDescription,
		AW1ManifestFileID:      fc.mf.ID,
		AW1FileProcessedID:     fc.fp.ID,
		State:                  domain.StateAW0,
	}
	s.advance(&m, sig)
	created, err := tx.CreateSampleMember(m)
	if err != nil {
		return err
	}
	s.logger.Info("collection tube re-extracted", "collection_tube_id", prior.CollectionTubeID,
		"prior_sample_id", prior.SampleID, "sample_id", row.SampleID, "member_id", created.ID)
	return nil
}

func (s *Service) applyAW1F(tx domain.Transaction, fc *fileContext, row Row) error {
	m, ok := tx.FindMemberBySampleID(row.SampleID, fc.genome)
	if !ok {
		return memberNotFound("sample", row.SampleID, row)
	}
	_, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
		sm.FailureMode = row.FailureMode
		sm.FailureModeDescription = row.FailureModeDescription
		s.advance(sm, domain.SignalAW1Failed)
		return nil
	})
	if err == nil {
		fc.failures = append(fc.failures, row)
	}
	return err
}

func (s *Service) applyAW2(tx domain.Transaction, fc *fileContext, row Row) error {
	m, ok := tx.FindMemberBySampleID(row.SampleID, fc.genome)
	if !ok {
		return memberNotFound("sample", row.SampleID, row)
	}
	category := ContaminationCategory(row.Contamination, hasPriorExtraction(tx, m), s.opts.thresholds)
	site := row.SiteID
	if site == "" {
		site = fc.site
	}
	prev, hadMetrics := tx.FindValidationMetrics(m.ID)
	if !hadMetrics || prev.ContaminationCategory != category || prev.ProcessingStatus != row.ProcessingStatus {
		if err := s.reopenFeedback(tx, m); err != nil {
			return err
		}
	}
	if _, err := tx.UpsertValidationMetrics(m.ID, func(vm *domain.ValidationMetrics) error {
		vm.FileProcessedID = fc.fp.ID
		vm.ChipWellBarcode = row.ChipWellBarcode
		vm.CallRate = row.CallRate
		vm.MeanCoverage = row.MeanCoverage
		vm.Contamination = row.Contamination
		vm.ContaminationCategory = category
		vm.SexConcordance = row.SexConcordance
		vm.SexPloidy = row.SexPloidy
		vm.ProcessingStatus = row.ProcessingStatus
		vm.Notes = row.Notes
		vm.SiteID = site
		return nil
	}); err != nil {
		return err
	}
	if _, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
		sm.AW2FileProcessedID = fc.fp.ID
		s.advance(sm, domain.SignalAW2)
		return nil
	}); err != nil {
		return err
	}
	if row.ProcessingStatus != "fail" {
		return nil
	}
	// Separate update: the lifecycle rule checks each change one step at a time.
	_, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
		s.advance(sm, domain.SignalFail)
		return nil
	})
	return err
}

// reopenFeedback detaches an already exported AW2F manifest from the
// member's input manifest so the next AW2F run writes the next version.
func (s *Service) reopenFeedback(tx domain.Transaction, m domain.SampleMember) error {
	if m.AW1ManifestFileID == "" {
		return nil
	}
	fb, ok := tx.FindFeedbackByInputManifest(m.AW1ManifestFileID)
	if !ok || fb.FeedbackManifestFileID == "" {
		return nil
	}
	if _, err := tx.UpdateManifestFeedback(fb.ID, func(f *domain.ManifestFeedback) error {
		f.FeedbackManifestFileID = ""
		return nil
	}); err != nil {
		return err
	}
	s.logger.Info("feedback reopened", "feedback_id", fb.ID, "sample_id", m.SampleID, "version", fb.Version)
	return nil
}

func (s *Service) applyA2(tx domain.Transaction, fc *fileContext, row Row) error {
	m, ok := tx.FindMemberBySampleID(row.SampleID, domain.GenomeArray)
	if !ok {
		return memberNotFound("sample", row.SampleID, row)
	}
	sig := domain.SignalA2GEMFail
	if row.GEMPass {
		sig = domain.SignalA2GEMPass
	}
	_, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
		sm.A2FileProcessedID = fc.fp.ID
		s.advance(sm, sig)
		return nil
	})
	return err
}

func (s *Service) applyW2(tx domain.Transaction, fc *fileContext, row Row) error {
	m, ok := tx.FindMemberBySampleID(row.SampleID, domain.GenomeWGS)
	if !ok {
		return memberNotFound("sample", row.SampleID, row)
	}
	_, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
		sm.W2FileProcessedID = fc.fp.ID
		s.advance(sm, domain.SignalW2IngestionSuccess)
		return nil
	})
	return err
}

// afterFile runs the follow-on work of a successful file pass.
func (s *Service) afterFile(ctx context.Context, fc *fileContext, info blob.Info) {
	if fc.manifest == domain.ManifestAW1F && len(fc.failures) > 0 {
		s.notifySite(ctx, fc)
	}
	if fc.manifest == domain.ManifestBiobank {
		return
	}
	err := s.opts.dispatcher.Dispatch(ctx, domain.JobCalculateRecordCount, tasks.Payload{
		FilePath:   fc.path,
		BucketName: fc.bucket,
		UploadDate: info.LastModified.UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("dispatch record count", "path", fc.path, "error", err)
	}
}

func (s *Service) notifySite(ctx context.Context, fc *fileContext) {
	recipients := s.opts.siteRecipients[fc.site]
	if len(recipients) == 0 {
		s.logger.Debug("no recipients for site", "site", fc.site)
		return
	}
	var body strings.Builder
	fmt.Fprintf(&body, "The AW1F manifest %s reported %d failed samples:\n\n", fc.name, len(fc.failures))
	for _, row := range fc.failures {
		fmt.Fprintf(&body, "%s\t%s\t%s\n", row.SampleID, row.FailureMode, row.FailureModeDescription)
	}
	msg := notify.Email{
		Recipients:   recipients,
		CCRecipients: s.opts.ccRecipients,
		Subject:      fmt.Sprintf("GC Manifest Ingestion Failure: %s", fc.name),
		Body:         body.String(),
	}
	if err := s.opts.mailer.Send(ctx, msg); err != nil {
		inc := domain.Incident{
			Code:         domain.IncidentNotificationFailure,
			Message:      fmt.Sprintf("failure email for %s not sent: %v", fc.name, err),
			SiteID:       fc.site,
			DataFileName: fc.name,
		}
		if _, _, rerr := s.incidents.Record(ctx, fc.run, inc, RecordOptions{Persist: true}); rerr != nil {
			s.logger.Error("record notification incident", "error", rerr)
		}
	}
}
