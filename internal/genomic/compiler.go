package genomic

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"genomicore/internal/blob"
	"genomicore/pkg/domain"
)

type outboundSpec struct {
	states []domain.GenomicState
	genome domain.GenomeType
	signal bool
	keep   func(domain.SampleMember) bool
	link   func(m *domain.SampleMember, mf domain.ManifestFile, run domain.JobRun)
}

// aw3States holds every state a member reaches after its AW2 metrics passed.
var aw3States = []domain.GenomicState{
	domain.StateGEMReady, domain.StateA1, domain.StateA2, domain.StateA2F,
	domain.StateGEMReportReady, domain.StateGEMReportPendingDelete, domain.StateGEMReportDeleted,
	domain.StateCVLReady, domain.StateW1, domain.StateW2, domain.StateW3,
}

var outbound = map[domain.ManifestType]outboundSpec{
	domain.ManifestAW0: {
		states: []domain.GenomicState{domain.StateAW0Ready},
		signal: true,
		keep:   domain.SampleMember.IsValid,
		link:   func(m *domain.SampleMember, mf domain.ManifestFile, _ domain.JobRun) { m.AW0ManifestFileID = mf.ID },
	},
	domain.ManifestA1: {
		states: []domain.GenomicState{domain.StateGEMReady},
		genome: domain.GenomeArray,
		signal: true,
		link:   func(m *domain.SampleMember, mf domain.ManifestFile, _ domain.JobRun) { m.A1ManifestFileID = mf.ID },
	},
	domain.ManifestW1: {
		states: []domain.GenomicState{domain.StateCVLReady},
		genome: domain.GenomeWGS,
		signal: true,
		link:   func(m *domain.SampleMember, mf domain.ManifestFile, _ domain.JobRun) { m.W1ManifestFileID = mf.ID },
	},
	domain.ManifestW3: {
		states: []domain.GenomicState{domain.StateW2},
		genome: domain.GenomeWGS,
		signal: true,
		link:   func(m *domain.SampleMember, mf domain.ManifestFile, _ domain.JobRun) { m.W3ManifestFileID = mf.ID },
	},
	domain.ManifestAW3: {
		states: aw3States,
		keep:   func(m domain.SampleMember) bool { return m.AW3ManifestJobRunID == "" },
		link:   func(m *domain.SampleMember, _ domain.ManifestFile, run domain.JobRun) { m.AW3ManifestJobRunID = run.ID },
	},
}

func manifestColumns(mt domain.ManifestType, genome domain.GenomeType) ([]string, func(domain.SampleMember, domain.ValidationMetrics) []string) {
	switch {
	case mt == domain.ManifestAW0:
		return []string{"biobank_id", "collection_tube_id", "sex_at_birth", "genome_type"},
			func(m domain.SampleMember, _ domain.ValidationMetrics) []string {
				return []string{m.BiobankID, m.CollectionTubeID, m.SexAtBirth, string(m.GenomeType)}
			}
	case mt == domain.ManifestAW3 && genome == domain.GenomeArray:
		return []string{"biobank_id", "sample_id", "chipwellbarcode", "call_rate", "sex_concordance", "contamination",
				"processing_status", "site_id", "red_idat_path", "green_idat_path", "vcf_path"},
			func(m domain.SampleMember, vm domain.ValidationMetrics) []string {
				return []string{m.BiobankID, m.SampleID, vm.ChipWellBarcode, vm.CallRate, vm.SexConcordance,
					formatFloat(vm.Contamination), vm.ProcessingStatus, m.GCSiteID,
					vm.DataFiles[domain.FileIDATRed], vm.DataFiles[domain.FileIDATGreen], vm.DataFiles[domain.FileVCF]}
			}
	case mt == domain.ManifestAW3:
		return []string{"biobank_id", "sample_id", "mean_coverage", "contamination", "sex_ploidy",
				"processing_status", "site_id", "vcf_hf_path", "cram_path", "gvcf_path"},
			func(m domain.SampleMember, vm domain.ValidationMetrics) []string {
				return []string{m.BiobankID, m.SampleID, vm.MeanCoverage, formatFloat(vm.Contamination), vm.SexPloidy,
					vm.ProcessingStatus, m.GCSiteID,
					vm.DataFiles[domain.FileHardFilteredVCF], vm.DataFiles[domain.FileCRAM], vm.DataFiles[domain.FileGVCF]}
			}
	default:
		return []string{"biobank_id", "sample_id", "sex_at_birth", "site_id"},
			func(m domain.SampleMember, _ domain.ValidationMetrics) []string {
				return []string{m.BiobankID, m.SampleID, m.SexAtBirth, m.GCSiteID}
			}
	}
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Compile writes the outbound manifest of type mt. genome narrows the
// selection for AW0 and AW3; the other types imply their pipeline. Output is
// split at the configured row cap and every member written receives its
// back-reference and, for staged manifests, the manifest-generated signal.
func (s *Service) Compile(ctx context.Context, h *RunHandle, mt domain.ManifestType, genome domain.GenomeType) (SubProcessResult, error) {
	if mt == domain.ManifestAW2F {
		return s.compileFeedback(ctx, h)
	}
	spec, ok := outbound[mt]
	if !ok {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("compile: %s is not an outbound manifest", mt)
	}
	if spec.genome != "" {
		genome = spec.genome
	}
	groups := make(map[domain.GenomeType][]domain.SampleMember)
	metrics := make(map[string]domain.ValidationMetrics)
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, m := range v.ListSampleMembers(domain.MemberFilter{States: spec.states, GenomeType: genome}) {
			if spec.keep != nil && !spec.keep(m) {
				continue
			}
			if vm, ok := v.FindValidationMetrics(m.ID); ok {
				metrics[m.ID] = vm
			}
			groups[m.GenomeType] = append(groups[m.GenomeType], m)
		}
		return nil
	})
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, err
	}
	if len(groups) == 0 {
		return SubProcessResult{Result: domain.ResultNoFiles}, nil
	}
	store, err := s.blobs.Bucket(ctx, s.opts.compilerBucket)
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("open bucket %s: %w", s.opts.compilerBucket, err)
	}

	genomes := make([]domain.GenomeType, 0, len(groups))
	for g := range groups {
		genomes = append(genomes, g)
	}
	sort.Slice(genomes, func(i, j int) bool { return genomes[i] < genomes[j] })

	var out SubProcessResult
	var results []domain.RunResult
	stamp := s.now().Format("2006-01-02-15-04-05")
	for _, g := range genomes {
		header, render := manifestColumns(mt, g)
		members := groups[g]
		for part, start := 1, 0; start < len(members); part, start = part+1, start+s.opts.maxRowsPerFile {
			chunk := members[start:min(start+s.opts.maxRowsPerFile, len(members))]
			name := fmt.Sprintf("%s_%s_%s_%d.csv", mt, strings.TrimPrefix(string(g), "aou_"), stamp, part)
			rows := make([][]string, len(chunk))
			for i, m := range chunk {
				rows[i] = render(m, metrics[m.ID])
			}
			fo := s.writeManifest(ctx, h, store, mt, name, header, rows, func(tx domain.Transaction, mf domain.ManifestFile) error {
				for _, m := range chunk {
					if _, err := tx.UpdateSampleMember(m.ID, func(sm *domain.SampleMember) error {
						spec.link(sm, mf, h.Run)
						if spec.signal {
							s.advance(sm, domain.SignalManifestGenerated)
						}
						return nil
					}); err != nil {
						return err
					}
				}
				return nil
			})
			out.Files = append(out.Files, fo)
			results = append(results, fo.Result)
			if fo.Result == domain.ResultSuccess {
				for _, m := range chunk {
					out.Advanced = append(out.Advanced, m.ID)
				}
			}
		}
	}
	out.Result = domain.Aggregate(results)
	return out, nil
}

// compileFeedback writes one AW2F manifest per completed feedback record that
// has not been answered yet, bumping the record's version.
func (s *Service) compileFeedback(ctx context.Context, h *RunHandle) (SubProcessResult, error) {
	type pending struct {
		fb    domain.ManifestFeedback
		input domain.ManifestFile
		rows  [][]string
	}
	var work []pending
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		members := v.ListSampleMembers(domain.MemberFilter{})
		for _, fb := range v.ListManifestFeedback() {
			if !fb.FeedbackComplete || fb.FeedbackManifestFileID != "" {
				continue
			}
			input, ok := v.FindManifestFile(fb.InputManifestFileID)
			if !ok {
				continue
			}
			p := pending{fb: fb, input: input}
			for _, m := range members {
				if m.AW1ManifestFileID != input.ID {
					continue
				}
				vm, _ := v.FindValidationMetrics(m.ID)
				p.rows = append(p.rows, []string{m.BiobankID, m.SampleID, formatFloat(vm.Contamination),
					string(vm.ContaminationCategory), vm.ProcessingStatus})
			}
			work = append(work, p)
		}
		return nil
	})
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, err
	}
	if len(work) == 0 {
		return SubProcessResult{Result: domain.ResultNoFiles}, nil
	}
	store, err := s.blobs.Bucket(ctx, s.opts.compilerBucket)
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("open bucket %s: %w", s.opts.compilerBucket, err)
	}
	header := []string{"biobank_id", "sample_id", "contamination", "contamination_category", "processing_status"}
	var out SubProcessResult
	var results []domain.RunResult
	for _, p := range work {
		version := p.fb.Version + 1
		name := fmt.Sprintf("%s_contamination_%d.csv", strings.TrimSuffix(p.input.FileName, ".csv"), version)
		fo := s.writeManifest(ctx, h, store, domain.ManifestAW2F, name, header, p.rows, func(tx domain.Transaction, mf domain.ManifestFile) error {
			_, err := tx.UpdateManifestFeedback(p.fb.ID, func(f *domain.ManifestFeedback) error {
				f.FeedbackManifestFileID = mf.ID
				f.Version = version
				return nil
			})
			return err
		})
		out.Files = append(out.Files, fo)
		results = append(results, fo.Result)
		if fo.Result == domain.ResultSuccess {
			out.Updated++
		}
	}
	out.Result = domain.Aggregate(results)
	return out, nil
}

// writeManifest uploads one CSV and records its ManifestFile and
// FileProcessed rows together with the caller's member updates.
func (s *Service) writeManifest(ctx context.Context, h *RunHandle, store blob.Store, mt domain.ManifestType, name string,
	header []string, rows [][]string, link func(domain.Transaction, domain.ManifestFile) error) FileOutcome {
	key := string(mt) + "/" + name
	p := joinPath(s.opts.compilerBucket, key)
	fo := FileOutcome{Path: p, Rows: len(rows), Result: domain.ResultError}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	_ = w.WriteAll(rows)
	if err := w.Error(); err != nil {
		fo.Err = err
		return fo
	}
	info, err := store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"manifest_type": string(mt), "job_run_id": h.Run.ID},
	})
	if err != nil {
		s.logger.Error("upload manifest", "path", p, "error", err)
		fo.Err = err
		return fo
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		mf, err := tx.CreateManifestFile(domain.ManifestFile{
			FilePath:     p,
			BucketName:   s.opts.compilerBucket,
			FileName:     name,
			ManifestType: mt,
			Outbound:     true,
			RecordCount:  len(rows),
			UploadDate:   info.LastModified.UTC(),
		})
		if err != nil {
			return err
		}
		if _, err := tx.CreateFileProcessed(domain.FileProcessed{
			JobRunID:       h.Run.ID,
			FilePath:       p,
			BucketName:     s.opts.compilerBucket,
			FileName:       name,
			Status:         domain.FileStatusCompleted,
			Result:         domain.ResultSuccess,
			ManifestFileID: mf.ID,
			UploadDate:     info.LastModified.UTC(),
		}); err != nil {
			return err
		}
		return link(tx, mf)
	})
	if err != nil {
		s.logger.Error("record manifest", "path", p, "error", err)
		fo.Err = err
		return fo
	}
	s.logger.Info("manifest compiled", "path", p, "manifest", string(mt), "rows", len(rows))
	fo.Result = domain.ResultSuccess
	return fo
}
