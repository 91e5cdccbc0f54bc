package genomic

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"genomicore/pkg/domain"
)

// Criteria selects biobank samples for a new sample set. Empty lists match
// everything.
type Criteria struct {
	ConsentCohorts       []string
	EnrollmentMilestones []string
	CollectionTubeIDs    []string
	GenomeTypes          []domain.GenomeType
}

func (c Criteria) matches(b domain.BiobankSample) bool {
	if len(c.ConsentCohorts) > 0 && !slices.Contains(c.ConsentCohorts, b.ConsentCohort) {
		return false
	}
	if len(c.EnrollmentMilestones) > 0 && !slices.Contains(c.EnrollmentMilestones, b.EnrollmentMilestone) {
		return false
	}
	if len(c.CollectionTubeIDs) > 0 && !slices.Contains(c.CollectionTubeIDs, b.CollectionTubeID) {
		return false
	}
	return true
}

func (c Criteria) String() string {
	var parts []string
	if len(c.ConsentCohorts) > 0 {
		parts = append(parts, "cohorts="+strings.Join(c.ConsentCohorts, ","))
	}
	if len(c.EnrollmentMilestones) > 0 {
		parts = append(parts, "milestones="+strings.Join(c.EnrollmentMilestones, ","))
	}
	if len(c.CollectionTubeIDs) > 0 {
		parts = append(parts, fmt.Sprintf("tubes=%d", len(c.CollectionTubeIDs)))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ";")
}

// LoadBiobankSamples ingests biobank hand-off files into BiobankSample rows.
func (s *Service) LoadBiobankSamples(ctx context.Context, h *RunHandle, ref FileRef) (SubProcessResult, error) {
	ref.Manifest = domain.ManifestBiobank
	return s.Ingest(ctx, h, ref)
}

// validationFlags lists the reasons a biobank sample may not be sent to a
// genome center.
func validationFlags(b domain.BiobankSample) []domain.ValidationFlag {
	var flags []domain.ValidationFlag
	if b.Age < 18 {
		flags = append(flags, domain.ValidationAge)
	}
	if !b.ConsentedGenomics {
		flags = append(flags, domain.ValidationConsent)
	}
	if b.SexAtBirth != "M" && b.SexAtBirth != "F" {
		flags = append(flags, domain.ValidationSexAtBirth)
	}
	if !validZip(b.ZipCode) {
		flags = append(flags, domain.ValidationZipCode)
	}
	if b.Withdrawn {
		flags = append(flags, domain.ValidationWithdrawn)
	}
	return flags
}

func validZip(zip string) bool {
	if len(zip) < 5 {
		return false
	}
	for _, r := range zip[:5] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CreateSampleSet couples every eligible, not yet coupled biobank sample into
// one new set with a member per genome type in AW0_READY.
func (s *Service) CreateSampleSet(ctx context.Context, _ *RunHandle, c Criteria) (SubProcessResult, error) {
	genomes := c.GenomeTypes
	if len(genomes) == 0 {
		genomes = []domain.GenomeType{domain.GenomeArray, domain.GenomeWGS}
	}
	for _, g := range genomes {
		if !g.Valid() {
			return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("create sample set: unknown genome type %q", g)
		}
	}
	var out SubProcessResult
	invalid := 0
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var eligible []domain.BiobankSample
		for _, b := range tx.ListBiobankSamples() {
			if !c.matches(b) || len(tx.ListMembersByCollectionTube(b.CollectionTubeID)) > 0 {
				continue
			}
			eligible = append(eligible, b)
		}
		if len(eligible) == 0 {
			return nil
		}
		set, err := tx.CreateSampleSet(domain.SampleSet{
			Criteria: c.String(),
			Version:  len(tx.ListSampleSets()) + 1,
		})
		if err != nil {
			return err
		}
		now := s.now()
		for _, b := range eligible {
			flags := validationFlags(b)
			if len(flags) > 0 {
				invalid++
			}
			for _, g := range genomes {
				if _, err := tx.CreateSampleMember(domain.SampleMember{
					SampleSetID:      set.ID,
					ParticipantID:    b.ParticipantID,
					BiobankID:        b.BiobankID,
					CollectionTubeID: b.CollectionTubeID,
					GenomeType:       g,
					SexAtBirth:       b.SexAtBirth,
					State:            domain.StateAW0Ready,
					StateModifiedAt:  now,
					ValidationFlags:  flags,
				}); err != nil {
					return err
				}
				out.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("create sample set: %w", err)
	}
	if out.Inserted == 0 {
		out.Result = domain.ResultNoFiles
		return out, nil
	}
	s.logger.Info("sample set created", "members", out.Inserted, "invalid_samples", invalid)
	out.Result = domain.ResultSuccess
	return out, nil
}
