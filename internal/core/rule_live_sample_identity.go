package core

import (
	"context"
	"fmt"

	"genomicore/pkg/domain"
)

// LiveSampleIdentityRule warns when a sample id is carried by more than one
// live member of the same genome type. Lookups by sample id pick the newest
// member, so the older one stops receiving signals.
func LiveSampleIdentityRule() domain.Rule {
	return liveSampleIdentityRule{}
}

type liveSampleIdentityRule struct{}

func (liveSampleIdentityRule) Name() string { return "live_sample_identity" }

func (liveSampleIdentityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if view == nil {
		return res, nil
	}
	seen := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntitySampleMember {
			continue
		}
		after, ok := change.After.(domain.SampleMember)
		if !ok || after.SampleID == "" || after.State.Absorbing() {
			continue
		}
		if before, ok := change.Before.(domain.SampleMember); ok && before.SampleID == after.SampleID {
			continue
		}
		key := string(after.GenomeType) + "/" + after.SampleID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		live := 0
		for _, m := range view.ListSampleMembers(domain.MemberFilter{GenomeType: after.GenomeType}) {
			if m.SampleID == after.SampleID && !m.State.Absorbing() {
				live++
			}
		}
		if live > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "live_sample_identity",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("sample id %s is carried by %d live %s members", after.SampleID, live, after.GenomeType),
				Entity:   domain.EntitySampleMember,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
