package genomic

import (
	"context"
	"slices"
	"testing"

	"genomicore/pkg/domain"
)

const biobankHeader = "collection_tube_id,participant_id,biobank_id,sex_at_birth,age,zip_code,consent_cohort,enrollment_milestone,consent_for_genomics,withdrawn\n"

func loadBiobank(t *testing.T, fx *fixture, rows string) {
	t.Helper()
	fx.put(t, inboxBucket, "biobank/genomic-manifest-20240101.csv", biobankHeader+rows)
	h := fx.begin(t, domain.JobBiobankLoad)
	sub, err := fx.svc.LoadBiobankSamples(context.Background(), h, FileRef{Bucket: inboxBucket, Subfolder: "biobank"})
	if err != nil || sub.Result != domain.ResultSuccess {
		t.Fatalf("load biobank: %+v %v", sub, err)
	}
}

func TestLoadBiobankSamples(t *testing.T) {
	d := recordingDispatcher()
	fx := newFixture(t, WithDispatcher(d))
	loadBiobank(t, fx, "T1,P1,A1,m,30,12345,C1,M1,yes,no\n")
	fx.view(t, func(v domain.TransactionView) {
		b, ok := v.FindBiobankSample("T1")
		if !ok || b.ParticipantID != "P1" || b.SexAtBirth != "M" || b.Age != 30 || !b.ConsentedGenomics || b.Withdrawn {
			t.Fatalf("unexpected biobank sample %+v", b)
		}
		if _, ok := v.FindManifestFileByPath(inboxBucket + "/biobank/genomic-manifest-20240101.csv"); ok {
			t.Fatalf("biobank hand-offs are not genome center manifests")
		}
	})
	if len(d.Tasks()) != 0 {
		t.Fatalf("biobank files need no record count task")
	}
}

func TestCreateSampleSet(t *testing.T) {
	fx := newFixture(t, WithDispatcher(recordingDispatcher()))
	ctx := context.Background()
	loadBiobank(t, fx, ""+
		"T1,P1,A1,M,30,12345,C1,M1,yes,no\n"+
		"T2,P2,A2,F,16,12345-6789,C1,M1,yes,no\n"+
		"T3,P3,A3,U,40,ABCDE,C2,M1,no,yes\n")

	h := fx.begin(t, domain.JobCreateSampleSet)
	sub, err := fx.svc.CreateSampleSet(ctx, h, Criteria{ConsentCohorts: []string{"C1"}})
	if err != nil || sub.Result != domain.ResultSuccess || sub.Inserted != 4 {
		t.Fatalf("create set = %+v %v", sub, err)
	}
	fx.view(t, func(v domain.TransactionView) {
		sets := v.ListSampleSets()
		if len(sets) != 1 || sets[0].Version != 1 || sets[0].Criteria != "cohorts=C1" {
			t.Fatalf("unexpected sets %+v", sets)
		}
		for _, m := range v.ListSampleMembers(domain.MemberFilter{}) {
			if m.State != domain.StateAW0Ready || m.SampleSetID != sets[0].ID {
				t.Fatalf("unexpected member %+v", m)
			}
			switch m.CollectionTubeID {
			case "T1":
				if !m.IsValid() {
					t.Fatalf("T1 should be valid, flags %v", m.ValidationFlags)
				}
			case "T2":
				if !slices.Equal(m.ValidationFlags, []domain.ValidationFlag{domain.ValidationAge}) {
					t.Fatalf("unexpected T2 flags %v", m.ValidationFlags)
				}
			default:
				t.Fatalf("T3 does not match the criteria")
			}
		}
		if got := len(v.ListMembersByCollectionTube("T1")); got != 2 {
			t.Fatalf("expected one member per genome type, got %d", got)
		}
	})

	again, err := fx.svc.CreateSampleSet(ctx, h, Criteria{ConsentCohorts: []string{"C1"}})
	if err != nil || again.Result != domain.ResultNoFiles {
		t.Fatalf("coupled samples must not be coupled again: %+v %v", again, err)
	}

	wgs, err := fx.svc.CreateSampleSet(ctx, h, Criteria{GenomeTypes: []domain.GenomeType{domain.GenomeWGS}})
	if err != nil || wgs.Inserted != 1 {
		t.Fatalf("wgs set = %+v %v", wgs, err)
	}
	fx.view(t, func(v domain.TransactionView) {
		members := v.ListMembersByCollectionTube("T3")
		if len(members) != 1 || members[0].GenomeType != domain.GenomeWGS {
			t.Fatalf("unexpected T3 members %+v", members)
		}
		want := []domain.ValidationFlag{domain.ValidationConsent, domain.ValidationSexAtBirth, domain.ValidationZipCode, domain.ValidationWithdrawn}
		if !slices.Equal(members[0].ValidationFlags, want) {
			t.Fatalf("unexpected T3 flags %v", members[0].ValidationFlags)
		}
		if len(v.ListSampleSets()) != 2 {
			t.Fatalf("expected a second set")
		}
	})

	if _, err := fx.svc.CreateSampleSet(ctx, h, Criteria{GenomeTypes: []domain.GenomeType{"aou_other"}}); err == nil {
		t.Fatalf("expected unknown genome type error")
	}
}

func TestCriteriaString(t *testing.T) {
	if got := (Criteria{}).String(); got != "all" {
		t.Fatalf("unexpected empty criteria %q", got)
	}
	c := Criteria{ConsentCohorts: []string{"C1", "C2"}, EnrollmentMilestones: []string{"M1"}, CollectionTubeIDs: []string{"T1", "T2"}}
	if got := c.String(); got != "cohorts=C1,C2;milestones=M1;tubes=2" {
		t.Fatalf("unexpected criteria %q", got)
	}
	if c.matches(domain.BiobankSample{ConsentCohort: "C1", EnrollmentMilestone: "M1", CollectionTubeID: "T9"}) {
		t.Fatalf("tube filter ignored")
	}
}
