package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"genomicore/internal/infra/persistence/memory"
	"genomicore/pkg/domain"
)

func seedMember(t *testing.T, store *memory.Store, m domain.SampleMember) domain.SampleMember {
	t.Helper()
	var created domain.SampleMember
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		set, err := tx.CreateSampleSet(domain.SampleSet{Version: 1})
		if err != nil {
			return err
		}
		m.SampleSetID = set.ID
		created, err = tx.CreateSampleMember(m)
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return created
}

func setState(store *memory.Store, id string, state domain.GenomicState, reason string) error {
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateSampleMember(id, func(m *domain.SampleMember) error {
			m.State = state
			m.StateOverrideReason = reason
			return nil
		})
		return err
	})
	return err
}

func TestLifecycleRuleAllowsSignalTransitions(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	m := seedMember(t, store, domain.SampleMember{State: domain.StateAW1})
	if err := setState(store, m.ID, domain.StateAW2, ""); err != nil {
		t.Fatalf("AW1 -> AW2 should be allowed: %v", err)
	}
}

func TestLifecycleRuleBlocksUnexplainedJumps(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	m := seedMember(t, store, domain.SampleMember{State: domain.StateAW0})
	err := setState(store, m.ID, domain.StateW3, "")
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || !strings.Contains(err.Error(), "no signal moves") {
		t.Fatalf("expected blocked jump, got %v", err)
	}
	if err := setState(store, m.ID, domain.StateW3, "operator correction"); err != nil {
		t.Fatalf("override with reason should pass: %v", err)
	}
}

func TestLifecycleRuleGuardsAbsorbingStates(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	m := seedMember(t, store, domain.SampleMember{State: domain.StateAW2})
	if err := setState(store, m.ID, domain.StateIgnore, ""); err == nil {
		t.Fatalf("entering IGNORE without a reason must be blocked")
	}
	if err := setState(store, m.ID, domain.StateIgnore, "withdrawn"); err != nil {
		t.Fatalf("entering IGNORE with reason: %v", err)
	}
	if err := setState(store, m.ID, domain.StateAW2, "undo"); err == nil {
		t.Fatalf("leaving IGNORE must be blocked even with a reason")
	}
}

func TestLifecycleRuleRejectsUnknownState(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		set, err := tx.CreateSampleSet(domain.SampleSet{})
		if err != nil {
			return err
		}
		_, err = tx.CreateSampleMember(domain.SampleMember{SampleSetID: set.ID, State: "LIMBO"})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "invalid state") {
		t.Fatalf("expected invalid state violation, got %v", err)
	}
}

func TestLiveSampleIdentityRuleWarns(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	seedMember(t, store, domain.SampleMember{SampleID: "S1", GenomeType: domain.GenomeWGS, State: domain.StateAW1})
	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		set, err := tx.CreateSampleSet(domain.SampleSet{})
		if err != nil {
			return err
		}
		_, err = tx.CreateSampleMember(domain.SampleMember{SampleSetID: set.ID, SampleID: "S1", GenomeType: domain.GenomeWGS, State: domain.StateAW1})
		return err
	})
	if err != nil {
		t.Fatalf("warnings must not block: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected one warning, got %+v", res.Violations)
	}
}
