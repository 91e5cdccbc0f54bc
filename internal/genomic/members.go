package genomic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"genomicore/internal/core"
	"genomicore/pkg/domain"
)

// ErrFieldNotUpdatable rejects a field outside the bulk-update allow-list.
var ErrFieldNotUpdatable = errors.New("field not updatable")

type fieldSetter func(m *domain.SampleMember, v any) error

func stringField(set func(*domain.SampleMember, string)) fieldSetter {
	return func(m *domain.SampleMember, v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		set(m, s)
		return nil
	}
}

func boolField(set func(*domain.SampleMember, bool)) fieldSetter {
	return func(m *domain.SampleMember, v any) error {
		switch b := v.(type) {
		case bool:
			set(m, b)
		case string:
			switch strings.ToLower(b) {
			case "true", "1", "yes":
				set(m, true)
			case "false", "0", "no":
				set(m, false)
			default:
				return fmt.Errorf("expected boolean, got %q", b)
			}
		default:
			return fmt.Errorf("expected boolean, got %T", v)
		}
		return nil
	}
}

var updatableFields = map[string]fieldSetter{
	"qc_status":                stringField(func(m *domain.SampleMember, v string) { m.QCStatus = v }),
	"gc_site_id":               stringField(func(m *domain.SampleMember, v string) { m.GCSiteID = v }),
	"failure_mode":             stringField(func(m *domain.SampleMember, v string) { m.FailureMode = v }),
	"failure_mode_description": stringField(func(m *domain.SampleMember, v string) { m.FailureModeDescription = v }),
	"block_research":           boolField(func(m *domain.SampleMember, v bool) { m.BlockResearch = v }),
	"block_research_reason":    stringField(func(m *domain.SampleMember, v string) { m.BlockResearchReason = v }),
	"block_results":            boolField(func(m *domain.SampleMember, v bool) { m.BlockResults = v }),
	"block_results_reason":     stringField(func(m *domain.SampleMember, v string) { m.BlockResultsReason = v }),
}

// UpdatableFields lists the fields UpdateMembers accepts.
func UpdatableFields() []string {
	out := make([]string, 0, len(updatableFields))
	for k := range updatableFields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UpdateMembers sets one allow-listed field on every listed member in a
// single transaction. A missing member fails the whole update.
func (s *Service) UpdateMembers(ctx context.Context, h *RunHandle, memberIDs []string, field string, value any) (SubProcessResult, error) {
	set, ok := updatableFields[field]
	if !ok {
		return SubProcessResult{Result: domain.ResultError}, fmt.Errorf("%w: %q", ErrFieldNotUpdatable, field)
	}
	if len(memberIDs) == 0 {
		return SubProcessResult{Result: domain.ResultNoFiles}, nil
	}
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, id := range memberIDs {
			if _, ok := tx.FindSampleMember(id); !ok {
				return &LookupError{Code: domain.IncidentMemberNotFound, Entity: "member", Key: id}
			}
			if _, err := tx.UpdateSampleMember(id, func(m *domain.SampleMember) error { return set(m, value) }); err != nil {
				return fmt.Errorf("member %s: %w", id, err)
			}
		}
		return nil
	})
	var le *LookupError
	if errors.As(err, &le) {
		inc := domain.Incident{Code: le.Code, Message: fmt.Sprintf("update %s: %v", field, le), MemberID: le.Key}
		if _, _, rerr := s.incidents.Record(ctx, h, inc, RecordOptions{Persist: true}); rerr != nil {
			s.logger.Error("record update incident", "error", rerr)
		}
	}
	if err != nil {
		return SubProcessResult{Result: domain.ResultError}, err
	}
	s.logger.Info("members updated", "field", field, "count", len(memberIDs))
	return SubProcessResult{Result: domain.ResultSuccess, Updated: len(memberIDs)}, nil
}

// OperatorOverride moves a member to any valid state, recording the reason.
// It is the only way into IGNORE and CONTROL_SAMPLE. Absorbing states cannot
// be left, even by an override.
func (s *Service) OperatorOverride(ctx context.Context, memberID string, state domain.GenomicState, reason, actor string) (domain.SampleMember, error) {
	entry := core.AuditEntry{
		Operation: "member.override",
		Entity:    domain.EntitySampleMember,
		EntityID:  memberID,
		Status:    core.AuditStatusSuccess,
		Actor:     actor,
		Reason:    reason,
		At:        s.now(),
	}
	member, err := s.override(ctx, memberID, state, reason)
	if err != nil {
		entry.Status = core.AuditStatusError
		entry.Error = err.Error()
	}
	s.opts.audit.Record(ctx, entry)
	return member, err
}

func (s *Service) override(ctx context.Context, memberID string, state domain.GenomicState, reason string) (domain.SampleMember, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.SampleMember{}, errors.New("override reason required")
	}
	if !state.Valid() {
		return domain.SampleMember{}, fmt.Errorf("unknown state %q", state)
	}
	var out domain.SampleMember
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindSampleMember(memberID); !ok {
			return core.ErrNotFound{Entity: domain.EntitySampleMember, ID: memberID}
		}
		updated, err := tx.UpdateSampleMember(memberID, func(m *domain.SampleMember) error {
			m.State = state
			m.StateModifiedAt = s.now()
			m.StateOverrideReason = reason
			return nil
		})
		out = updated
		return err
	})
	if err != nil {
		return domain.SampleMember{}, fmt.Errorf("override %s: %w", memberID, err)
	}
	s.logger.Warn("member state overridden", "member_id", memberID, "state", string(state), "reason", reason)
	return out, nil
}
