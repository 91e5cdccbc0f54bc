package core

import (
	"context"
	"fmt"

	"genomicore/pkg/domain"
)

// LifecycleTransitionRule blocks sample member state changes that neither a
// signal nor an operator override can explain.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySampleMember {
			continue
		}
		after, ok := change.After.(domain.SampleMember)
		if !ok {
			continue
		}
		if !after.State.Valid() {
			res.Violations = append(res.Violations, r.block(after.ID, fmt.Sprintf("sample member %s is set to invalid state %s", after.ID, after.State)))
			continue
		}
		before, ok := change.Before.(domain.SampleMember)
		if !ok || before.State == after.State {
			continue
		}
		switch {
		case before.State.Absorbing():
			res.Violations = append(res.Violations, r.block(after.ID,
				fmt.Sprintf("cannot move sample member %s out of %s", after.ID, before.State)))
		case after.State.Absorbing() && after.StateOverrideReason == "":
			res.Violations = append(res.Violations, r.block(after.ID,
				fmt.Sprintf("moving sample member %s to %s requires an override reason", after.ID, after.State)))
		case !domain.CanReach(before.State, after.State) && after.StateOverrideReason == "":
			res.Violations = append(res.Violations, r.block(after.ID,
				fmt.Sprintf("no signal moves sample member %s from %s to %s", after.ID, before.State, after.State)))
		}
	}
	return res, nil
}

func (lifecycleTransitionRule) block(id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "lifecycle_transition",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntitySampleMember,
		EntityID: id,
	}
}
