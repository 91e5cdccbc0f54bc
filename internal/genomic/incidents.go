package genomic

import (
	"context"
	"fmt"
	"time"

	"genomicore/internal/core"
	"genomicore/internal/notify"
	"genomicore/pkg/domain"
)

// RecordOptions selects the side effects of IncidentRecorder.Record.
type RecordOptions struct {
	Persist bool
	Alert   bool
}

// IncidentRecorder persists and alerts on incidents. An open incident with
// the same message inside the dedup window suppresses a new one.
type IncidentRecorder struct {
	store   domain.PersistentStore
	clock   core.Clock
	logger  core.Logger
	audit   core.AuditRecorder
	window  time.Duration
	counter IncidentCounter
}

// Record persists and/or alerts inc. The boolean is false when the incident
// was suppressed as a duplicate, in which case no alert is sent.
func (r *IncidentRecorder) Record(ctx context.Context, h *RunHandle, inc domain.Incident, opts RecordOptions) (domain.Incident, bool, error) {
	if inc.JobRunID == "" && h != nil {
		inc.JobRunID = h.Run.ID
	}
	if inc.Status == "" {
		inc.Status = domain.IncidentOpen
	}
	if opts.Persist {
		cutoff := r.clock.Now().UTC().Add(-r.window)
		suppressed := false
		_, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			for _, existing := range tx.ListIncidents() {
				if existing.Status == domain.IncidentOpen && existing.Message == inc.Message && existing.CreatedAt.After(cutoff) {
					inc = existing
					suppressed = true
					return nil
				}
			}
			created, err := tx.CreateIncident(inc)
			if err != nil {
				return err
			}
			inc = created
			return nil
		})
		if err != nil {
			return inc, false, fmt.Errorf("record incident %s: %w", inc.Code, err)
		}
		if suppressed {
			r.logger.Debug("duplicate incident suppressed", "incident_id", inc.ID, "code", string(inc.Code))
			return inc, false, nil
		}
		if r.counter != nil {
			r.counter.CountIncident(string(inc.Code))
		}
		r.logger.Warn("incident recorded", "incident_id", inc.ID, "code", string(inc.Code), "message", inc.Message)
	}
	if opts.Alert {
		alerter := notify.NoopAlerter()
		if h != nil && h.Alerter != nil {
			alerter = h.Alerter
		}
		if err := alerter.Alert(ctx, inc.Message); err != nil {
			r.logger.Error("incident alert failed", "code", string(inc.Code), "error", err)
			return inc, true, nil
		}
		if opts.Persist {
			at := r.clock.Now().UTC()
			_, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
				updated, err := tx.UpdateIncident(inc.ID, func(i *domain.Incident) error {
					i.Notified = true
					i.NotifiedAt = &at
					return nil
				})
				if err != nil {
					return err
				}
				inc = updated
				return nil
			})
			if err != nil {
				r.logger.Error("mark incident notified", "incident_id", inc.ID, "error", err)
			}
		}
	}
	return inc, true, nil
}

// Resolve closes an open incident.
func (r *IncidentRecorder) Resolve(ctx context.Context, id, actor string) (domain.Incident, error) {
	var out domain.Incident
	_, err := r.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindIncident(id); !ok {
			return core.ErrNotFound{Entity: domain.EntityIncident, ID: id}
		}
		updated, err := tx.UpdateIncident(id, func(i *domain.Incident) error {
			i.Status = domain.IncidentResolved
			return nil
		})
		out = updated
		return err
	})
	entry := core.AuditEntry{
		Operation: "incident.resolve",
		Entity:    domain.EntityIncident,
		EntityID:  id,
		Status:    core.AuditStatusSuccess,
		Actor:     actor,
		At:        r.clock.Now().UTC(),
	}
	if err != nil {
		entry.Status = core.AuditStatusError
		entry.Error = err.Error()
	}
	r.audit.Record(ctx, entry)
	return out, err
}

// List returns incidents, optionally only the open ones.
func (r *IncidentRecorder) List(ctx context.Context, openOnly bool) ([]domain.Incident, error) {
	var out []domain.Incident
	err := r.store.View(ctx, func(v domain.TransactionView) error {
		for _, inc := range v.ListIncidents() {
			if openOnly && inc.Status != domain.IncidentOpen {
				continue
			}
			out = append(out, inc)
		}
		return nil
	})
	return out, err
}
