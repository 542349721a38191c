package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type alertRepository struct {
	mu     sync.RWMutex
	alerts map[string]map[string]*model.Alert
	// open maps the dedup key of every open alert to its ID.
	open map[model.AlertDedupKey]string
}

func newAlertRepository() *alertRepository {
	return &alertRepository{
		alerts: make(map[string]map[string]*model.Alert),
		open:   make(map[model.AlertDedupKey]string),
	}
}

func copyAlert(a *model.Alert) *model.Alert {
	c := *a
	c.ResolvedAt = copyTimePtr(a.ResolvedAt)
	return &c
}

func (r *alertRepository) Upsert(ctx context.Context, orgID string, alert *model.Alert, now time.Time) (*model.Alert, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := copyAlert(alert)
	candidate.OrgID = orgID
	key := candidate.DedupKey()

	if id, ok := r.open[key]; ok {
		existing := r.alerts[orgID][id]
		existing.Severity = candidate.Severity
		existing.Title = candidate.Title
		existing.Description = candidate.Description
		existing.UpdatedAt = now
		return copyAlert(existing), false, nil
	}

	assignID(&candidate.ID)
	candidate.Status = types.ReviewStatusOpen
	candidate.CreatedAt = now
	candidate.UpdatedAt = now

	if _, ok := r.alerts[orgID]; !ok {
		r.alerts[orgID] = make(map[string]*model.Alert)
	}
	r.alerts[orgID][candidate.ID] = candidate
	r.open[key] = candidate.ID
	return copyAlert(candidate), true, nil
}

func (r *alertRepository) Get(ctx context.Context, orgID, alertID string) (*model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[orgID][alertID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "alert not found", goerr.V("alert_id", alertID))
	}
	return copyAlert(a), nil
}

func (r *alertRepository) List(ctx context.Context, orgID string, q interfaces.AlertQuery) ([]*model.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.Alert{}
	for _, a := range r.alerts[orgID] {
		if q.Matches(a) {
			result = append(result, copyAlert(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (r *alertRepository) Update(ctx context.Context, orgID string, alert *model.Alert) (*model.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.alerts[orgID][alert.ID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "alert not found", goerr.V("alert_id", alert.ID))
	}

	updated := copyAlert(alert)
	updated.OrgID = orgID
	updated.CreatedAt = existing.CreatedAt
	r.alerts[orgID][alert.ID] = updated

	key := existing.DedupKey()
	if updated.Status != types.ReviewStatusOpen && r.open[key] == updated.ID {
		delete(r.open, key)
	}
	return copyAlert(updated), nil
}
