package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
)

type auditEventRepository struct {
	mu     sync.RWMutex
	events map[string][]*model.AuditEvent
}

func newAuditEventRepository() *auditEventRepository {
	return &auditEventRepository{
		events: make(map[string][]*model.AuditEvent),
	}
}

func copyAuditEvent(ev *model.AuditEvent) *model.AuditEvent {
	c := *ev
	c.CorrelationIDs = maps.Clone(ev.CorrelationIDs)
	c.Payload = maps.Clone(ev.Payload)
	return &c
}

func (r *auditEventRepository) Append(ctx context.Context, ev *model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := copyAuditEvent(ev)
	assignID(&stored.ID)
	stampTime(&stored.Timestamp)
	r.events[stored.OrgID] = append(r.events[stored.OrgID], stored)
	return nil
}

func (r *auditEventRepository) List(ctx context.Context, orgID string, q interfaces.AuditQuery) ([]*model.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.AuditEvent{}
	for _, ev := range r.events[orgID] {
		if q.Matches(ev) {
			result = append(result, copyAuditEvent(ev))
		}
	}
	// newest first; append order breaks timestamp ties
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}
