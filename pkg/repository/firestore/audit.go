package firestore

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
)

type auditEventRepository struct {
	*base
}

func (r *auditEventRepository) Append(ctx context.Context, ev *model.AuditEvent) error {
	stored := *ev
	assignID(&stored.ID)
	stampTime(&stored.Timestamp)

	if _, err := r.collection(collectionAuditEvents).Doc(stored.ID).Create(ctx, &stored); err != nil {
		return goerr.Wrap(err, "failed to append audit event",
			goerr.V("event_type", ev.EventType), goerr.V("event_id", stored.ID))
	}
	return nil
}

func (r *auditEventRepository) List(ctx context.Context, orgID string, q interfaces.AuditQuery) ([]*model.AuditEvent, error) {
	fq := r.collection(collectionAuditEvents).Where("OrgID", "==", orgID)
	if q.EventType != "" {
		fq = fq.Where("EventType", "==", q.EventType)
	}
	if q.EntityID != "" {
		fq = fq.Where("EntityID", "==", q.EntityID)
	}

	events, err := collect[model.AuditEvent](fq.Documents(ctx), "audit events")
	if err != nil {
		return nil, err
	}

	result := []*model.AuditEvent{}
	for _, ev := range events {
		if q.Matches(ev) {
			result = append(result, ev)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID > result[j].ID
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}
