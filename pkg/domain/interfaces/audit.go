package interfaces

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
)

// AuditQuery filters audit events of one org. Zero values match everything.
type AuditQuery struct {
	EventType  string
	EntityType string
	EntityID   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// Matches reports whether ev satisfies the query, ignoring Limit.
func (q AuditQuery) Matches(ev *model.AuditEvent) bool {
	if q.EventType != "" && ev.EventType != q.EventType {
		return false
	}
	if q.EntityType != "" && ev.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && ev.EntityID != q.EntityID {
		return false
	}
	if q.Since != nil && ev.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && ev.Timestamp.After(*q.Until) {
		return false
	}
	return true
}

// AuditEventRepository stores audit events alongside the other entities.
type AuditEventRepository interface {
	Append(ctx context.Context, ev *model.AuditEvent) error
	// List returns matching events, newest first.
	List(ctx context.Context, orgID string, q AuditQuery) ([]*model.AuditEvent, error)
}

// AuditSink is the append-only audit log. It offers no update or
// delete operation.
type AuditSink interface {
	Record(ctx context.Context, ev *model.AuditEvent) (string, error)
}

// AuditReader queries recorded audit events.
type AuditReader interface {
	Query(ctx context.Context, orgID string, q AuditQuery) ([]*model.AuditEvent, error)
}
