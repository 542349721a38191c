// Package audit provides the append-only audit log sinks.
package audit

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
)

// RepositorySink stores audit events in the primary repository.
type RepositorySink struct {
	events interfaces.AuditEventRepository
}

var (
	_ interfaces.AuditSink   = &RepositorySink{}
	_ interfaces.AuditReader = &RepositorySink{}
)

func NewRepositorySink(repo interfaces.Repository) *RepositorySink {
	return &RepositorySink{events: repo.AuditEvent()}
}

func (s *RepositorySink) Record(ctx context.Context, ev *model.AuditEvent) (string, error) {
	if ev.EventType == "" {
		return "", goerr.New("audit event type is required")
	}
	if ev.ID == "" {
		ev.ID = model.NewID()
	}
	if err := s.events.Append(ctx, ev); err != nil {
		return "", goerr.Wrap(err, "failed to append audit event", goerr.V("event_type", ev.EventType))
	}
	return ev.ID, nil
}

func (s *RepositorySink) Query(ctx context.Context, orgID string, q interfaces.AuditQuery) ([]*model.AuditEvent, error) {
	events, err := s.events.List(ctx, orgID, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list audit events", goerr.V("org_id", orgID))
	}
	return events, nil
}
