package interfaces

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// AlertQuery filters alerts of one org. Zero values match everything.
type AlertQuery struct {
	Severity   types.AlertSeverity
	Type       string
	Status     types.ReviewStatus
	EntityType string
	EntityID   string
	Limit      int
}

func (q AlertQuery) Matches(a *model.Alert) bool {
	if q.Severity != "" && a.Severity != q.Severity {
		return false
	}
	if q.Type != "" && a.Type != q.Type {
		return false
	}
	if q.Status != "" && a.Status != q.Status {
		return false
	}
	if q.EntityType != "" && a.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && a.EntityID != q.EntityID {
		return false
	}
	return true
}

type AlertRepository interface {
	// Upsert atomically creates the alert, or refreshes UpdatedAt and the
	// descriptive fields of the open alert with the same dedup key.
	Upsert(ctx context.Context, orgID string, alert *model.Alert, now time.Time) (stored *model.Alert, created bool, err error)
	Get(ctx context.Context, orgID, alertID string) (*model.Alert, error)
	// List returns matching alerts, most recently updated first.
	List(ctx context.Context, orgID string, q AlertQuery) ([]*model.Alert, error)
	Update(ctx context.Context, orgID string, alert *model.Alert) (*model.Alert, error)
}

// AlertRaiser raises deduplicated alerts. Components that only need to raise
// alerts depend on this instead of the alert usecase.
type AlertRaiser interface {
	Raise(ctx context.Context, alert *model.Alert) (*model.Alert, error)
}

// AlertNotifier pushes alerts to an external channel.
type AlertNotifier interface {
	NotifyAlert(ctx context.Context, alert *model.Alert) error
}
