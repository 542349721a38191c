package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/async"
)

// AlertUseCase raises deduplicated alerts and escalates critical ones.
type AlertUseCase struct {
	repo     interfaces.Repository
	audit    *auditor
	notifier interfaces.AlertNotifier
	clock    func() time.Time
}

var _ interfaces.AlertRaiser = &AlertUseCase{}

func newAlertUseCase(repo interfaces.Repository, audit *auditor, notifier interfaces.AlertNotifier, clock func() time.Time) *AlertUseCase {
	return &AlertUseCase{
		repo:     repo,
		audit:    audit,
		notifier: notifier,
		clock:    clock,
	}
}

// Raise creates the alert, or refreshes the open alert with the same dedup
// key. A newly created critical alert is escalated.
func (uc *AlertUseCase) Raise(ctx context.Context, alert *model.Alert) (*model.Alert, error) {
	if alert.OrgID == "" || alert.Type == "" {
		return nil, goerr.Wrap(ErrValidation, "alert requires org and type")
	}
	if !alert.Severity.IsValid() {
		return nil, goerr.Wrap(ErrValidation, "invalid alert severity", goerr.V("severity", alert.Severity))
	}

	stored, created, err := uc.repo.Alert().Upsert(ctx, alert.OrgID, alert, uc.clock())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to upsert alert", goerr.V("type", alert.Type))
	}

	eventType := model.EventAlertUpdated
	if created {
		eventType = model.EventAlertCreated
	}
	uc.recordAlertEvent(ctx, stored, types.ActorTypeSystem, "", eventType)

	if created && stored.Severity == types.AlertSeverityCritical {
		uc.escalate(ctx, stored)
	}

	return stored, nil
}

func (uc *AlertUseCase) escalate(ctx context.Context, alert *model.Alert) {
	uc.recordAlertEvent(ctx, alert, types.ActorTypeSystem, "", model.EventEscalationTriggered)

	if uc.notifier == nil {
		return
	}
	notified := *alert
	async.Dispatch(ctx, func(ctx context.Context) error {
		return uc.notifier.NotifyAlert(ctx, &notified)
	})
}

func (uc *AlertUseCase) Resolve(ctx context.Context, orgID, alertID, actorID string) (*model.Alert, error) {
	return uc.close(ctx, orgID, alertID, actorID, types.ReviewStatusResolved)
}

// Dismiss closes a non-critical alert without action.
func (uc *AlertUseCase) Dismiss(ctx context.Context, orgID, alertID, actorID string) (*model.Alert, error) {
	return uc.close(ctx, orgID, alertID, actorID, types.ReviewStatusDismissed)
}

func (uc *AlertUseCase) close(ctx context.Context, orgID, alertID, actorID string, status types.ReviewStatus) (*model.Alert, error) {
	alert, err := uc.repo.Alert().Get(ctx, orgID, alertID)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "alert not found", goerr.V(AlertIDKey, alertID))
	}
	if alert.Status != types.ReviewStatusOpen {
		return nil, goerr.Wrap(ErrValidation, "alert is not open",
			goerr.V(AlertIDKey, alertID), goerr.V("status", alert.Status))
	}
	if status == types.ReviewStatusDismissed && alert.Severity == types.AlertSeverityCritical {
		return nil, goerr.Wrap(ErrValidation, "critical alerts cannot be dismissed", goerr.V(AlertIDKey, alertID))
	}

	now := uc.clock()
	alert.Status = status
	alert.ResolvedAt = &now
	alert.ResolvedBy = actorID
	alert.UpdatedAt = now

	updated, err := uc.repo.Alert().Update(ctx, orgID, alert)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "failed to update alert", goerr.V(AlertIDKey, alertID))
	}

	eventType := model.EventAlertResolved
	if status == types.ReviewStatusDismissed {
		eventType = model.EventAlertDismissed
	}
	uc.recordAlertEvent(ctx, updated, types.ActorTypeOwner, actorID, eventType)

	return updated, nil
}

func (uc *AlertUseCase) List(ctx context.Context, orgID string, q interfaces.AlertQuery) ([]*model.Alert, error) {
	alerts, err := uc.repo.Alert().List(ctx, orgID, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list alerts", goerr.V(OrgIDKey, orgID))
	}
	return alerts, nil
}

func (uc *AlertUseCase) recordAlertEvent(ctx context.Context, alert *model.Alert, actorType types.ActorType, actorID, eventType string) {
	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      alert.OrgID,
		ActorType:  actorType,
		ActorID:    actorID,
		EntityType: model.EntityAlert,
		EntityID:   alert.ID,
		EventType:  eventType,
		CorrelationIDs: map[string]string{
			"entityType": alert.EntityType,
			"entityId":   alert.EntityID,
		},
		Payload: map[string]any{
			"type":     alert.Type,
			"severity": string(alert.Severity),
			"title":    alert.Title,
		},
	})
}
