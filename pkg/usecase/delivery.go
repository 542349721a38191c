package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

// DeliveryUseCase applies provider status reports to delivery attempts.
type DeliveryUseCase struct {
	repo     interfaces.Repository
	provider interfaces.Provider
	retry    *RetryUseCase
	audit    *auditor
	clock    func() time.Time
}

func newDeliveryUseCase(repo interfaces.Repository, provider interfaces.Provider, retry *RetryUseCase, audit *auditor, clock func() time.Time) *DeliveryUseCase {
	return &DeliveryUseCase{
		repo:     repo,
		provider: provider,
		retry:    retry,
		audit:    audit,
		clock:    clock,
	}
}

// ApplyStatus updates d when it is still the latest attempt of its message
// and the status moves it forward. It returns an empty reason when applied,
// ReasonStaleAttempt for superseded attempts and ReasonStaleStatus for
// out-of-order reports; both leave the attempt untouched.
func (uc *DeliveryUseCase) ApplyStatus(ctx context.Context, d *model.MessageDelivery, status types.DeliveryStatus, errorCode, errorMessage string) (string, error) {
	logger := logging.From(ctx).With("delivery_id", d.ID, "attempt_no", d.AttemptNo)

	latest, err := uc.repo.Delivery().Latest(ctx, d.OrgID, d.MessageID)
	if err != nil {
		return "", goerr.Wrap(err, "failed to get latest delivery",
			goerr.V(MessageIDKey, d.MessageID), goerr.V(DeliveryIDKey, d.ID))
	}
	if latest.ID != d.ID {
		logger.Info("status for superseded attempt ignored", "latest_attempt", latest.AttemptNo)
		return ReasonStaleAttempt, nil
	}

	previous := latest.Status
	updated, err := uc.repo.Delivery().UpdateStatus(ctx, d.OrgID, d.ID, interfaces.DeliveryStatusUpdate{
		Status:       status,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		At:           uc.clock(),
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrStaleStatus) {
			logger.Info("out of order delivery status ignored", "status", status, "current", previous)
			return ReasonStaleStatus, nil
		}
		return "", goerr.Wrap(err, "failed to update delivery status", goerr.V(DeliveryIDKey, d.ID))
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      d.OrgID,
		ActorType:  types.ActorTypeProvider,
		EntityType: model.EntityDelivery,
		EntityID:   d.ID,
		EventType:  model.EventDeliveryStatusUpdated,
		CorrelationIDs: map[string]string{
			"messageId": d.MessageID,
		},
		Payload: map[string]any{
			"attemptNo":      updated.AttemptNo,
			"previousStatus": string(previous),
			"status":         string(updated.Status),
			"errorCode":      updated.ProviderErrorCode,
			"errorMessage":   updated.ProviderErrorMessage,
		},
	})

	// Failed is terminal, so only one update per attempt gets here with it.
	if status == types.DeliveryStatusFailed && uc.retry != nil {
		uc.retry.onAttemptFailed(ctx, d.OrgID, d.MessageID, d.AttemptNo)
	}

	return "", nil
}

// Reconcile polls the provider for attempts that stayed pending longer than
// olderThan and applies changed statuses. It returns the number of updated
// attempts. limit bounds the attempts checked per org.
func (uc *DeliveryUseCase) Reconcile(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if uc.provider == nil {
		return 0, goerr.New("provider is not configured")
	}

	orgIDs, err := uc.repo.Number().ListOrgIDs(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list orgs")
	}

	before := uc.clock().Add(-olderThan)
	var updated int
	for _, orgID := range orgIDs {
		pending, err := uc.repo.Delivery().ListPending(ctx, orgID, before, limit)
		if err != nil {
			_ = errutil.Handle(ctx, goerr.Wrap(err, "failed to list pending deliveries", goerr.V(OrgIDKey, orgID)),
				"reconcile skipped org")
			continue
		}

		for _, d := range pending {
			if err := ctx.Err(); err != nil {
				return updated, err
			}

			status, err := uc.provider.GetDeliveryStatus(ctx, d.ProviderMessageSID)
			if err != nil {
				logging.From(ctx).Warn("failed to fetch delivery status",
					"delivery_id", d.ID, "error", err.Error())
				continue
			}
			if status == d.Status {
				continue
			}

			reason, err := uc.ApplyStatus(ctx, d, status, "", "")
			if err != nil {
				if errors.Is(err, interfaces.ErrNotFound) {
					continue
				}
				_ = errutil.Handle(ctx, err, "failed to apply reconciled status")
				continue
			}
			if reason == "" {
				updated++
			}
		}
	}

	logging.From(ctx).Info("delivery reconcile finished", "orgs", len(orgIDs), "updated", updated)
	return updated, nil
}
