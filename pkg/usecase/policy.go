package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// RedactionMarker replaces detected contact information.
const RedactionMarker = "[REDACTED]"

type PolicyUseCase struct {
	repo     interfaces.Repository
	detector interfaces.PolicyDetector
	audit    *auditor
	clock    func() time.Time
}

func newPolicyUseCase(repo interfaces.Repository, detector interfaces.PolicyDetector, audit *auditor, clock func() time.Time) *PolicyUseCase {
	return &PolicyUseCase{
		repo:     repo,
		detector: detector,
		audit:    audit,
		clock:    clock,
	}
}

// Detect runs the configured detector. Without a detector nothing is found.
func (uc *PolicyUseCase) Detect(body string) []model.Violation {
	if uc.detector == nil {
		return nil
	}
	return uc.detector.Detect(body)
}

// Redact replaces every detected content in body with RedactionMarker.
func Redact(body string, violations []model.Violation) string {
	for _, v := range violations {
		if v.Content == "" {
			continue
		}
		body = strings.ReplaceAll(body, v.Content, RedactionMarker)
	}
	return body
}

// record stores one violation per detection. messageID is empty when the
// message was blocked before it was stored.
func (uc *PolicyUseCase) record(ctx context.Context, orgID, threadID, messageID, redacted string, violations []model.Violation, action types.ViolationAction) ([]*model.PolicyViolation, error) {
	stored := make([]*model.PolicyViolation, 0, len(violations))
	for _, v := range violations {
		pv, err := uc.repo.Violation().Create(ctx, orgID, &model.PolicyViolation{
			ThreadID:         threadID,
			MessageID:        messageID,
			Type:             v.Type,
			DetectedSummary:  v.Reason,
			DetectedRedacted: redacted,
			ActionTaken:      action,
			Status:           types.ReviewStatusOpen,
			CreatedAt:        uc.clock(),
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to record policy violation",
				goerr.V(ThreadIDKey, threadID), goerr.V("type", v.Type))
		}
		stored = append(stored, pv)
	}
	return stored, nil
}

func (uc *PolicyUseCase) List(ctx context.Context, orgID string, q interfaces.ViolationQuery) ([]*model.PolicyViolation, error) {
	violations, err := uc.repo.Violation().List(ctx, orgID, q)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list policy violations", goerr.V(OrgIDKey, orgID))
	}
	return violations, nil
}

func (uc *PolicyUseCase) Resolve(ctx context.Context, orgID, violationID, actorID string) (*model.PolicyViolation, error) {
	return uc.review(ctx, orgID, violationID, actorID, types.ReviewStatusResolved, model.EventPolicyViolationResolved)
}

func (uc *PolicyUseCase) Dismiss(ctx context.Context, orgID, violationID, actorID string) (*model.PolicyViolation, error) {
	return uc.review(ctx, orgID, violationID, actorID, types.ReviewStatusDismissed, model.EventPolicyViolationDismiss)
}

func (uc *PolicyUseCase) review(ctx context.Context, orgID, violationID, actorID string, status types.ReviewStatus, eventType string) (*model.PolicyViolation, error) {
	v, err := uc.repo.Violation().Get(ctx, orgID, violationID)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "policy violation not found", goerr.V(ViolationKey, violationID))
	}
	if v.Status != types.ReviewStatusOpen {
		return nil, goerr.Wrap(ErrValidation, "policy violation is not open",
			goerr.V(ViolationKey, violationID), goerr.V("status", v.Status))
	}

	now := uc.clock()
	v.Status = status
	v.ReviewedBy = actorID
	v.ReviewedAt = &now

	updated, err := uc.repo.Violation().Update(ctx, orgID, v)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "failed to update policy violation", goerr.V(ViolationKey, violationID))
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:          orgID,
		ActorType:      types.ActorTypeOwner,
		ActorID:        actorID,
		EntityType:     model.EntityPolicyViolation,
		EntityID:       violationID,
		EventType:      eventType,
		CorrelationIDs: map[string]string{"threadId": v.ThreadID, "messageId": v.MessageID},
		Payload:        map[string]any{"type": string(v.Type)},
	})

	return updated, nil
}
