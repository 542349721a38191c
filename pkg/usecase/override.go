package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// OverrideInput creates a routing override. StartsAt defaults to now.
// DurationHours, when positive, sets EndsAt relative to StartsAt and wins
// over EndsAt.
type OverrideInput struct {
	ThreadID      string
	TargetType    types.RoutingTarget
	TargetID      string
	StartsAt      *time.Time
	EndsAt        *time.Time
	DurationHours float64
	Reason        string
}

func (uc *RoutingUseCase) CreateOverride(ctx context.Context, orgID, actorID string, in OverrideInput) (*model.RoutingOverride, error) {
	now := uc.clock()

	if !in.TargetType.IsValid() {
		return nil, goerr.Wrap(ErrValidation, "invalid override target", goerr.V("target_type", in.TargetType))
	}
	if _, err := uc.repo.Thread().Get(ctx, orgID, in.ThreadID); err != nil {
		return nil, goerr.Wrap(asNotFound(err), "thread not found", goerr.V(ThreadIDKey, in.ThreadID))
	}

	o := &model.RoutingOverride{
		ThreadID:   in.ThreadID,
		TargetType: in.TargetType,
		StartsAt:   now,
		Reason:     in.Reason,
		CreatedBy:  actorID,
		CreatedAt:  now,
	}
	if in.StartsAt != nil {
		o.StartsAt = *in.StartsAt
	}
	switch {
	case in.DurationHours > 0:
		endsAt := o.StartsAt.Add(time.Duration(in.DurationHours * float64(time.Hour)))
		o.EndsAt = &endsAt
	case in.EndsAt != nil:
		endsAt := *in.EndsAt
		o.EndsAt = &endsAt
	}
	if o.EndsAt != nil && !o.EndsAt.After(o.StartsAt) {
		return nil, goerr.Wrap(ErrValidation, "override must end after it starts",
			goerr.V("starts_at", o.StartsAt), goerr.V("ends_at", *o.EndsAt))
	}

	if in.TargetType == types.RoutingTargetSitter {
		if in.TargetID == "" {
			return nil, goerr.Wrap(ErrValidation, "sitter override requires a target sitter")
		}
		if _, err := uc.repo.Sitter().Get(ctx, orgID, in.TargetID); err != nil {
			return nil, goerr.Wrap(asNotFound(err), "sitter not found", goerr.V(SitterIDKey, in.TargetID))
		}
		o.TargetID = in.TargetID
	}

	existing, err := uc.activeOverrides(ctx, orgID, in.ThreadID, now)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, goerr.Wrap(ErrConflict, "thread already has an active override",
			goerr.V(ThreadIDKey, in.ThreadID), goerr.V(OverrideIDKey, existing[0].ID))
	}

	created, err := uc.repo.Override().Create(ctx, orgID, o)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create override", goerr.V(ThreadIDKey, in.ThreadID))
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:          orgID,
		ActorType:      types.ActorTypeOwner,
		ActorID:        actorID,
		EntityType:     model.EntityOverride,
		EntityID:       created.ID,
		EventType:      model.EventOverrideCreated,
		CorrelationIDs: map[string]string{"threadId": created.ThreadID},
		Payload: map[string]any{
			"targetType": string(created.TargetType),
			"targetId":   created.TargetID,
			"startsAt":   created.StartsAt.Format(time.RFC3339),
			"endsAt":     formatTimePtr(created.EndsAt),
			"reason":     created.Reason,
		},
	})

	return created, nil
}

func (uc *RoutingUseCase) RemoveOverride(ctx context.Context, orgID, actorID, overrideID string) (*model.RoutingOverride, error) {
	o, err := uc.repo.Override().Get(ctx, orgID, overrideID)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "override not found", goerr.V(OverrideIDKey, overrideID))
	}
	if o.State() == model.OverrideRemoved {
		return nil, goerr.Wrap(ErrValidation, "override is already removed", goerr.V(OverrideIDKey, overrideID))
	}

	removed, err := uc.repo.Override().Remove(ctx, orgID, overrideID, uc.clock())
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "failed to remove override", goerr.V(OverrideIDKey, overrideID))
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:          orgID,
		ActorType:      types.ActorTypeOwner,
		ActorID:        actorID,
		EntityType:     model.EntityOverride,
		EntityID:       overrideID,
		EventType:      model.EventOverrideRemoved,
		CorrelationIDs: map[string]string{"threadId": removed.ThreadID},
	})

	return removed, nil
}

// ListOverrides returns the overrides of a thread, newest first. activeOnly
// drops removed and expired overrides.
func (uc *RoutingUseCase) ListOverrides(ctx context.Context, orgID, threadID string, activeOnly bool) ([]*model.RoutingOverride, error) {
	if activeOnly {
		return uc.activeOverrides(ctx, orgID, threadID, uc.clock())
	}

	overrides, err := uc.repo.Override().List(ctx, orgID, interfaces.OverrideQuery{ThreadID: threadID, IncludeRemoved: true})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list overrides", goerr.V(ThreadIDKey, threadID))
	}
	return overrides, nil
}

// activeOverrides returns overrides that are not removed and have not ended
// at now. Overrides scheduled to start later count as active.
func (uc *RoutingUseCase) activeOverrides(ctx context.Context, orgID, threadID string, now time.Time) ([]*model.RoutingOverride, error) {
	overrides, err := uc.repo.Override().List(ctx, orgID, interfaces.OverrideQuery{ThreadID: threadID})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list overrides", goerr.V(ThreadIDKey, threadID))
	}

	active := make([]*model.RoutingOverride, 0, len(overrides))
	for _, o := range overrides {
		if o.EndsAt == nil || !o.EndsAt.Before(now) {
			active = append(active, o)
		}
	}
	return active, nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
