package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/async"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

// MaxBodyLength is the longest outbound body accepted, in runes.
const MaxBodyLength = 1600

type SendInput struct {
	OrgID      string
	ThreadID   string
	Body       string
	SenderType types.SenderType
	// SenderID is the user ID of the sender. Sitters are mapped to their
	// sitter record through it.
	SenderID string
	// ForceSend sends despite policy violations, which are then recorded as
	// overridden. A forcing sitter still needs an active window.
	ForceSend bool
}

type SendResult struct {
	MessageID          string
	ProviderMessageSID string
	HasPolicyViolation bool
	Warnings           []string
}

type OutboundUseCase struct {
	repo    interfaces.Repository
	sender  *sender
	routing *RoutingUseCase
	policy  *PolicyUseCase
	alerts  interfaces.AlertRaiser
	retry   interfaces.RetryQueuer
	audit   *auditor
	clock   func() time.Time
}

func newOutboundUseCase(repo interfaces.Repository, sender *sender, routing *RoutingUseCase, policy *PolicyUseCase, alerts interfaces.AlertRaiser, retry interfaces.RetryQueuer, audit *auditor, clock func() time.Time) *OutboundUseCase {
	return &OutboundUseCase{
		repo:    repo,
		sender:  sender,
		routing: routing,
		policy:  policy,
		alerts:  alerts,
		retry:   retry,
		audit:   audit,
		clock:   clock,
	}
}

// Send runs the outbound pipeline for one message. A provider failure still
// stores the message and schedules a retry; the result is returned together
// with ErrProvider.
func (uc *OutboundUseCase) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, goerr.Wrap(ErrValidation, "message body is empty", goerr.V(ThreadIDKey, in.ThreadID))
	}
	if n := utf8.RuneCountInString(body); n > MaxBodyLength {
		return nil, goerr.Wrap(ErrValidation, "message body is too long",
			goerr.V(ThreadIDKey, in.ThreadID), goerr.V("length", n), goerr.V("max", MaxBodyLength))
	}
	if !in.SenderType.IsValid() {
		return nil, goerr.Wrap(ErrValidation, "invalid sender type", goerr.V("sender_type", in.SenderType))
	}

	thread, err := uc.repo.Thread().Get(ctx, in.OrgID, in.ThreadID)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrOrgMismatch):
			return nil, goerr.Wrap(ErrForbidden, "thread belongs to another org", goerr.V(ThreadIDKey, in.ThreadID))
		case errors.Is(err, interfaces.ErrNotFound):
			return nil, goerr.Wrap(ErrNotFound, "thread not found", goerr.V(ThreadIDKey, in.ThreadID))
		default:
			return nil, goerr.Wrap(err, "failed to get thread", goerr.V(ThreadIDKey, in.ThreadID))
		}
	}

	isSitter := in.SenderType == types.SenderTypeSitter
	violations := uc.policy.Detect(body)
	redacted := ""
	action := types.ViolationActionWarned
	if len(violations) > 0 {
		redacted = Redact(body, violations)
		switch {
		case in.ForceSend:
			action = types.ViolationActionOverridden
		case isSitter:
			return nil, uc.block(ctx, in, thread, redacted, violations)
		}
	}

	if isSitter {
		if err := uc.checkSitterWindow(ctx, in); err != nil {
			return nil, err
		}
	}

	to, from, err := recipient(ctx, uc.repo, thread)
	if err != nil {
		return nil, err
	}

	outcome := uc.sender.send(ctx, to, from, body)
	now := uc.clock()

	msg := &model.Message{
		ThreadID:           thread.ID,
		Direction:          types.DirectionOutbound,
		SenderType:         in.SenderType,
		SenderID:           in.SenderID,
		Body:               body,
		RedactedBody:       redacted,
		HasPolicyViolation: len(violations) > 0,
		CreatedAt:          now,
	}
	if outcome.Success {
		msg.ProviderMessageSID = outcome.MessageSID
	}

	stored, err := uc.repo.Message().Create(ctx, in.OrgID, msg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store outbound message", goerr.V(ThreadIDKey, thread.ID))
	}

	delivery := &model.MessageDelivery{
		MessageID: stored.ID,
		AttemptNo: 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if outcome.Success {
		delivery.Status = types.DeliveryStatusQueued
		delivery.ProviderMessageSID = outcome.MessageSID
	} else {
		delivery.Status = types.DeliveryStatusFailed
		delivery.ProviderErrorCode = outcome.ErrorCode
		delivery.ProviderErrorMessage = outcome.ErrorMessage
	}
	storedDelivery, err := uc.repo.Delivery().Insert(ctx, in.OrgID, delivery)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to store delivery attempt", goerr.V(MessageIDKey, stored.ID))
	}

	if len(violations) > 0 {
		if _, err := uc.policy.record(ctx, in.OrgID, thread.ID, stored.ID, redacted, violations, action); err != nil {
			_ = errutil.Handle(ctx, err, "failed to record outbound policy violations")
		}
	}

	result := &SendResult{
		MessageID:          stored.ID,
		ProviderMessageSID: stored.ProviderMessageSID,
		HasPolicyViolation: len(violations) > 0,
		Warnings:           violationWarnings(violations),
	}

	correlation := map[string]string{
		"threadId":   thread.ID,
		"deliveryId": storedDelivery.ID,
	}

	if !outcome.Success {
		uc.audit.record(ctx, &model.AuditEvent{
			OrgID:          in.OrgID,
			ActorType:      actorTypeOf(in.SenderType),
			ActorID:        in.SenderID,
			EntityType:     model.EntityMessage,
			EntityID:       stored.ID,
			EventType:      model.EventOutboundSendFailed,
			CorrelationIDs: correlation,
			Payload:        deliveryPayload(storedDelivery),
		})

		if uc.retry != nil {
			orgID, messageID := in.OrgID, stored.ID
			async.Dispatch(ctx, func(ctx context.Context) error {
				return uc.retry.QueueRetry(ctx, orgID, messageID, 2, nil)
			})
		}

		return result, goerr.Wrap(ErrProvider, "provider rejected message",
			goerr.V(MessageIDKey, stored.ID), goerr.V("error_code", outcome.ErrorCode))
	}

	if err := uc.repo.Thread().RecordActivity(ctx, in.OrgID, thread.ID, now, false); err != nil {
		_ = errutil.Handle(ctx, err, "failed to record thread activity")
	}
	if err := uc.repo.Number().Touch(ctx, in.OrgID, thread.NumberID, now); err != nil {
		_ = errutil.Handle(ctx, err, "failed to touch message number")
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:          in.OrgID,
		ActorType:      actorTypeOf(in.SenderType),
		ActorID:        in.SenderID,
		EntityType:     model.EntityMessage,
		EntityID:       stored.ID,
		EventType:      model.EventOutboundSent,
		CorrelationIDs: correlation,
		Payload: map[string]any{
			"providerSid":        stored.ProviderMessageSID,
			"hasPolicyViolation": result.HasPolicyViolation,
			"forceSend":          in.ForceSend,
		},
	})

	logging.From(ctx).Info("outbound message sent",
		"message_id", stored.ID, "thread_id", thread.ID, "sender_type", in.SenderType)
	return result, nil
}

// block stores the blocked violations and returns ErrPolicyBlocked. The
// sender only ever sees PolicyBlockedMessage.
func (uc *OutboundUseCase) block(ctx context.Context, in SendInput, thread *model.Thread, redacted string, violations []model.Violation) error {
	if _, err := uc.policy.record(ctx, in.OrgID, thread.ID, "", redacted, violations, types.ViolationActionBlocked); err != nil {
		_ = errutil.Handle(ctx, err, "failed to record blocked policy violations")
	}

	if uc.alerts != nil {
		if _, err := uc.alerts.Raise(ctx, &model.Alert{
			OrgID:       in.OrgID,
			Severity:    types.AlertSeverityWarning,
			Type:        model.AlertTypePolicyBlocked,
			Title:       "Sitter message blocked",
			Description: "A sitter message containing contact information was blocked.",
			EntityType:  model.EntityThread,
			EntityID:    thread.ID,
		}); err != nil {
			_ = errutil.Handle(ctx, err, "failed to raise policy blocked alert")
		}
	}

	kinds := make([]string, 0, len(violations))
	for _, v := range violations {
		kinds = append(kinds, string(v.Type))
	}
	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:          in.OrgID,
		ActorType:      types.ActorTypeSitter,
		ActorID:        in.SenderID,
		EntityType:     model.EntityThread,
		EntityID:       thread.ID,
		EventType:      model.EventOutboundBlocked,
		CorrelationIDs: map[string]string{"threadId": thread.ID},
		Payload: map[string]any{
			"violations":   kinds,
			"redactedBody": redacted,
		},
	})

	return goerr.Wrap(ErrPolicyBlocked, PolicyBlockedMessage, goerr.V(ThreadIDKey, thread.ID))
}

// checkSitterWindow allows a sitter to send only while routing targets that
// same sitter.
func (uc *OutboundUseCase) checkSitterWindow(ctx context.Context, in SendInput) error {
	sitter, err := uc.repo.Sitter().GetByUserID(ctx, in.OrgID, in.SenderID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) || errors.Is(err, interfaces.ErrOrgMismatch) {
			return goerr.Wrap(ErrForbidden, "sender is not a sitter of this org", goerr.V("user_id", in.SenderID))
		}
		return goerr.Wrap(err, "failed to get sitter", goerr.V("user_id", in.SenderID))
	}

	decision, err := uc.routing.Evaluate(ctx, in.OrgID, in.ThreadID, uc.clock(), types.DirectionOutbound)
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate routing", goerr.V(ThreadIDKey, in.ThreadID))
	}
	if decision.Target != types.RoutingTargetSitter || decision.TargetID != sitter.ID {
		return goerr.Wrap(ErrForbidden, "outside active assignment window",
			goerr.V(ThreadIDKey, in.ThreadID), goerr.V(SitterIDKey, sitter.ID),
			goerr.V("routing_target", decision.Target), goerr.V("routing_reason", decision.Reason))
	}
	return nil
}

func violationWarnings(violations []model.Violation) []string {
	if len(violations) == 0 {
		return nil
	}
	warnings := make([]string, 0, len(violations))
	for _, v := range violations {
		warnings = append(warnings, v.Reason)
	}
	return warnings
}

func actorTypeOf(s types.SenderType) types.ActorType {
	switch s {
	case types.SenderTypeSitter:
		return types.ActorTypeSitter
	case types.SenderTypeOwner:
		return types.ActorTypeOwner
	case types.SenderTypeClient:
		return types.ActorTypeClient
	default:
		return types.ActorTypeSystem
	}
}
