package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

// Reasons an inbound event was not processed normally.
const (
	ReasonDuplicate      = "duplicate"
	ReasonUnmapped       = "unmapped"
	ReasonUnknownMessage = "unknown_message"
	ReasonStaleAttempt   = "stale_attempt"
	ReasonStaleStatus    = "stale_status"
)

// InboundPayload is a received SMS as posted by the provider. RawBody,
// Signature and URL are only needed for signature verification.
type InboundPayload struct {
	MessageSID string
	From       string
	To         string
	Body       string
	RawBody    []byte
	Signature  string
	URL        string
}

type InboundResult struct {
	Processed bool
	Reason    string
	ThreadID  string
	MessageID string
	Decision  *model.RoutingDecision
}

// StatusPayload is a delivery status callback.
type StatusPayload struct {
	MessageSID    string
	MessageStatus string
	ErrorCode     string
	ErrorMessage  string
	RawBody       []byte
	Signature     string
	URL           string
}

type StatusResult struct {
	Processed bool
	Reason    string
}

type InboundUseCase struct {
	repo     interfaces.Repository
	provider interfaces.Provider
	resolver *ResolverUseCase
	routing  *RoutingUseCase
	policy   *PolicyUseCase
	alerts   interfaces.AlertRaiser
	delivery *DeliveryUseCase
	audit    *auditor
	clock    func() time.Time
}

func newInboundUseCase(repo interfaces.Repository, provider interfaces.Provider, resolver *ResolverUseCase, routing *RoutingUseCase, policy *PolicyUseCase, alerts interfaces.AlertRaiser, delivery *DeliveryUseCase, audit *auditor, clock func() time.Time) *InboundUseCase {
	return &InboundUseCase{
		repo:     repo,
		provider: provider,
		resolver: resolver,
		routing:  routing,
		policy:   policy,
		alerts:   alerts,
		delivery: delivery,
		audit:    audit,
		clock:    clock,
	}
}

// HandleInbound stores a received SMS exactly once per provider SID and
// routes it.
func (uc *InboundUseCase) HandleInbound(ctx context.Context, p InboundPayload) (*InboundResult, error) {
	if p.MessageSID == "" || p.From == "" || p.To == "" {
		return nil, goerr.Wrap(ErrValidation, "inbound payload requires MessageSid, From and To")
	}
	logger := logging.From(ctx).With("sid", p.MessageSID)

	if err := uc.verify(ctx, p.RawBody, p.Signature, p.URL, p.MessageSID); err != nil {
		return nil, err
	}

	if existing, err := uc.repo.Message().GetBySID(ctx, p.MessageSID); err == nil {
		return uc.duplicate(ctx, existing, p.MessageSID), nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, goerr.Wrap(err, "failed to look up message by SID", goerr.V(SIDKey, p.MessageSID))
	}

	number, err := uc.repo.Number().GetByE164(ctx, p.To)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			uc.audit.record(ctx, &model.AuditEvent{
				ActorType:  types.ActorTypeProvider,
				EntityType: model.EntityNumber,
				EventType:  model.EventUnknownNumber,
				Payload:    map[string]any{"sid": p.MessageSID},
			})
			return nil, goerr.Wrap(ErrNotFound, "receiving number is not registered", goerr.V(SIDKey, p.MessageSID))
		}
		return nil, goerr.Wrap(err, "failed to look up receiving number", goerr.V(SIDKey, p.MessageSID))
	}
	orgID := number.OrgID

	resolution, err := uc.resolver.Resolve(ctx, orgID, number.ID, p.From, number.Class)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve thread", goerr.V(SIDKey, p.MessageSID))
	}
	if resolution.Unmapped {
		logger.Info("inbound message unmapped", "reason", resolution.Reason)
		return uc.handleUnmapped(ctx, p, number, resolution.Reason)
	}
	thread := resolution.Thread

	violations := uc.policy.Detect(p.Body)
	redacted := ""
	if len(violations) > 0 {
		redacted = Redact(p.Body, violations)
	}

	now := uc.clock()
	msg, err := uc.repo.Message().Create(ctx, orgID, &model.Message{
		ThreadID:           thread.ID,
		Direction:          types.DirectionInbound,
		SenderType:         types.SenderTypeClient,
		Body:               p.Body,
		RedactedBody:       redacted,
		HasPolicyViolation: len(violations) > 0,
		ProviderMessageSID: p.MessageSID,
		CreatedAt:          now,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrAlreadyExists) {
			return uc.duplicateBySID(ctx, orgID, p.MessageSID), nil
		}
		return nil, goerr.Wrap(err, "failed to store inbound message", goerr.V(SIDKey, p.MessageSID))
	}

	decision := uc.route(ctx, orgID, thread.ID, now)
	uc.storeDelivered(ctx, orgID, msg, now)

	if len(violations) > 0 {
		if _, err := uc.policy.record(ctx, orgID, thread.ID, msg.ID, redacted, violations, types.ViolationActionAllowed); err != nil {
			_ = errutil.Handle(ctx, err, "failed to record inbound policy violations")
		}
		uc.raise(ctx, &model.Alert{
			OrgID:       orgID,
			Severity:    types.AlertSeverityWarning,
			Type:        model.AlertTypePolicyViolation,
			Title:       "Client message contains contact information",
			Description: "An inbound message matched the contact information policy.",
			EntityType:  model.EntityMessage,
			EntityID:    msg.ID,
		})
	}

	toOwner := decision == nil || decision.Target == types.RoutingTargetOwnerInbox
	uc.touch(ctx, orgID, thread.ID, number.ID, now, toOwner)

	payload := map[string]any{"hasPolicyViolation": len(violations) > 0}
	if decision != nil {
		payload["target"] = string(decision.Target)
		payload["targetId"] = decision.TargetID
	}
	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeClient,
		EntityType: model.EntityMessage,
		EntityID:   msg.ID,
		EventType:  model.EventInboundReceived,
		CorrelationIDs: map[string]string{
			"threadId": thread.ID,
			"sid":      p.MessageSID,
		},
		Payload: payload,
	})

	logger.Info("inbound message stored", "message_id", msg.ID, "thread_id", thread.ID)
	return &InboundResult{
		Processed: true,
		ThreadID:  thread.ID,
		MessageID: msg.ID,
		Decision:  decision,
	}, nil
}

// handleUnmapped files a message nobody owns into the org catch-all thread
// so it reaches the owner inbox.
func (uc *InboundUseCase) handleUnmapped(ctx context.Context, p InboundPayload, number *model.MessageNumber, reason string) (*InboundResult, error) {
	orgID := number.OrgID

	catchAllNumber := number.ID
	frontDesk, err := uc.repo.Number().ListByClass(ctx, orgID, types.NumberClassFrontDesk)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list front desk numbers", goerr.V(OrgIDKey, orgID))
	}
	if len(frontDesk) > 0 {
		catchAllNumber = frontDesk[0].ID
	}

	now := uc.clock()
	thread, _, err := uc.repo.Thread().FindOrCreate(ctx, orgID, model.ThreadQuery{
		NumberID:   catchAllNumber,
		ThreadType: types.ThreadTypeOther,
	}, now)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find or create catch-all thread", goerr.V(OrgIDKey, orgID))
	}

	msg, err := uc.repo.Message().Create(ctx, orgID, &model.Message{
		ThreadID:           thread.ID,
		Direction:          types.DirectionInbound,
		SenderType:         types.SenderTypeClient,
		Body:               fmt.Sprintf("[Unmapped Message] From %s to %s: %s", p.From, p.To, p.Body),
		ProviderMessageSID: p.MessageSID,
		CreatedAt:          now,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrAlreadyExists) {
			return uc.duplicateBySID(ctx, orgID, p.MessageSID), nil
		}
		return nil, goerr.Wrap(err, "failed to store unmapped message", goerr.V(SIDKey, p.MessageSID))
	}

	decision := uc.route(ctx, orgID, thread.ID, now)
	uc.storeDelivered(ctx, orgID, msg, now)
	uc.touch(ctx, orgID, thread.ID, number.ID, now, true)

	uc.raise(ctx, &model.Alert{
		OrgID:       orgID,
		Severity:    types.AlertSeverityWarning,
		Type:        model.AlertTypeUnmappedPool,
		Title:       "Message from unmapped sender",
		Description: "An inbound message could not be matched to a thread: " + reason,
		EntityType:  model.EntityNumber,
		EntityID:    number.ID,
	})

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeClient,
		EntityType: model.EntityMessage,
		EntityID:   msg.ID,
		EventType:  model.EventUnmappedPool,
		CorrelationIDs: map[string]string{
			"threadId": thread.ID,
			"numberId": number.ID,
			"sid":      p.MessageSID,
		},
		Payload: map[string]any{"reason": reason, "numberClass": string(number.Class)},
	})

	return &InboundResult{
		Processed: true,
		Reason:    ReasonUnmapped,
		ThreadID:  thread.ID,
		MessageID: msg.ID,
		Decision:  decision,
	}, nil
}

// HandleStatusCallback applies a provider delivery report.
func (uc *InboundUseCase) HandleStatusCallback(ctx context.Context, p StatusPayload) (*StatusResult, error) {
	if p.MessageSID == "" || p.MessageStatus == "" {
		return nil, goerr.Wrap(ErrValidation, "status payload requires MessageSid and MessageStatus")
	}

	if err := uc.verify(ctx, p.RawBody, p.Signature, p.URL, p.MessageSID); err != nil {
		return nil, err
	}

	d, err := uc.repo.Delivery().GetBySID(ctx, p.MessageSID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			logging.From(ctx).Info("status callback for unknown SID", "sid", p.MessageSID)
			return &StatusResult{Reason: ReasonUnknownMessage}, nil
		}
		return nil, goerr.Wrap(err, "failed to look up delivery", goerr.V(SIDKey, p.MessageSID))
	}

	reason, err := uc.delivery.ApplyStatus(ctx, d, types.MapProviderStatus(p.MessageStatus), p.ErrorCode, p.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &StatusResult{Reason: reason}, nil
	}
	return &StatusResult{Processed: true}, nil
}

func (uc *InboundUseCase) verify(ctx context.Context, rawBody []byte, signature, url, sid string) error {
	if signature == "" {
		return nil
	}
	if uc.provider == nil {
		return goerr.Wrap(ErrProvider, "no provider configured to verify signature")
	}

	ok, err := uc.provider.VerifyWebhook(ctx, rawBody, signature, url)
	if err != nil {
		return goerr.Wrap(ErrProvider, "signature verification failed",
			goerr.V(SIDKey, sid), goerr.V("cause", err.Error()))
	}
	if !ok {
		uc.audit.record(ctx, &model.AuditEvent{
			ActorType:  types.ActorTypeProvider,
			EntityType: model.EntityMessage,
			EventType:  model.EventSignatureInvalid,
			Payload:    map[string]any{"sid": sid, "url": url},
		})
		return goerr.Wrap(ErrForbidden, "invalid webhook signature", goerr.V(SIDKey, sid))
	}
	return nil
}

func (uc *InboundUseCase) duplicate(ctx context.Context, existing *model.Message, sid string) *InboundResult {
	logging.From(ctx).Info("duplicate inbound webhook", "sid", sid, "message_id", existing.ID)
	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      existing.OrgID,
		ActorType:  types.ActorTypeProvider,
		EntityType: model.EntityMessage,
		EntityID:   existing.ID,
		EventType:  model.EventDuplicateRejected,
		CorrelationIDs: map[string]string{
			"threadId": existing.ThreadID,
			"sid":      sid,
		},
	})
	return &InboundResult{
		Reason:    ReasonDuplicate,
		ThreadID:  existing.ThreadID,
		MessageID: existing.ID,
	}
}

// duplicateBySID handles a concurrent duplicate that lost the SID uniqueness
// race.
func (uc *InboundUseCase) duplicateBySID(ctx context.Context, orgID, sid string) *InboundResult {
	existing, err := uc.repo.Message().GetBySID(ctx, sid)
	if err != nil {
		existing = &model.Message{OrgID: orgID}
	}
	return uc.duplicate(ctx, existing, sid)
}

func (uc *InboundUseCase) route(ctx context.Context, orgID, threadID string, ts time.Time) *model.RoutingDecision {
	decision, err := uc.routing.Evaluate(ctx, orgID, threadID, ts, types.DirectionInbound)
	if err != nil {
		_ = errutil.Handle(ctx, err, "failed to evaluate inbound routing")
		return nil
	}
	return decision
}

func (uc *InboundUseCase) storeDelivered(ctx context.Context, orgID string, msg *model.Message, now time.Time) {
	if _, err := uc.repo.Delivery().Insert(ctx, orgID, &model.MessageDelivery{
		MessageID:          msg.ID,
		AttemptNo:          1,
		Status:             types.DeliveryStatusDelivered,
		ProviderMessageSID: msg.ProviderMessageSID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		_ = errutil.Handle(ctx, err, "failed to store inbound delivery")
	}
}

func (uc *InboundUseCase) touch(ctx context.Context, orgID, threadID, numberID string, now time.Time, incrementUnread bool) {
	if err := uc.repo.Thread().RecordActivity(ctx, orgID, threadID, now, incrementUnread); err != nil {
		_ = errutil.Handle(ctx, err, "failed to record thread activity")
	}
	if err := uc.repo.Number().Touch(ctx, orgID, numberID, now); err != nil {
		_ = errutil.Handle(ctx, err, "failed to touch message number")
	}
}

func (uc *InboundUseCase) raise(ctx context.Context, alert *model.Alert) {
	if uc.alerts == nil {
		return
	}
	if _, err := uc.alerts.Raise(ctx, alert); err != nil {
		_ = errutil.Handle(ctx, err, "failed to raise alert")
	}
}
