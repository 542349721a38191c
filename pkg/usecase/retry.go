package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

const (
	// RetryJobKind is the job queue kind of delivery retries.
	RetryJobKind = "message.retry"

	// MaxDeliveryAttempts includes the initial send.
	MaxDeliveryAttempts = 3
)

var retryBackoff = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// RetryDelay returns the backoff after the n-th attempt (1-based).
func RetryDelay(n int) time.Duration {
	idx := min(n-1, len(retryBackoff)-1)
	if idx < 0 {
		idx = 0
	}
	return retryBackoff[idx]
}

type retryJob struct {
	OrgID     string `json:"orgId"`
	MessageID string `json:"messageId"`
	AttemptNo int    `json:"attemptNo"`
}

type RetryUseCase struct {
	repo   interfaces.Repository
	sender *sender
	queue  interfaces.JobQueue
	alerts interfaces.AlertRaiser
	audit  *auditor
	clock  func() time.Time
}

var _ interfaces.RetryQueuer = &RetryUseCase{}

func newRetryUseCase(repo interfaces.Repository, sender *sender, queue interfaces.JobQueue, alerts interfaces.AlertRaiser, audit *auditor, clock func() time.Time) *RetryUseCase {
	return &RetryUseCase{
		repo:   repo,
		sender: sender,
		queue:  queue,
		alerts: alerts,
		audit:  audit,
		clock:  clock,
	}
}

// QueueRetry schedules attemptNo of a message. A nil delay uses the backoff
// after the previous attempt.
func (uc *RetryUseCase) QueueRetry(ctx context.Context, orgID, messageID string, attemptNo int, delay *time.Duration) error {
	if uc.queue == nil {
		return goerr.New("job queue is not configured", goerr.V(MessageIDKey, messageID))
	}

	d := RetryDelay(attemptNo - 1)
	if delay != nil {
		d = *delay
	}

	payload, err := json.Marshal(retryJob{OrgID: orgID, MessageID: messageID, AttemptNo: attemptNo})
	if err != nil {
		return goerr.Wrap(err, "failed to encode retry job")
	}
	if err := uc.queue.Enqueue(ctx, RetryJobKind, payload, d); err != nil {
		return goerr.Wrap(err, "failed to enqueue retry",
			goerr.V(MessageIDKey, messageID), goerr.V(AttemptNoKey, attemptNo))
	}

	logging.From(ctx).Info("retry queued",
		"message_id", messageID, "attempt_no", attemptNo, "delay", d.String())
	return nil
}

// HandleJob is the JobHandler for RetryJobKind.
func (uc *RetryUseCase) HandleJob(ctx context.Context, payload []byte) error {
	var job retryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return goerr.Wrap(err, "failed to decode retry job", goerr.V("payload", string(payload)))
	}
	return uc.ProcessRetry(ctx, job.OrgID, job.MessageID, job.AttemptNo)
}

// ProcessRetry performs attemptNo if the message is still waiting for it.
// Stale and duplicate jobs are no-ops.
func (uc *RetryUseCase) ProcessRetry(ctx context.Context, orgID, messageID string, attemptNo int) error {
	logger := logging.From(ctx).With("message_id", messageID, "attempt_no", attemptNo)

	if attemptNo > MaxDeliveryAttempts {
		uc.deadLetter(ctx, orgID, messageID, attemptNo-1)
		return nil
	}

	msg, err := uc.repo.Message().Get(ctx, orgID, messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			logger.Warn("retry for unknown message dropped")
			return nil
		}
		return goerr.Wrap(err, "failed to get message", goerr.V(MessageIDKey, messageID))
	}
	if msg.IgnoredAt != nil {
		logger.Info("retry skipped, message ignored")
		return nil
	}

	latest, err := uc.repo.Delivery().Latest(ctx, orgID, messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			logger.Warn("retry skipped, no previous attempt")
			return nil
		}
		return goerr.Wrap(err, "failed to get latest delivery", goerr.V(MessageIDKey, messageID))
	}
	if latest.AttemptNo != attemptNo-1 || latest.Status != types.DeliveryStatusFailed {
		logger.Info("retry skipped, delivery state moved on",
			"latest_attempt", latest.AttemptNo, "latest_status", latest.Status)
		return nil
	}

	delivery, err := uc.attempt(ctx, msg, attemptNo)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeSystem,
		EntityType: model.EntityMessage,
		EntityID:   messageID,
		EventType:  model.EventOutboundRetryAttempted,
		CorrelationIDs: map[string]string{
			"threadId":   msg.ThreadID,
			"deliveryId": delivery.ID,
		},
		Payload: deliveryPayload(delivery),
	})

	if delivery.Status == types.DeliveryStatusFailed {
		uc.onAttemptFailed(ctx, orgID, messageID, attemptNo)
	}
	return nil
}

// RetryNow performs the next attempt immediately on operator request.
func (uc *RetryUseCase) RetryNow(ctx context.Context, orgID, messageID, actorID string) (*model.MessageDelivery, error) {
	msg, err := uc.repo.Message().Get(ctx, orgID, messageID)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "message not found", goerr.V(MessageIDKey, messageID))
	}
	if msg.IgnoredAt != nil {
		return nil, goerr.Wrap(ErrValidation, "message was ignored", goerr.V(MessageIDKey, messageID))
	}

	latest, err := uc.repo.Delivery().Latest(ctx, orgID, messageID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, goerr.Wrap(ErrValidation, "message has no delivery attempt", goerr.V(MessageIDKey, messageID))
		}
		return nil, goerr.Wrap(err, "failed to get latest delivery", goerr.V(MessageIDKey, messageID))
	}
	if latest.Status != types.DeliveryStatusFailed {
		return nil, goerr.Wrap(ErrValidation, "latest delivery attempt has not failed",
			goerr.V(MessageIDKey, messageID), goerr.V("status", latest.Status))
	}
	next := latest.AttemptNo + 1
	if next > MaxDeliveryAttempts {
		return nil, goerr.Wrap(ErrValidation, "maximum delivery attempts reached",
			goerr.V(MessageIDKey, messageID), goerr.V(AttemptNoKey, latest.AttemptNo))
	}

	delivery, err := uc.attempt(ctx, msg, next)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, goerr.Wrap(ErrConflict, "delivery attempt was taken concurrently",
			goerr.V(MessageIDKey, messageID), goerr.V(AttemptNoKey, next))
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeOwner,
		ActorID:    actorID,
		EntityType: model.EntityMessage,
		EntityID:   messageID,
		EventType:  model.EventOutboundRetry,
		CorrelationIDs: map[string]string{
			"threadId":   msg.ThreadID,
			"deliveryId": delivery.ID,
		},
		Payload: deliveryPayload(delivery),
	})

	if delivery.Status == types.DeliveryStatusFailed {
		uc.onAttemptFailed(ctx, orgID, messageID, next)
	}
	return delivery, nil
}

// Ignore marks a message as handled by an operator. Pending retries become
// no-ops.
func (uc *RetryUseCase) Ignore(ctx context.Context, orgID, messageID, actorID string) error {
	msg, err := uc.repo.Message().Get(ctx, orgID, messageID)
	if err != nil {
		return goerr.Wrap(asNotFound(err), "message not found", goerr.V(MessageIDKey, messageID))
	}
	if err := uc.repo.Message().MarkIgnored(ctx, orgID, messageID, uc.clock()); err != nil {
		return goerr.Wrap(asNotFound(err), "failed to ignore message", goerr.V(MessageIDKey, messageID))
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:          orgID,
		ActorType:      types.ActorTypeOwner,
		ActorID:        actorID,
		EntityType:     model.EntityMessage,
		EntityID:       messageID,
		EventType:      model.EventOutboundIgnored,
		CorrelationIDs: map[string]string{"threadId": msg.ThreadID},
	})
	return nil
}

// onAttemptFailed continues the retry state machine after attemptNo failed.
// Errors are logged, never returned.
func (uc *RetryUseCase) onAttemptFailed(ctx context.Context, orgID, messageID string, attemptNo int) {
	if attemptNo >= MaxDeliveryAttempts {
		uc.deadLetter(ctx, orgID, messageID, attemptNo)
		return
	}
	if err := uc.QueueRetry(ctx, orgID, messageID, attemptNo+1, nil); err != nil {
		_ = errutil.Handle(ctx, err, "failed to schedule delivery retry")
	}
}

func (uc *RetryUseCase) deadLetter(ctx context.Context, orgID, messageID string, attempts int) {
	_ = errutil.Handle(ctx, goerr.Wrap(ErrDeadLetter, "message exhausted delivery attempts",
		goerr.V(OrgIDKey, orgID), goerr.V(MessageIDKey, messageID), goerr.V(AttemptNoKey, attempts)),
		"delivery dead-lettered")

	if uc.alerts != nil {
		if _, err := uc.alerts.Raise(ctx, &model.Alert{
			OrgID:       orgID,
			Severity:    types.AlertSeverityCritical,
			Type:        model.AlertTypeMaxRetriesExceeded,
			Title:       "Message delivery failed",
			Description: "A message could not be delivered after the maximum number of attempts.",
			EntityType:  model.EntityMessage,
			EntityID:    messageID,
		}); err != nil {
			_ = errutil.Handle(ctx, err, "failed to raise dead-letter alert")
		}
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeSystem,
		EntityType: model.EntityMessage,
		EntityID:   messageID,
		EventType:  model.EventOutboundDeadLetter,
		Payload:    map[string]any{"attempts": attempts},
	})
}

// attempt reserves attemptNo for msg, sends it and stores the outcome on the
// reserved row. It returns nil without error when another worker reserved
// attemptNo first, so each attempt reaches the provider at most once.
func (uc *RetryUseCase) attempt(ctx context.Context, msg *model.Message, attemptNo int) (*model.MessageDelivery, error) {
	logger := logging.From(ctx).With("message_id", msg.ID, "attempt_no", attemptNo)

	thread, err := uc.repo.Thread().Get(ctx, msg.OrgID, msg.ThreadID)
	if err != nil {
		return nil, goerr.Wrap(asNotFound(err), "thread not found", goerr.V(ThreadIDKey, msg.ThreadID))
	}

	reservedAt := uc.clock()
	reserved, err := uc.repo.Delivery().Insert(ctx, msg.OrgID, &model.MessageDelivery{
		MessageID: msg.ID,
		AttemptNo: attemptNo,
		Status:    types.DeliveryStatusQueued,
		CreatedAt: reservedAt,
		UpdatedAt: reservedAt,
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrAttemptConflict) {
			logger.Info("delivery attempt already reserved")
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to reserve delivery attempt",
			goerr.V(MessageIDKey, msg.ID), goerr.V(AttemptNoKey, attemptNo))
	}

	var outcome *model.SendOutcome
	to, from, err := recipient(ctx, uc.repo, thread)
	switch {
	case err == nil:
		outcome = uc.sender.send(ctx, to, from, msg.Body)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		outcome = &model.SendOutcome{ErrorCode: ErrorCodeNoRecipient, ErrorMessage: err.Error()}
	default:
		// A reserved attempt must end failed or carry a SID.
		_ = errutil.Handle(ctx, err, "failed to resolve retry recipient")
		outcome = &model.SendOutcome{ErrorCode: ErrorCodeSendFailed, ErrorMessage: err.Error()}
	}

	now := uc.clock()
	update := interfaces.DeliveryStatusUpdate{At: now}
	if outcome.Success {
		update.Status = types.DeliveryStatusQueued
		update.ProviderMessageSID = outcome.MessageSID
	} else {
		update.Status = types.DeliveryStatusFailed
		update.ErrorCode = outcome.ErrorCode
		update.ErrorMessage = outcome.ErrorMessage
	}

	stored, err := uc.repo.Delivery().UpdateStatus(ctx, msg.OrgID, reserved.ID, update)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to record delivery attempt",
			goerr.V(DeliveryIDKey, reserved.ID), goerr.V(SIDKey, outcome.MessageSID))
	}

	if outcome.Success {
		if msg.ProviderMessageSID == "" {
			if err := uc.repo.Message().SetProviderSID(ctx, msg.OrgID, msg.ID, outcome.MessageSID); err != nil {
				_ = errutil.Handle(ctx, err, "failed to record provider SID on message")
			}
		}
		if err := uc.repo.Thread().RecordActivity(ctx, msg.OrgID, thread.ID, now, false); err != nil {
			_ = errutil.Handle(ctx, err, "failed to record thread activity")
		}
	}

	return stored, nil
}

func deliveryPayload(d *model.MessageDelivery) map[string]any {
	return map[string]any{
		"attemptNo":    d.AttemptNo,
		"status":       string(d.Status),
		"providerSid":  d.ProviderMessageSID,
		"errorCode":    d.ProviderErrorCode,
		"errorMessage": d.ProviderErrorMessage,
	}
}
