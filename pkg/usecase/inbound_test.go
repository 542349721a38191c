package usecase_test

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/service/provider"
	"github.com/snoutos/switchboard/pkg/usecase"
)

const inboundURL = "https://switchboard.example.com/hooks/twilio/inbound"

func inbound(sid, from, to, body string) usecase.InboundPayload {
	return usecase.InboundPayload{MessageSID: sid, From: from, To: to, Body: body}
}

// signed attaches a provider signature computed over the form fields.
func signed(p usecase.InboundPayload, token string) usecase.InboundPayload {
	form := url.Values{
		"MessageSid": {p.MessageSID},
		"From":       {p.From},
		"To":         {p.To},
		"Body":       {p.Body},
	}
	p.RawBody = []byte(form.Encode())
	p.URL = inboundURL
	p.Signature = provider.SignWebhook(token, inboundURL, form)
	return p
}

func TestHandleInboundOwnerInbox(t *testing.T) {
	f := newFixture(t)
	f.now = at(15, 5)

	res, err := f.uc.Inbound.HandleInbound(f.ctx, inbound("SM001", clientE164, frontDeskE164, "Is Biscuit eating well?"))
	gt.NoError(t, err).Required()
	gt.Bool(t, res.Processed).True()
	gt.Value(t, res.Reason).Equal("")
	gt.Value(t, res.ThreadID).Equal(f.thread.ID)
	gt.Value(t, res.Decision.Target).Equal(types.RoutingTargetOwnerInbox)

	msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, msg.Direction).Equal(types.DirectionInbound)
	gt.Value(t, msg.SenderType).Equal(types.SenderTypeClient)
	gt.Value(t, msg.ProviderMessageSID).Equal("SM001")
	gt.Bool(t, msg.HasPolicyViolation).False()

	ds := f.deliveries(t, msg.ID)
	gt.Array(t, ds).Length(1)
	gt.Value(t, ds[0].Status).Equal(types.DeliveryStatusDelivered)
	gt.Value(t, ds[0].AttemptNo).Equal(1)

	thread := f.getThread(t, f.thread.ID)
	gt.Value(t, thread.OwnerUnreadCount).Equal(1)
	gt.Value(t, thread.LastActivityAt).Equal(at(15, 5))

	number, err := f.repo.Number().Get(f.ctx, testOrg, f.frontDesk.ID)
	gt.NoError(t, err).Required()
	gt.Value(t, *number.LastUsedAt).Equal(at(15, 5))

	gt.Array(t, f.auditEvents(t, testOrg, model.EventInboundReceived)).Length(1)
	gt.Array(t, f.auditEvents(t, testOrg, model.EventRoutingEvaluated)).Length(1)
}

func TestHandleInboundRoutesToSitter(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	res, err := f.uc.Inbound.HandleInbound(f.ctx, inbound("SM001", clientE164, frontDeskE164, "Running late today"))
	gt.NoError(t, err).Required()
	gt.Value(t, res.Decision.Target).Equal(types.RoutingTargetSitter)
	gt.Value(t, res.Decision.TargetID).Equal(f.sitterOne.ID)

	thread := f.getThread(t, f.thread.ID)
	gt.Value(t, thread.OwnerUnreadCount).Equal(0)
}

func TestHandleInboundValidation(t *testing.T) {
	f := newFixture(t)

	for _, p := range []usecase.InboundPayload{
		inbound("", clientE164, frontDeskE164, "hi"),
		inbound("SM001", "", frontDeskE164, "hi"),
		inbound("SM001", clientE164, "", "hi"),
	} {
		_, err := f.uc.Inbound.HandleInbound(f.ctx, p)
		gt.Error(t, err).Is(usecase.ErrValidation)
	}
}

func TestHandleInboundDuplicate(t *testing.T) {
	f := newFixture(t)
	p := inbound("SM001", clientE164, frontDeskE164, "hello")

	first, err := f.uc.Inbound.HandleInbound(f.ctx, p)
	gt.NoError(t, err).Required()

	second, err := f.uc.Inbound.HandleInbound(f.ctx, p)
	gt.NoError(t, err).Required()
	gt.Bool(t, second.Processed).False()
	gt.Value(t, second.Reason).Equal(usecase.ReasonDuplicate)
	gt.Value(t, second.MessageID).Equal(first.MessageID)
	gt.Value(t, second.ThreadID).Equal(first.ThreadID)

	msgs, err := f.repo.Message().ListByThread(f.ctx, testOrg, f.thread.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, msgs).Length(1)

	gt.Value(t, f.getThread(t, f.thread.ID).OwnerUnreadCount).Equal(1)
	gt.Array(t, f.auditEvents(t, testOrg, model.EventDuplicateRejected)).Length(1)
}

func TestHandleInboundConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	p := inbound("SM001", clientE164, frontDeskE164, "hello")

	const workers = 10
	results := make([]*usecase.InboundResult, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.uc.Inbound.HandleInbound(f.ctx, p)
		}()
	}
	wg.Wait()

	processed := 0
	for i := range workers {
		gt.NoError(t, errs[i]).Required()
		if results[i].Processed {
			processed++
		} else {
			gt.Value(t, results[i].Reason).Equal(usecase.ReasonDuplicate)
		}
	}
	gt.Value(t, processed).Equal(1)

	msgs, err := f.repo.Message().ListByThread(f.ctx, testOrg, f.thread.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, msgs).Length(1)
	gt.Array(t, f.deliveries(t, msgs[0].ID)).Length(1)
	gt.Value(t, f.getThread(t, f.thread.ID).OwnerUnreadCount).Equal(1)
}

func TestHandleInboundUnknownNumber(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Inbound.HandleInbound(f.ctx, inbound("SM001", clientE164, "+15558880000", "hello"))
	gt.Error(t, err).Is(usecase.ErrNotFound)

	_, err = f.repo.Message().GetBySID(f.ctx, "SM001")
	gt.Error(t, err).Is(interfaces.ErrNotFound)
	gt.Array(t, f.auditEvents(t, "", model.EventUnknownNumber)).Length(1)
}

func TestHandleInboundSignature(t *testing.T) {
	f := newFixture(t)

	t.Run("valid signature", func(t *testing.T) {
		p := signed(inbound("SM001", clientE164, frontDeskE164, "hello"), provider.DefaultMockAuthToken)
		res, err := f.uc.Inbound.HandleInbound(f.ctx, p)
		gt.NoError(t, err).Required()
		gt.Bool(t, res.Processed).True()
	})

	t.Run("wrong token", func(t *testing.T) {
		p := signed(inbound("SM002", clientE164, frontDeskE164, "hello"), "someone-else")
		_, err := f.uc.Inbound.HandleInbound(f.ctx, p)
		gt.Error(t, err).Is(usecase.ErrForbidden)
	})

	t.Run("tampered body", func(t *testing.T) {
		p := signed(inbound("SM003", clientE164, frontDeskE164, "hello"), provider.DefaultMockAuthToken)
		p.RawBody = []byte(strings.Replace(string(p.RawBody), "hello", "bye", 1))
		_, err := f.uc.Inbound.HandleInbound(f.ctx, p)
		gt.Error(t, err).Is(usecase.ErrForbidden)
	})

	for _, sid := range []string{"SM002", "SM003"} {
		_, err := f.repo.Message().GetBySID(f.ctx, sid)
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	}
	gt.Array(t, f.auditEvents(t, "", model.EventSignatureInvalid)).Length(2)
}

func TestHandleInboundUnmapped(t *testing.T) {
	f := newFixture(t)
	stranger := "+15557770000"

	res, err := f.uc.Inbound.HandleInbound(f.ctx, inbound("SM001", stranger, poolE164, "who is this?"))
	gt.NoError(t, err).Required()
	gt.Bool(t, res.Processed).True()
	gt.Value(t, res.Reason).Equal(usecase.ReasonUnmapped)
	gt.Value(t, res.ThreadID).NotEqual(f.thread.ID)

	catchAll := f.getThread(t, res.ThreadID)
	gt.Value(t, catchAll.ThreadType).Equal(types.ThreadTypeOther)
	gt.Value(t, catchAll.NumberID).Equal(f.frontDesk.ID)
	gt.Value(t, catchAll.OwnerUnreadCount).Equal(1)

	msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, msg.Body).Equal(fmt.Sprintf("[Unmapped Message] From %s to %s: who is this?", stranger, poolE164))

	alerts := f.alerts(t, model.AlertTypeUnmappedPool)
	gt.Array(t, alerts).Length(1)
	gt.Value(t, alerts[0].EntityType).Equal(model.EntityNumber)
	gt.Value(t, alerts[0].EntityID).Equal(f.pool.ID)
	gt.Value(t, alerts[0].Severity).Equal(types.AlertSeverityWarning)

	t.Run("second unmapped message reuses the thread and alert", func(t *testing.T) {
		f.now = f.now.Add(time.Minute)
		again, err := f.uc.Inbound.HandleInbound(f.ctx, inbound("SM002", "+15556660000", poolE164, "hello?"))
		gt.NoError(t, err).Required()
		gt.Value(t, again.ThreadID).Equal(res.ThreadID)
		gt.Array(t, f.alerts(t, model.AlertTypeUnmappedPool)).Length(1)
		gt.Value(t, f.getThread(t, res.ThreadID).OwnerUnreadCount).Equal(2)
	})

	t.Run("duplicate unmapped message", func(t *testing.T) {
		dup, err := f.uc.Inbound.HandleInbound(f.ctx, inbound("SM001", stranger, poolE164, "who is this?"))
		gt.NoError(t, err).Required()
		gt.Bool(t, dup.Processed).False()
		gt.Value(t, dup.Reason).Equal(usecase.ReasonDuplicate)
		gt.Value(t, dup.MessageID).Equal(res.MessageID)
	})

	gt.Array(t, f.auditEvents(t, testOrg, model.EventUnmappedPool)).Length(2)
}

func TestHandleInboundPolicyViolation(t *testing.T) {
	f := newFixture(t)

	res, err := f.uc.Inbound.HandleInbound(f.ctx, inbound("SM001", clientE164, frontDeskE164, "text me at 555-123-4567"))
	gt.NoError(t, err).Required()
	gt.Bool(t, res.Processed).True()

	msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
	gt.NoError(t, err).Required()
	gt.Bool(t, msg.HasPolicyViolation).True()
	gt.Value(t, msg.Body).Equal("text me at 555-123-4567")
	gt.Value(t, msg.RedactedBody).Equal("text me at " + usecase.RedactionMarker)

	violations, err := f.uc.Policy.List(f.ctx, testOrg, interfaces.ViolationQuery{MessageID: msg.ID})
	gt.NoError(t, err).Required()
	gt.Array(t, violations).Length(1)
	gt.Value(t, violations[0].Type).Equal(types.ViolationTypePhone)
	gt.Value(t, violations[0].ActionTaken).Equal(types.ViolationActionAllowed)

	alerts := f.alerts(t, model.AlertTypePolicyViolation)
	gt.Array(t, alerts).Length(1)
	gt.Value(t, alerts[0].EntityID).Equal(msg.ID)
}

func TestHandleStatusCallback(t *testing.T) {
	f := newFixture(t)

	sent, err := f.uc.Outbound.Send(f.ctx, usecase.SendInput{
		OrgID:      testOrg,
		ThreadID:   f.thread.ID,
		Body:       "Biscuit had a great walk",
		SenderType: types.SenderTypeOwner,
		SenderID:   ownerUser,
	})
	gt.NoError(t, err).Required()

	t.Run("delivered", func(t *testing.T) {
		res, err := f.uc.Inbound.HandleStatusCallback(f.ctx, usecase.StatusPayload{
			MessageSID:    sent.ProviderMessageSID,
			MessageStatus: "delivered",
		})
		gt.NoError(t, err).Required()
		gt.Bool(t, res.Processed).True()

		latest, err := f.repo.Delivery().Latest(f.ctx, testOrg, sent.MessageID)
		gt.NoError(t, err).Required()
		gt.Value(t, latest.Status).Equal(types.DeliveryStatusDelivered)

		events := f.auditEvents(t, testOrg, model.EventDeliveryStatusUpdated)
		gt.Array(t, events).Length(1)
		gt.Value(t, events[0].Payload["previousStatus"]).Equal(any("queued"))
	})

	t.Run("unknown SID", func(t *testing.T) {
		res, err := f.uc.Inbound.HandleStatusCallback(f.ctx, usecase.StatusPayload{
			MessageSID:    "SM-unknown",
			MessageStatus: "delivered",
		})
		gt.NoError(t, err).Required()
		gt.Bool(t, res.Processed).False()
		gt.Value(t, res.Reason).Equal(usecase.ReasonUnknownMessage)
	})

	t.Run("missing status", func(t *testing.T) {
		_, err := f.uc.Inbound.HandleStatusCallback(f.ctx, usecase.StatusPayload{MessageSID: sent.ProviderMessageSID})
		gt.Error(t, err).Is(usecase.ErrValidation)
	})
}

func TestHandleStatusCallbackStaleAttempt(t *testing.T) {
	f := newFixture(t)

	sent, err := f.uc.Outbound.Send(f.ctx, usecase.SendInput{
		OrgID:      testOrg,
		ThreadID:   f.thread.ID,
		Body:       "Keys are under the mat",
		SenderType: types.SenderTypeOwner,
		SenderID:   ownerUser,
	})
	gt.NoError(t, err).Required()
	firstSID := sent.ProviderMessageSID

	res, err := f.uc.Inbound.HandleStatusCallback(f.ctx, usecase.StatusPayload{
		MessageSID:    firstSID,
		MessageStatus: "undelivered",
		ErrorCode:     "30003",
		ErrorMessage:  "Unreachable destination handset",
	})
	gt.NoError(t, err).Required()
	gt.Bool(t, res.Processed).True()

	jobs := f.enqueued()
	gt.Array(t, jobs).Length(1)
	gt.Value(t, jobs[0].attemptNo(t)).Equal(2)

	gt.NoError(t, f.queue.Run(f.ctx, 0)).Required()
	ds := f.deliveries(t, sent.MessageID)
	gt.Array(t, ds).Length(2)
	gt.Value(t, ds[0].ProviderErrorCode).Equal("30003")
	gt.Value(t, ds[1].Status).Equal(types.DeliveryStatusQueued)

	stale, err := f.uc.Inbound.HandleStatusCallback(f.ctx, usecase.StatusPayload{
		MessageSID:    firstSID,
		MessageStatus: "delivered",
	})
	gt.NoError(t, err).Required()
	gt.Bool(t, stale.Processed).False()
	gt.Value(t, stale.Reason).Equal(usecase.ReasonStaleAttempt)

	latest, err := f.repo.Delivery().Latest(f.ctx, testOrg, sent.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, latest.AttemptNo).Equal(2)
	gt.Value(t, latest.Status).Equal(types.DeliveryStatusQueued)
}

func TestHandleStatusCallbackOutOfOrder(t *testing.T) {
	f := newFixture(t)

	callback := func(t *testing.T, sid, status string) *usecase.StatusResult {
		t.Helper()
		res, err := f.uc.Inbound.HandleStatusCallback(f.ctx, usecase.StatusPayload{
			MessageSID:    sid,
			MessageStatus: status,
		})
		gt.NoError(t, err).Required()
		return res
	}

	t.Run("late sent after delivered", func(t *testing.T) {
		sent, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Walk done"))
		gt.NoError(t, err).Required()

		gt.Bool(t, callback(t, sent.ProviderMessageSID, "delivered").Processed).True()

		late := callback(t, sent.ProviderMessageSID, "sent")
		gt.Bool(t, late.Processed).False()
		gt.Value(t, late.Reason).Equal(usecase.ReasonStaleStatus)

		latest, err := f.repo.Delivery().Latest(f.ctx, testOrg, sent.MessageID)
		gt.NoError(t, err).Required()
		gt.Value(t, latest.Status).Equal(types.DeliveryStatusDelivered)
	})

	t.Run("late sent after failed keeps the retry", func(t *testing.T) {
		sent, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Feeding done"))
		gt.NoError(t, err).Required()
		before := len(f.enqueued())

		gt.Bool(t, callback(t, sent.ProviderMessageSID, "undelivered").Processed).True()
		gt.Value(t, callback(t, sent.ProviderMessageSID, "sent").Reason).Equal(usecase.ReasonStaleStatus)
		gt.Value(t, callback(t, sent.ProviderMessageSID, "failed").Reason).Equal(usecase.ReasonStaleStatus)

		jobs := f.enqueued()
		gt.Array(t, jobs).Length(before + 1)
		gt.Value(t, jobs[before].attemptNo(t)).Equal(2)

		gt.NoError(t, f.queue.Run(f.ctx, before)).Required()
		ds := f.deliveries(t, sent.MessageID)
		gt.Array(t, ds).Length(2)
		gt.Value(t, ds[0].Status).Equal(types.DeliveryStatusFailed)
		gt.Value(t, ds[1].Status).Equal(types.DeliveryStatusQueued)
	})
}
