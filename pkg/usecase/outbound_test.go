package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/service/provider"
	"github.com/snoutos/switchboard/pkg/usecase"
)

func ownerSend(f *fixture, body string) usecase.SendInput {
	return usecase.SendInput{
		OrgID:      testOrg,
		ThreadID:   f.thread.ID,
		Body:       body,
		SenderType: types.SenderTypeOwner,
		SenderID:   ownerUser,
	}
}

func sitterSend(f *fixture, userID, body string) usecase.SendInput {
	return usecase.SendInput{
		OrgID:      testOrg,
		ThreadID:   f.thread.ID,
		Body:       body,
		SenderType: types.SenderTypeSitter,
		SenderID:   userID,
	}
}

func TestSendByOwner(t *testing.T) {
	f := newFixture(t)
	f.now = at(15, 10)

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "  Biscuit had a great walk  "))
	gt.NoError(t, err).Required()
	gt.Bool(t, res.HasPolicyViolation).False()
	gt.Array(t, res.Warnings).Length(0)

	sent := f.provider.Sent()
	gt.Array(t, sent).Length(1)
	gt.Value(t, sent[0].To).Equal(clientE164)
	gt.Value(t, sent[0].From).Equal(frontDeskE164)
	gt.Value(t, sent[0].Body).Equal("Biscuit had a great walk")
	gt.Value(t, res.ProviderMessageSID).Equal(sent[0].SID)

	msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, msg.Direction).Equal(types.DirectionOutbound)
	gt.Value(t, msg.SenderType).Equal(types.SenderTypeOwner)
	gt.Value(t, msg.SenderID).Equal(ownerUser)

	ds := f.deliveries(t, res.MessageID)
	gt.Array(t, ds).Length(1)
	gt.Value(t, ds[0].Status).Equal(types.DeliveryStatusQueued)
	gt.Value(t, ds[0].ProviderMessageSID).Equal(sent[0].SID)

	thread := f.getThread(t, f.thread.ID)
	gt.Value(t, thread.LastActivityAt).Equal(at(15, 10))
	gt.Value(t, thread.OwnerUnreadCount).Equal(0)

	gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundSent)).Length(1)
	gt.Array(t, f.enqueued()).Length(0)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)

	other, err := f.repo.Thread().Create(f.ctx, "org-2", &model.Thread{
		ClientID:   "client-x",
		NumberID:   "number-x",
		ThreadType: types.ThreadTypeFrontDesk,
	})
	gt.NoError(t, err).Required()

	testCases := []struct {
		name  string
		input func() usecase.SendInput
		err   error
	}{
		{
			name:  "blank body",
			input: func() usecase.SendInput { return ownerSend(f, "   ") },
			err:   usecase.ErrValidation,
		},
		{
			name:  "body too long",
			input: func() usecase.SendInput { return ownerSend(f, strings.Repeat("a", usecase.MaxBodyLength+1)) },
			err:   usecase.ErrValidation,
		},
		{
			name: "invalid sender type",
			input: func() usecase.SendInput {
				in := ownerSend(f, "hi")
				in.SenderType = "robot"
				return in
			},
			err: usecase.ErrValidation,
		},
		{
			name: "missing thread",
			input: func() usecase.SendInput {
				in := ownerSend(f, "hi")
				in.ThreadID = "ghost"
				return in
			},
			err: usecase.ErrNotFound,
		},
		{
			name: "thread of another org",
			input: func() usecase.SendInput {
				in := ownerSend(f, "hi")
				in.ThreadID = other.ID
				return in
			},
			err: usecase.ErrForbidden,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.uc.Outbound.Send(f.ctx, tc.input())
			gt.Error(t, err).Is(tc.err)
		})
	}

	gt.Array(t, f.provider.Sent()).Length(0)
}

func TestSendClientWithoutContact(t *testing.T) {
	f := newFixture(t)

	thread, err := f.repo.Thread().Create(f.ctx, testOrg, &model.Thread{
		ClientID:   "client-without-contact",
		NumberID:   f.frontDesk.ID,
		ThreadType: types.ThreadTypeFrontDesk,
	})
	gt.NoError(t, err).Required()

	in := ownerSend(f, "hello")
	in.ThreadID = thread.ID
	_, err = f.uc.Outbound.Send(f.ctx, in)
	gt.Error(t, err).Is(usecase.ErrValidation)
}

func TestSendSitterBlocked(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	res, err := f.uc.Outbound.Send(f.ctx, sitterSend(f, sitterOneUser, "email me at sitter@example.com"))
	gt.Value(t, res).Nil()
	gt.Error(t, err).Is(usecase.ErrPolicyBlocked)
	gt.Error(t, err).Is(usecase.ErrForbidden)
	gt.Error(t, err).Is(usecase.ErrValidation)
	gt.String(t, err.Error()).Contains(usecase.PolicyBlockedMessage)
	gt.Bool(t, strings.Contains(err.Error(), "sitter@example.com")).False()

	gt.Array(t, f.provider.Sent()).Length(0)

	msgs, err := f.repo.Message().ListByThread(f.ctx, testOrg, f.thread.ID)
	gt.NoError(t, err).Required()
	gt.Array(t, msgs).Length(0)

	violations, err := f.uc.Policy.List(f.ctx, testOrg, interfaces.ViolationQuery{ThreadID: f.thread.ID})
	gt.NoError(t, err).Required()
	gt.Array(t, violations).Length(1)
	for _, v := range violations {
		gt.Value(t, v.ActionTaken).Equal(types.ViolationActionBlocked)
		gt.Value(t, v.Type).Equal(types.ViolationTypeEmail)
		gt.Value(t, v.MessageID).Equal("")
		gt.Value(t, v.DetectedRedacted).Equal("email me at " + usecase.RedactionMarker)
	}

	alerts := f.alerts(t, model.AlertTypePolicyBlocked)
	gt.Array(t, alerts).Length(1)
	gt.Value(t, alerts[0].EntityID).Equal(f.thread.ID)

	events := f.auditEvents(t, testOrg, model.EventOutboundBlocked)
	gt.Array(t, events).Length(2)
	gt.Value(t, events[0].Payload["redactedBody"]).Equal(any("email me at " + usecase.RedactionMarker))
}

func TestSendSitterForced(t *testing.T) {
	f := newFixture(t)
	f.now = at(15, 0)

	t.Run("outside the window the routing gate still applies", func(t *testing.T) {
		in := sitterSend(f, sitterOneUser, "email me at sitter@example.com")
		in.ForceSend = true

		_, err := f.uc.Outbound.Send(f.ctx, in)
		gt.Error(t, err).Is(usecase.ErrForbidden)
		gt.Bool(t, errors.Is(err, usecase.ErrPolicyBlocked)).False()
		gt.Array(t, f.provider.Sent()).Length(0)
	})

	f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	t.Run("inside the window the message is sent", func(t *testing.T) {
		in := sitterSend(f, sitterOneUser, "email me at sitter@example.com")
		in.ForceSend = true

		res, err := f.uc.Outbound.Send(f.ctx, in)
		gt.NoError(t, err).Required()
		gt.Bool(t, res.HasPolicyViolation).True()

		sent := f.provider.Sent()
		gt.Array(t, sent).Length(1)
		gt.Value(t, sent[0].Body).Equal("email me at sitter@example.com")

		violations, err := f.uc.Policy.List(f.ctx, testOrg, interfaces.ViolationQuery{MessageID: res.MessageID})
		gt.NoError(t, err).Required()
		gt.Array(t, violations).Length(1)
		gt.Value(t, violations[0].ActionTaken).Equal(types.ViolationActionOverridden)

		gt.Array(t, f.alerts(t, model.AlertTypePolicyBlocked)).Length(0)
		gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundBlocked)).Length(0)
	})
}

func TestSendOwnerWarned(t *testing.T) {
	testCases := []struct {
		name   string
		force  bool
		action types.ViolationAction
	}{
		{name: "warned", force: false, action: types.ViolationActionWarned},
		{name: "overridden", force: true, action: types.ViolationActionOverridden},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := ownerSend(f, "photos at https://example.com/biscuit")
			in.ForceSend = tc.force

			res, err := f.uc.Outbound.Send(f.ctx, in)
			gt.NoError(t, err).Required()
			gt.Bool(t, res.HasPolicyViolation).True()
			gt.Value(t, res.Warnings).Equal([]string{"URL detected"})

			sent := f.provider.Sent()
			gt.Array(t, sent).Length(1)
			gt.Value(t, sent[0].Body).Equal("photos at https://example.com/biscuit")

			msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
			gt.NoError(t, err).Required()
			gt.Value(t, msg.RedactedBody).Equal("photos at " + usecase.RedactionMarker)

			violations, err := f.uc.Policy.List(f.ctx, testOrg, interfaces.ViolationQuery{MessageID: res.MessageID})
			gt.NoError(t, err).Required()
			gt.Array(t, violations).Length(1)
			gt.Value(t, violations[0].ActionTaken).Equal(tc.action)
		})
	}
}

func TestSendSitterWindowGate(t *testing.T) {
	f := newFixture(t)

	t.Run("no window", func(t *testing.T) {
		_, err := f.uc.Outbound.Send(f.ctx, sitterSend(f, sitterOneUser, "On my way"))
		gt.Error(t, err).Is(usecase.ErrForbidden)
	})

	f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	t.Run("assigned sitter", func(t *testing.T) {
		res, err := f.uc.Outbound.Send(f.ctx, sitterSend(f, sitterOneUser, "On my way"))
		gt.NoError(t, err).Required()
		gt.Value(t, res.MessageID).NotEqual("")

		msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
		gt.NoError(t, err).Required()
		gt.Value(t, msg.SenderType).Equal(types.SenderTypeSitter)
	})

	t.Run("other sitter", func(t *testing.T) {
		_, err := f.uc.Outbound.Send(f.ctx, sitterSend(f, sitterTwoUser, "On my way"))
		gt.Error(t, err).Is(usecase.ErrForbidden)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.uc.Outbound.Send(f.ctx, sitterSend(f, "user-unknown", "On my way"))
		gt.Error(t, err).Is(usecase.ErrForbidden)
	})

	t.Run("after the window", func(t *testing.T) {
		f.now = at(18, 0)
		_, err := f.uc.Outbound.Send(f.ctx, sitterSend(f, sitterOneUser, "Forgot something"))
		gt.Error(t, err).Is(usecase.ErrForbidden)
	})

	gt.Array(t, f.provider.Sent()).Length(1)
}

func TestSendProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext("30007", "Carrier violation")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "See you tomorrow"))
	gt.Error(t, err).Is(usecase.ErrProvider)
	gt.Value(t, res).NotNil()
	gt.Value(t, res.ProviderMessageSID).Equal("")

	msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, msg.ProviderMessageSID).Equal("")

	ds := f.deliveries(t, res.MessageID)
	gt.Array(t, ds).Length(1)
	gt.Value(t, ds[0].Status).Equal(types.DeliveryStatusFailed)
	gt.Value(t, ds[0].ProviderErrorCode).Equal("30007")
	gt.Value(t, ds[0].ProviderErrorMessage).Equal("Carrier violation")

	jobs := f.enqueued()
	gt.Array(t, jobs).Length(1)
	gt.Value(t, jobs[0].Kind).Equal(usecase.RetryJobKind)
	gt.Value(t, jobs[0].attemptNo(t)).Equal(2)
	gt.Value(t, jobs[0].Delay).Equal(60 * time.Second)

	gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundSendFailed)).Length(1)
	gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundSent)).Length(0)
}

func TestSendTransportFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.FailTransport(errors.New("connection reset by peer"))

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "See you tomorrow"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	ds := f.deliveries(t, res.MessageID)
	gt.Value(t, ds[0].ProviderErrorCode).Equal(usecase.ErrorCodeSendFailed)
	gt.Value(t, ds[0].ProviderErrorMessage).Equal("connection reset by peer")
}

// stalledProvider never answers a send before its context ends.
type stalledProvider struct {
	*provider.Mock
}

func (p *stalledProvider) SendMessage(ctx context.Context, to, from, body string) (*model.SendOutcome, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSendTimeout(t *testing.T) {
	f := newFixture(t,
		usecase.WithProvider(&stalledProvider{Mock: provider.NewMock()}),
		usecase.WithProviderTimeout(10*time.Millisecond),
	)

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Hello?"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	ds := f.deliveries(t, res.MessageID)
	gt.Value(t, ds[0].Status).Equal(types.DeliveryStatusFailed)
	gt.Value(t, ds[0].ProviderErrorCode).Equal(usecase.ErrorCodeTimeout)
}
