package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/repository/memory"
	"github.com/snoutos/switchboard/pkg/service/provider"
	"github.com/snoutos/switchboard/pkg/usecase"
)

func TestRetryDelay(t *testing.T) {
	testCases := []struct {
		n    int
		want time.Duration
	}{
		{n: 0, want: 60 * time.Second},
		{n: 1, want: 60 * time.Second},
		{n: 2, want: 300 * time.Second},
		{n: 3, want: 900 * time.Second},
		{n: 7, want: 900 * time.Second},
	}
	for _, tc := range testCases {
		gt.Value(t, usecase.RetryDelay(tc.n)).Equal(tc.want)
	}
}

func TestRetryCeiling(t *testing.T) {
	f := newFixture(t)
	f.provider.FailAll("30003", "Unreachable destination handset")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Are you home?"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	jobs := f.enqueued()
	gt.Array(t, jobs).Length(1)
	gt.NoError(t, f.queue.Run(f.ctx, 0)).Required()

	jobs = f.enqueued()
	gt.Array(t, jobs).Length(2)
	gt.Value(t, jobs[1].attemptNo(t)).Equal(3)
	gt.Value(t, jobs[1].Delay).Equal(300 * time.Second)
	gt.Array(t, f.alerts(t, model.AlertTypeMaxRetriesExceeded)).Length(0)

	gt.NoError(t, f.queue.Run(f.ctx, 1)).Required()

	ds := f.deliveries(t, res.MessageID)
	gt.Array(t, ds).Length(usecase.MaxDeliveryAttempts)
	for i, d := range ds {
		gt.Value(t, d.AttemptNo).Equal(i + 1)
		gt.Value(t, d.Status).Equal(types.DeliveryStatusFailed)
	}
	gt.Array(t, f.enqueued()).Length(2)

	alerts := f.alerts(t, model.AlertTypeMaxRetriesExceeded)
	gt.Array(t, alerts).Length(1)
	gt.Value(t, alerts[0].Severity).Equal(types.AlertSeverityCritical)
	gt.Value(t, alerts[0].EntityID).Equal(res.MessageID)

	gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundRetryAttempted)).Length(2)
	gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundDeadLetter)).Length(1)
	gt.Array(t, f.auditEvents(t, testOrg, model.EventEscalationTriggered)).Length(1)

	t.Run("redelivered job is a no-op", func(t *testing.T) {
		gt.NoError(t, f.queue.Run(f.ctx, 1)).Required()
		gt.Array(t, f.deliveries(t, res.MessageID)).Length(usecase.MaxDeliveryAttempts)
	})

	t.Run("attempt past the ceiling dead-letters again without a second alert", func(t *testing.T) {
		gt.NoError(t, f.uc.Retry.ProcessRetry(f.ctx, testOrg, res.MessageID, usecase.MaxDeliveryAttempts+1)).Required()
		gt.Array(t, f.deliveries(t, res.MessageID)).Length(usecase.MaxDeliveryAttempts)
		gt.Array(t, f.alerts(t, model.AlertTypeMaxRetriesExceeded)).Length(1)
		gt.Array(t, f.auditEvents(t, testOrg, model.EventEscalationTriggered)).Length(1)
	})
}

func TestRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext("30008", "Unknown error")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Are you home?"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	gt.Array(t, f.enqueued()).Length(1)
	gt.NoError(t, f.queue.Run(f.ctx, 0)).Required()

	ds := f.deliveries(t, res.MessageID)
	gt.Array(t, ds).Length(2)
	gt.Value(t, ds[1].Status).Equal(types.DeliveryStatusQueued)
	gt.Value(t, ds[1].ProviderMessageSID).NotEqual("")

	msg, err := f.repo.Message().Get(f.ctx, testOrg, res.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, msg.ProviderMessageSID).Equal(ds[1].ProviderMessageSID)

	gt.Array(t, f.enqueued()).Length(1)
	gt.Array(t, f.provider.Sent()).Length(1)
}

// slowProvider delays every send so that concurrent retries overlap.
type slowProvider struct {
	*provider.Mock
	delay time.Duration
}

func (p *slowProvider) SendMessage(ctx context.Context, to, from, body string) (*model.SendOutcome, error) {
	time.Sleep(p.delay)
	return p.Mock.SendMessage(ctx, to, from, body)
}

func TestProcessRetryConcurrent(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext("30008", "Unknown error")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Are you home?"))
	gt.Error(t, err).Is(usecase.ErrProvider)
	gt.Array(t, f.enqueued()).Length(1)

	uc := usecase.New(f.repo,
		usecase.WithProvider(&slowProvider{Mock: f.provider, delay: 50 * time.Millisecond}),
		usecase.WithAuditSink(f.sink),
		usecase.WithClock(func() time.Time { return f.now }),
	)

	const workers = 3
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = uc.Retry.ProcessRetry(f.ctx, testOrg, res.MessageID, 2)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		gt.NoError(t, err)
	}

	sent := f.provider.Sent()
	gt.Array(t, sent).Length(1)

	ds := f.deliveries(t, res.MessageID)
	gt.Array(t, ds).Length(2)
	gt.Value(t, ds[1].AttemptNo).Equal(2)
	gt.Value(t, ds[1].Status).Equal(types.DeliveryStatusQueued)
	gt.Value(t, ds[1].ProviderMessageSID).Equal(sent[0].SID)

	found, err := f.repo.Delivery().GetBySID(f.ctx, sent[0].SID)
	gt.NoError(t, err).Required()
	gt.Value(t, found.ID).Equal(ds[1].ID)

	gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundRetryAttempted)).Length(1)
}

func TestRetryStaleJob(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext("30008", "Unknown error")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Are you home?"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	// An attempt number that does not follow the latest attempt is ignored.
	gt.NoError(t, f.uc.Retry.ProcessRetry(f.ctx, testOrg, res.MessageID, 3)).Required()
	gt.Array(t, f.deliveries(t, res.MessageID)).Length(1)

	gt.NoError(t, f.uc.Retry.ProcessRetry(f.ctx, testOrg, "missing-message", 2)).Required()
}

func TestRetryIgnoredMessage(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext("30008", "Unknown error")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Are you home?"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	gt.NoError(t, f.uc.Retry.Ignore(f.ctx, testOrg, res.MessageID, ownerUser)).Required()

	gt.Array(t, f.enqueued()).Length(1)
	gt.NoError(t, f.queue.Run(f.ctx, 0)).Required()
	gt.Array(t, f.deliveries(t, res.MessageID)).Length(1)

	_, err = f.uc.Retry.RetryNow(f.ctx, testOrg, res.MessageID, ownerUser)
	gt.Error(t, err).Is(usecase.ErrValidation)

	gt.Array(t, f.auditEvents(t, testOrg, model.EventOutboundIgnored)).Length(1)

	err = f.uc.Retry.Ignore(f.ctx, testOrg, "missing-message", ownerUser)
	gt.Error(t, err).Is(usecase.ErrNotFound)
}

func TestRetryNow(t *testing.T) {
	f := newFixture(t)
	f.provider.FailNext("30008", "Unknown error")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Are you home?"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	d, err := f.uc.Retry.RetryNow(f.ctx, testOrg, res.MessageID, ownerUser)
	gt.NoError(t, err).Required()
	gt.Value(t, d.AttemptNo).Equal(2)
	gt.Value(t, d.Status).Equal(types.DeliveryStatusQueued)

	events := f.auditEvents(t, testOrg, model.EventOutboundRetry)
	gt.Array(t, events).Length(1)
	gt.Value(t, events[0].ActorType).Equal(types.ActorTypeOwner)
	gt.Value(t, events[0].ActorID).Equal(ownerUser)

	t.Run("latest attempt has not failed", func(t *testing.T) {
		_, err := f.uc.Retry.RetryNow(f.ctx, testOrg, res.MessageID, ownerUser)
		gt.Error(t, err).Is(usecase.ErrValidation)
	})

	t.Run("queued job for the same attempt becomes a no-op", func(t *testing.T) {
		gt.NoError(t, f.queue.Run(f.ctx, 0)).Required()
		gt.Array(t, f.deliveries(t, res.MessageID)).Length(2)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := f.uc.Retry.RetryNow(f.ctx, testOrg, "missing-message", ownerUser)
		gt.Error(t, err).Is(usecase.ErrNotFound)
	})
}

func TestRetryNowAtCeiling(t *testing.T) {
	f := newFixture(t)
	f.provider.FailAll("30003", "Unreachable destination handset")

	res, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "Are you home?"))
	gt.Error(t, err).Is(usecase.ErrProvider)

	for attempt := 2; attempt <= usecase.MaxDeliveryAttempts; attempt++ {
		d, err := f.uc.Retry.RetryNow(f.ctx, testOrg, res.MessageID, ownerUser)
		gt.NoError(t, err).Required()
		gt.Value(t, d.AttemptNo).Equal(attempt)
		gt.Value(t, d.Status).Equal(types.DeliveryStatusFailed)
	}

	_, err = f.uc.Retry.RetryNow(f.ctx, testOrg, res.MessageID, ownerUser)
	gt.Error(t, err).Is(usecase.ErrValidation)
	gt.Array(t, f.alerts(t, model.AlertTypeMaxRetriesExceeded)).Length(1)
}

func TestRetryHandleJobRejectsBrokenPayload(t *testing.T) {
	f := newFixture(t)
	gt.Error(t, f.uc.Retry.HandleJob(f.ctx, []byte("{not json")))
}

func TestQueueRetryWithoutQueue(t *testing.T) {
	uc := usecase.New(memory.New())
	err := uc.Retry.QueueRetry(t.Context(), testOrg, "message-1", 2, nil)
	gt.Value(t, err).NotNil()
}

func TestReconcileDeliveries(t *testing.T) {
	f := newFixture(t)

	delivered, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "first"))
	gt.NoError(t, err).Required()
	failed, err := f.uc.Outbound.Send(f.ctx, ownerSend(f, "second"))
	gt.NoError(t, err).Required()

	f.provider.SetStatus(delivered.ProviderMessageSID, types.DeliveryStatusDelivered)
	f.provider.SetStatus(failed.ProviderMessageSID, types.DeliveryStatusFailed)

	t.Run("recent attempts are left alone", func(t *testing.T) {
		n, err := f.uc.Delivery.Reconcile(f.ctx, 10*time.Minute, 100)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(0)
	})

	f.now = f.now.Add(11 * time.Minute)

	n, err := f.uc.Delivery.Reconcile(f.ctx, 10*time.Minute, 100)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(2)

	latest, err := f.repo.Delivery().Latest(f.ctx, testOrg, delivered.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, latest.Status).Equal(types.DeliveryStatusDelivered)

	latest, err = f.repo.Delivery().Latest(f.ctx, testOrg, failed.MessageID)
	gt.NoError(t, err).Required()
	gt.Value(t, latest.Status).Equal(types.DeliveryStatusFailed)

	jobs := f.enqueued()
	gt.Array(t, jobs).Length(1)
	gt.Value(t, jobs[0].attemptNo(t)).Equal(2)

	n, err = f.uc.Delivery.Reconcile(f.ctx, 10*time.Minute, 100)
	gt.NoError(t, err).Required()
	gt.Value(t, n).Equal(0)
}
