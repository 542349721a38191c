package usecase_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/repository/memory"
	"github.com/snoutos/switchboard/pkg/service/audit"
	"github.com/snoutos/switchboard/pkg/service/policy"
	"github.com/snoutos/switchboard/pkg/service/provider"
	"github.com/snoutos/switchboard/pkg/usecase"
	"github.com/snoutos/switchboard/pkg/utils/async"
)

const (
	testOrg        = "org-1"
	frontDeskE164  = "+15550000001"
	poolE164       = "+15550000002"
	sitterLineE164 = "+15550000003"
	clientE164     = "+15551110000"
	clientID       = "client-1"
	sitterOneUser  = "user-s1"
	sitterTwoUser  = "user-s2"
	ownerUser      = "owner-1"
)

type enqueuedJob struct {
	Kind    string
	Payload []byte
	Delay   time.Duration
}

func (j enqueuedJob) attemptNo(t *testing.T) int {
	t.Helper()
	var p struct {
		MessageID string `json:"messageId"`
		AttemptNo int    `json:"attemptNo"`
	}
	gt.NoError(t, json.Unmarshal(j.Payload, &p)).Required()
	return p.AttemptNo
}

// recordingQueue keeps enqueued jobs without running them.
type recordingQueue struct {
	mu       sync.Mutex
	jobs     []enqueuedJob
	handlers map[string]interfaces.JobHandler
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{handlers: make(map[string]interfaces.JobHandler)}
}

func (q *recordingQueue) Enqueue(ctx context.Context, kind string, payload []byte, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueuedJob{Kind: kind, Payload: payload, Delay: delay})
	return nil
}

func (q *recordingQueue) OnJob(kind string, handler interfaces.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler
}

func (q *recordingQueue) Start(ctx context.Context) error { return nil }

func (q *recordingQueue) Stop() {}

func (q *recordingQueue) Jobs() []enqueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueuedJob(nil), q.jobs...)
}

// Run hands the i-th job to its registered handler once dispatched work has
// settled.
func (q *recordingQueue) Run(ctx context.Context, i int) error {
	async.Wait()
	q.mu.Lock()
	job := q.jobs[i]
	handler := q.handlers[job.Kind]
	q.mu.Unlock()
	return handler(ctx, job.Payload)
}

type fixture struct {
	ctx      context.Context
	repo     *memory.Memory
	sink     *audit.RepositorySink
	provider *provider.Mock
	queue    *recordingQueue
	uc       *usecase.UseCases
	now      time.Time

	frontDesk  *model.MessageNumber
	pool       *model.MessageNumber
	sitterLine *model.MessageNumber
	contact    *model.ClientContact
	sitterOne  *model.Sitter
	sitterTwo  *model.Sitter
	thread     *model.Thread
}

func baseTime() time.Time {
	return time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 14, hour, minute, 0, 0, time.UTC)
}

func newFixture(t *testing.T, opts ...usecase.Option) *fixture {
	t.Helper()

	detector, err := policy.NewDetector()
	gt.NoError(t, err).Required()

	f := &fixture{
		ctx:      context.Background(),
		repo:     memory.New(),
		provider: provider.NewMock(provider.WithNumbers(frontDeskE164, poolE164, sitterLineE164)),
		queue:    newRecordingQueue(),
		now:      baseTime(),
	}
	f.sink = audit.NewRepositorySink(f.repo)

	base := []usecase.Option{
		usecase.WithProvider(f.provider),
		usecase.WithPolicyDetector(detector),
		usecase.WithAuditSink(f.sink),
		usecase.WithJobQueue(f.queue),
		usecase.WithClock(func() time.Time { return f.now }),
	}
	f.uc = usecase.New(f.repo, append(base, opts...)...)

	f.frontDesk = f.addNumber(t, frontDeskE164, types.NumberClassFrontDesk)
	f.pool = f.addNumber(t, poolE164, types.NumberClassPool)
	f.sitterLine = f.addNumber(t, sitterLineE164, types.NumberClassSitter)

	f.contact, err = f.repo.Contact().Create(f.ctx, testOrg, &model.ClientContact{
		ClientID:  clientID,
		E164:      clientE164,
		IsPrimary: true,
	})
	gt.NoError(t, err).Required()

	f.sitterOne, err = f.repo.Sitter().Create(f.ctx, testOrg, &model.Sitter{UserID: sitterOneUser, Name: "Sitter One"})
	gt.NoError(t, err).Required()
	f.sitterTwo, err = f.repo.Sitter().Create(f.ctx, testOrg, &model.Sitter{UserID: sitterTwoUser, Name: "Sitter Two"})
	gt.NoError(t, err).Required()

	f.thread, _, err = f.repo.Thread().FindOrCreate(f.ctx, testOrg, model.ThreadQuery{
		NumberID:   f.frontDesk.ID,
		ClientID:   clientID,
		ThreadType: types.ThreadTypeFrontDesk,
	}, f.now)
	gt.NoError(t, err).Required()

	t.Cleanup(async.Wait)
	return f
}

func (f *fixture) addNumber(t *testing.T, e164 string, class types.NumberClass) *model.MessageNumber {
	t.Helper()
	n, err := f.repo.Number().Create(f.ctx, testOrg, &model.MessageNumber{E164: e164, Class: class})
	gt.NoError(t, err).Required()
	return n
}

func (f *fixture) addWindow(t *testing.T, threadID string, sitter *model.Sitter, start, end time.Time) *model.AssignmentWindow {
	t.Helper()
	w, err := f.uc.Assignment.CreateWindow(f.ctx, testOrg, ownerUser, usecase.WindowInput{
		ThreadID: threadID,
		SitterID: sitter.ID,
		StartsAt: start,
		EndsAt:   end,
	})
	gt.NoError(t, err).Required()
	return w
}

func (f *fixture) getThread(t *testing.T, threadID string) *model.Thread {
	t.Helper()
	thread, err := f.repo.Thread().Get(f.ctx, testOrg, threadID)
	gt.NoError(t, err).Required()
	return thread
}

func (f *fixture) deliveries(t *testing.T, messageID string) []*model.MessageDelivery {
	t.Helper()
	ds, err := f.repo.Delivery().ListByMessage(f.ctx, testOrg, messageID)
	gt.NoError(t, err).Required()
	return ds
}

func (f *fixture) auditEvents(t *testing.T, orgID, eventType string) []*model.AuditEvent {
	t.Helper()
	events, err := f.sink.Query(f.ctx, orgID, interfaces.AuditQuery{EventType: eventType})
	gt.NoError(t, err).Required()
	return events
}

func (f *fixture) alerts(t *testing.T, alertType string) []*model.Alert {
	t.Helper()
	alerts, err := f.uc.Alert.List(f.ctx, testOrg, interfaces.AlertQuery{Type: alertType})
	gt.NoError(t, err).Required()
	return alerts
}

// enqueued waits for dispatched work and returns the recorded retry jobs.
func (f *fixture) enqueued() []enqueuedJob {
	async.Wait()
	return f.queue.Jobs()
}
