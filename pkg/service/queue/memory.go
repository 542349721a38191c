package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"golang.org/x/sync/semaphore"
)

// Memory runs jobs on in-process timers. Jobs do not survive a restart.
type Memory struct {
	*registry
	concurrency int64
	maxRuns     int
	retryDelay  time.Duration

	sem *semaphore.Weighted

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	timers  map[string]*time.Timer
	waiting []delayedJob
	wg      sync.WaitGroup
}

type delayedJob struct {
	job *job
	due time.Time
}

var _ interfaces.JobQueue = &Memory{}

type MemoryOption func(*Memory)

func WithConcurrency(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.concurrency = int64(n)
		}
	}
}

func WithMaxRuns(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxRuns = n
		}
	}
}

func WithRetryDelay(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.retryDelay = d
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		registry:    newRegistry(),
		concurrency: DefaultConcurrency,
		maxRuns:     DefaultMaxRuns,
		retryDelay:  DefaultRetryDelay,
		timers:      make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sem = semaphore.NewWeighted(m.concurrency)
	return m
}

func (m *Memory) OnJob(kind string, handler interfaces.JobHandler) {
	m.set(kind, handler)
}

// Enqueue schedules a job. Jobs enqueued before Start wait for it.
func (m *Memory) Enqueue(ctx context.Context, kind string, payload []byte, delay time.Duration) error {
	if kind == "" {
		return goerr.New("job kind is required")
	}
	j := &job{ID: uuid.NewString(), Kind: kind, Payload: append([]byte(nil), payload...)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		m.waiting = append(m.waiting, delayedJob{job: j, due: time.Now().Add(delay)})
		return nil
	}
	if m.ctx.Err() != nil {
		return goerr.New("job queue is stopped", goerr.V("kind", kind))
	}
	m.schedule(j, delay)
	return nil
}

func (m *Memory) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return goerr.New("job queue already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	for _, w := range m.waiting {
		m.schedule(w.job, max(time.Until(w.due), 0))
	}
	m.waiting = nil

	logging.From(ctx).Info("memory job queue started", "concurrency", m.concurrency)
	return nil
}

// Stop cancels pending timers and waits for running handlers.
func (m *Memory) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	for id, t := range m.timers {
		if t.Stop() {
			m.wg.Done()
		}
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// schedule must be called with m.mu held.
func (m *Memory) schedule(j *job, delay time.Duration) {
	m.wg.Add(1)
	m.timers[j.ID] = time.AfterFunc(delay, func() {
		defer m.wg.Done()

		m.mu.Lock()
		delete(m.timers, j.ID)
		ctx := m.ctx
		m.mu.Unlock()

		m.run(ctx, j)
	})
}

func (m *Memory) run(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	retry := m.execute(ctx, j, m.maxRuns)
	m.sem.Release(1)

	if !retry {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() == nil {
		m.schedule(j, m.retryDelay)
	}
}
