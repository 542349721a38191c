package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultRedisKey     = "switchboard:jobs"
	DefaultPollInterval = 500 * time.Millisecond
	defaultPollBatch    = 50
)

// Redis keeps delayed jobs in a sorted set scored by due time. Pollers claim
// a due job by removing it; only the poller whose ZREM succeeds runs it.
type Redis struct {
	*registry
	client       redis.UniversalClient
	key          string
	pollInterval time.Duration
	concurrency  int64
	maxRuns      int
	retryDelay   time.Duration
	clock        func() time.Time

	sem    *semaphore.Weighted
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ interfaces.JobQueue = &Redis{}

type RedisOption func(*Redis)

func WithRedisKey(key string) RedisOption {
	return func(r *Redis) {
		r.key = key
	}
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.pollInterval = d
	}
}

func WithRedisConcurrency(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.concurrency = int64(n)
		}
	}
}

func WithRedisMaxRuns(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.maxRuns = n
		}
	}
}

func WithRedisRetryDelay(d time.Duration) RedisOption {
	return func(r *Redis) {
		r.retryDelay = d
	}
}

func WithClock(clock func() time.Time) RedisOption {
	return func(r *Redis) {
		r.clock = clock
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		registry:     newRegistry(),
		client:       client,
		key:          DefaultRedisKey,
		pollInterval: DefaultPollInterval,
		concurrency:  DefaultConcurrency,
		maxRuns:      DefaultMaxRuns,
		retryDelay:   DefaultRetryDelay,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sem = semaphore.NewWeighted(r.concurrency)
	return r
}

func (r *Redis) OnJob(kind string, handler interfaces.JobHandler) {
	r.set(kind, handler)
}

func (r *Redis) Enqueue(ctx context.Context, kind string, payload []byte, delay time.Duration) error {
	if kind == "" {
		return goerr.New("job kind is required")
	}
	return r.push(ctx, &job{ID: uuid.NewString(), Kind: kind, Payload: payload}, delay)
}

func (r *Redis) push(ctx context.Context, j *job, delay time.Duration) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return goerr.Wrap(err, "failed to encode job", goerr.V("kind", j.Kind))
	}

	due := r.clock().Add(delay).UnixMilli()
	if err := r.client.ZAdd(ctx, r.key, redis.Z{Score: float64(due), Member: string(raw)}).Err(); err != nil {
		return goerr.Wrap(err, "failed to add job to redis", goerr.V("kind", j.Kind), goerr.V("key", r.key))
	}
	return nil
}

func (r *Redis) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return goerr.Wrap(err, "failed to connect to redis")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)

	logging.From(ctx).Info("redis job queue started",
		"key", r.key, "poll_interval", r.pollInterval.String(), "concurrency", r.concurrency)
	return nil
}

// Stop ends polling and waits for running handlers.
func (r *Redis) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Redis) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.poll(ctx); err != nil && ctx.Err() == nil {
			_ = errutil.Handle(ctx, err, "redis job poll failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll claims due jobs and starts their handlers. It returns the number of
// jobs claimed.
func (r *Redis) poll(ctx context.Context) (int, error) {
	now := strconv.FormatInt(r.clock().UnixMilli(), 10)
	members, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: defaultPollBatch,
	}).Result()
	if err != nil {
		return 0, goerr.Wrap(err, "failed to read due jobs", goerr.V("key", r.key))
	}

	claimed := 0
	for _, member := range members {
		removed, err := r.client.ZRem(ctx, r.key, member).Result()
		if err != nil {
			return claimed, goerr.Wrap(err, "failed to claim job", goerr.V("key", r.key))
		}
		if removed == 0 {
			continue
		}

		var j job
		if err := json.Unmarshal([]byte(member), &j); err != nil {
			_ = errutil.Handle(ctx, goerr.Wrap(err, "malformed job dropped", goerr.V("member", member)), "redis job decode failed")
			continue
		}
		claimed++

		if err := r.sem.Acquire(ctx, 1); err != nil {
			// give the job back so another worker can run it
			if perr := r.push(context.WithoutCancel(ctx), &j, 0); perr != nil {
				_ = errutil.Handle(ctx, perr, "failed to return job to redis")
			}
			return claimed, nil
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.sem.Release(1)

			if r.execute(ctx, &j, r.maxRuns) {
				if err := r.push(context.WithoutCancel(ctx), &j, r.retryDelay); err != nil {
					_ = errutil.Handle(ctx, err, "failed to requeue job")
				}
			}
		}()
	}
	return claimed, nil
}
