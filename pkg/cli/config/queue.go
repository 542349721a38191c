package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/service/queue"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Queue holds CLI flags for the retry job queue
type Queue struct {
	backend       string
	redisAddr     string
	redisPassword string
	redisDB       int
	redisKey      string
	concurrency   int
	maxRuns       int
	retryDelay    time.Duration
}

func (x *Queue) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "queue-backend",
			Usage:       "Job queue backend (memory or redis)",
			Category:    "Queue",
			Value:       "memory",
			Sources:     cli.EnvVars("SWITCHBOARD_QUEUE_BACKEND"),
			Destination: &x.backend,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address (host:port)",
			Category:    "Queue",
			Value:       "localhost:6379",
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_ADDR"),
			Destination: &x.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Category:    "Queue",
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_PASSWORD"),
			Destination: &x.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Category:    "Queue",
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_DB"),
			Destination: &x.redisDB,
		},
		&cli.StringFlag{
			Name:        "redis-key",
			Usage:       "Redis sorted set holding scheduled jobs",
			Category:    "Queue",
			Value:       queue.DefaultRedisKey,
			Sources:     cli.EnvVars("SWITCHBOARD_REDIS_KEY"),
			Destination: &x.redisKey,
		},
		&cli.IntFlag{
			Name:        "queue-concurrency",
			Usage:       "Maximum number of jobs running at once",
			Category:    "Queue",
			Value:       queue.DefaultConcurrency,
			Sources:     cli.EnvVars("SWITCHBOARD_QUEUE_CONCURRENCY"),
			Destination: &x.concurrency,
		},
		&cli.IntFlag{
			Name:        "queue-max-runs",
			Usage:       "Runs of a failing job before it is dropped",
			Category:    "Queue",
			Value:       queue.DefaultMaxRuns,
			Sources:     cli.EnvVars("SWITCHBOARD_QUEUE_MAX_RUNS"),
			Destination: &x.maxRuns,
		},
		&cli.DurationFlag{
			Name:        "queue-retry-delay",
			Usage:       "Delay before a failed job is run again",
			Category:    "Queue",
			Value:       queue.DefaultRetryDelay,
			Sources:     cli.EnvVars("SWITCHBOARD_QUEUE_RETRY_DELAY"),
			Destination: &x.retryDelay,
		},
	}
}

func (x Queue) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", x.backend),
		slog.String("redis_addr", x.redisAddr),
		slog.Int("redis_db", x.redisDB),
		slog.Int("concurrency", x.concurrency),
		slog.Int("max_runs", x.maxRuns),
		slog.Duration("retry_delay", x.retryDelay),
	)
}

// Configure builds the job queue. The returned closer releases the Redis
// connection, if any.
func (x *Queue) Configure(ctx context.Context) (interfaces.JobQueue, func(), error) {
	switch x.backend {
	case "memory", "":
		q := queue.NewMemory(
			queue.WithConcurrency(x.concurrency),
			queue.WithMaxRuns(x.maxRuns),
			queue.WithRetryDelay(x.retryDelay),
		)
		logging.Default().Info("Using in-memory job queue")
		return q, func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     x.redisAddr,
			Password: x.redisPassword,
			DB:       x.redisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", x.redisAddr))
		}

		q := queue.NewRedis(client,
			queue.WithRedisKey(x.redisKey),
			queue.WithRedisConcurrency(x.concurrency),
			queue.WithRedisMaxRuns(x.maxRuns),
			queue.WithRedisRetryDelay(x.retryDelay),
		)
		logging.Default().Info("Using Redis job queue", "addr", x.redisAddr, "key", x.redisKey)
		closer := func() {
			if err := client.Close(); err != nil {
				logging.Default().Error("failed to close redis client", "error", err)
			}
		}
		return q, closer, nil

	default:
		return nil, nil, goerr.New("invalid queue backend", goerr.V("backend", x.backend))
	}
}
