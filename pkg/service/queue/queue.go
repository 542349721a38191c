// Package queue implements interfaces.JobQueue on timers and on Redis.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

const (
	// DefaultConcurrency bounds the handlers running at once.
	DefaultConcurrency = 8
	// DefaultMaxRuns is how often a failing job is run before it is dropped.
	DefaultMaxRuns = 3
	// DefaultRetryDelay is the wait before a failed job runs again.
	DefaultRetryDelay = 30 * time.Second
)

// job is the unit stored by both queues.
type job struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Payload []byte `json:"payload"`
	Runs    int    `json:"runs"`
}

// registry maps job kinds to handlers.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]interfaces.JobHandler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string]interfaces.JobHandler)}
}

func (r *registry) set(kind string, h interfaces.JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *registry) get(kind string) (interfaces.JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// execute runs j and reports whether it should run again.
func (r *registry) execute(ctx context.Context, j *job, maxRuns int) (retry bool) {
	logger := logging.From(ctx).With("job_id", j.ID, "kind", j.Kind, "run", j.Runs+1)

	h, ok := r.get(j.Kind)
	if !ok {
		logger.Warn("no handler for job kind, dropped")
		return false
	}

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = goerr.New("job handler panicked", goerr.V("panic", rec))
			}
		}()
		return h(ctx, j.Payload)
	}()
	if err == nil {
		return false
	}

	j.Runs++
	if j.Runs >= maxRuns {
		_ = errutil.Handle(ctx, goerr.Wrap(err, "job failed permanently",
			goerr.V("job_id", j.ID), goerr.V("kind", j.Kind), goerr.V("runs", j.Runs)), "job dropped")
		return false
	}
	logger.Warn("job failed, will run again", "error", err.Error())
	return true
}
