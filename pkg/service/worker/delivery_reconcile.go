package worker

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/utils/errutil"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

const (
	DefaultReconcileInterval = 5 * time.Minute
	DefaultPendingThreshold  = 10 * time.Minute
	DefaultReconcileBatch    = 100
)

// Reconciler applies provider statuses to deliveries stuck in a pending
// state.
type Reconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// DeliveryReconcileWorker periodically polls the provider for deliveries whose
// status callback never arrived.
//
// It assumes a single server instance; concurrent instances would poll the
// same deliveries, which is harmless but wasteful.
type DeliveryReconcileWorker struct {
	reconciler Reconciler
	interval   time.Duration
	threshold  time.Duration
	batch      int
	stopCh     chan struct{}
	doneCh     chan struct{}
}

type Option func(*DeliveryReconcileWorker)

func WithInterval(d time.Duration) Option {
	return func(w *DeliveryReconcileWorker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithThreshold sets how long a delivery stays queued or sent before it is
// polled.
func WithThreshold(d time.Duration) Option {
	return func(w *DeliveryReconcileWorker) {
		w.threshold = d
	}
}

func WithBatch(n int) Option {
	return func(w *DeliveryReconcileWorker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func NewDeliveryReconcileWorker(reconciler Reconciler, opts ...Option) *DeliveryReconcileWorker {
	w := &DeliveryReconcileWorker{
		reconciler: reconciler,
		interval:   DefaultReconcileInterval,
		threshold:  DefaultPendingThreshold,
		batch:      DefaultReconcileBatch,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the reconcile loop in the background.
func (w *DeliveryReconcileWorker) Start(ctx context.Context) error {
	logging.From(ctx).Info("delivery reconcile worker starting",
		"interval", w.interval.String(), "threshold", w.threshold.String())

	go w.run(ctx)
	return nil
}

// Stop signals the worker to stop and waits for completion
func (w *DeliveryReconcileWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("delivery reconcile worker stopped")
}

func (w *DeliveryReconcileWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.reconcile(ctx)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (w *DeliveryReconcileWorker) reconcile(ctx context.Context) {
	started := time.Now()
	updated, err := w.reconciler.Reconcile(ctx, w.threshold, w.batch)
	if err != nil {
		_ = errutil.Handle(ctx, err, "delivery reconcile failed (will retry next interval)")
		return
	}
	logging.From(ctx).Debug("delivery reconcile cycle done",
		"updated", updated, "duration", time.Since(started).String())
}
