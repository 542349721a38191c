package usecase

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/interfaces"
)

// DefaultProviderTimeout bounds a single provider send.
const DefaultProviderTimeout = 15 * time.Second

type UseCases struct {
	repo            interfaces.Repository
	provider        interfaces.Provider
	detector        interfaces.PolicyDetector
	auditSink       interfaces.AuditSink
	auditReader     interfaces.AuditReader
	queue           interfaces.JobQueue
	notifier        interfaces.AlertNotifier
	clock           func() time.Time
	providerTimeout time.Duration

	Routing    *RoutingUseCase
	Assignment *AssignmentUseCase
	Resolver   *ResolverUseCase
	Inbound    *InboundUseCase
	Outbound   *OutboundUseCase
	Retry      *RetryUseCase
	Delivery   *DeliveryUseCase
	Alert      *AlertUseCase
	Policy     *PolicyUseCase
}

type Option func(*UseCases)

func WithProvider(provider interfaces.Provider) Option {
	return func(uc *UseCases) {
		uc.provider = provider
	}
}

func WithPolicyDetector(detector interfaces.PolicyDetector) Option {
	return func(uc *UseCases) {
		uc.detector = detector
	}
}

// WithAuditSink sets the audit log. A sink that also implements
// interfaces.AuditReader serves routing history as well.
func WithAuditSink(sink interfaces.AuditSink) Option {
	return func(uc *UseCases) {
		uc.auditSink = sink
		if reader, ok := sink.(interfaces.AuditReader); ok && uc.auditReader == nil {
			uc.auditReader = reader
		}
	}
}

func WithAuditReader(reader interfaces.AuditReader) Option {
	return func(uc *UseCases) {
		uc.auditReader = reader
	}
}

// WithJobQueue sets the queue retry jobs are scheduled on. New registers the
// retry handler on it.
func WithJobQueue(queue interfaces.JobQueue) Option {
	return func(uc *UseCases) {
		uc.queue = queue
	}
}

func WithAlertNotifier(notifier interfaces.AlertNotifier) Option {
	return func(uc *UseCases) {
		uc.notifier = notifier
	}
}

func WithClock(clock func() time.Time) Option {
	return func(uc *UseCases) {
		uc.clock = clock
	}
}

func WithProviderTimeout(timeout time.Duration) Option {
	return func(uc *UseCases) {
		uc.providerTimeout = timeout
	}
}

func New(repo interfaces.Repository, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:            repo,
		clock:           func() time.Time { return time.Now().UTC() },
		providerTimeout: DefaultProviderTimeout,
	}

	for _, opt := range opts {
		opt(uc)
	}

	audit := &auditor{sink: uc.auditSink, clock: uc.clock}

	uc.Alert = newAlertUseCase(repo, audit, uc.notifier, uc.clock)
	uc.Policy = newPolicyUseCase(repo, uc.detector, audit, uc.clock)
	uc.Routing = newRoutingUseCase(repo, audit, uc.auditReader, uc.clock)
	uc.Assignment = newAssignmentUseCase(repo, audit, uc.clock)
	uc.Resolver = newResolverUseCase(repo, uc.clock)

	dispatcher := &sender{provider: uc.provider, timeout: uc.providerTimeout}
	uc.Retry = newRetryUseCase(repo, dispatcher, uc.queue, uc.Alert, audit, uc.clock)
	uc.Delivery = newDeliveryUseCase(repo, uc.provider, uc.Retry, audit, uc.clock)
	uc.Outbound = newOutboundUseCase(repo, dispatcher, uc.Routing, uc.Policy, uc.Alert, uc.Retry, audit, uc.clock)
	uc.Inbound = newInboundUseCase(repo, uc.provider, uc.Resolver, uc.Routing, uc.Policy, uc.Alert, uc.Delivery, audit, uc.clock)

	if uc.queue != nil {
		uc.queue.OnJob(RetryJobKind, uc.Retry.HandleJob)
	}

	return uc
}
