package interfaces

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// Provider is the SMS carrier integration.
type Provider interface {
	// SendMessage dispatches an SMS. A carrier rejection is reported in the
	// outcome; err is reserved for transport failures.
	SendMessage(ctx context.Context, to, from, body string) (*model.SendOutcome, error)
	// VerifyWebhook checks the signature of a webhook request received at
	// url with the given raw form body.
	VerifyWebhook(ctx context.Context, rawBody []byte, signature, url string) (bool, error)
	GetDeliveryStatus(ctx context.Context, sid string) (types.DeliveryStatus, error)
}

// PolicyDetector finds contact-information leakage in message text.
type PolicyDetector interface {
	Detect(text string) []model.Violation
}

// JobHandler processes one job payload. Returning an error leaves the retry
// decision to the queue implementation.
type JobHandler func(ctx context.Context, payload []byte) error

// JobQueue is an at-least-once delayed job queue.
type JobQueue interface {
	Enqueue(ctx context.Context, kind string, payload []byte, delay time.Duration) error
	OnJob(kind string, handler JobHandler)
	Start(ctx context.Context) error
	Stop()
}

// RetryQueuer schedules a delivery retry of a message.
type RetryQueuer interface {
	QueueRetry(ctx context.Context, orgID, messageID string, attemptNo int, delay *time.Duration) error
}
