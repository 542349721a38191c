package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

// Message is a single SMS. Only delivery and redaction related fields change
// after creation.
type Message struct {
	ID                 string
	OrgID              string
	ThreadID           string
	Direction          types.Direction
	SenderType         types.SenderType
	SenderID           string
	Body               string
	RedactedBody       string
	HasPolicyViolation bool
	ProviderMessageSID string
	IgnoredAt          *time.Time
	CreatedAt          time.Time
}

// MessageDelivery is one delivery attempt of a message. AttemptNo starts at 1
// and has no gaps; the highest attempt is authoritative.
type MessageDelivery struct {
	ID                   string
	OrgID                string
	MessageID            string
	AttemptNo            int
	Status               types.DeliveryStatus
	ProviderMessageSID   string
	ProviderErrorCode    string
	ProviderErrorMessage string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SendOutcome is the provider's answer to a send request.
type SendOutcome struct {
	Success      bool
	MessageSID   string
	ErrorCode    string
	ErrorMessage string
}
