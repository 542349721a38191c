package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

// Violation is a single detection result. Content is the matched text and
// must never be shown to the sender.
type Violation struct {
	Type    types.ViolationType
	Content string
	Reason  string
}

// PolicyViolation is a persisted leakage attempt. MessageID is empty when the
// message was blocked before it was stored.
type PolicyViolation struct {
	ID               string
	OrgID            string
	ThreadID         string
	MessageID        string
	Type             types.ViolationType
	DetectedSummary  string
	DetectedRedacted string
	ActionTaken      types.ViolationAction
	Status           types.ReviewStatus
	ReviewedBy       string
	ReviewedAt       *time.Time
	CreatedAt        time.Time
}
