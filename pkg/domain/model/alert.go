package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

// Alert types raised by the pipeline.
const (
	AlertTypeUnmappedPool       = "routing.unmapped_pool"
	AlertTypePolicyViolation    = "policy.violation"
	AlertTypePolicyBlocked      = "policy.violation.blocked"
	AlertTypeMaxRetriesExceeded = "message.delivery.max_retries_exceeded"
)

// Alert is a deduplicated operational signal. While open, an alert with the
// same DedupKey is refreshed instead of duplicated.
type Alert struct {
	ID          string
	OrgID       string
	Severity    types.AlertSeverity
	Type        string
	Title       string
	Description string
	EntityType  string
	EntityID    string
	Status      types.ReviewStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
	ResolvedBy  string
}

// AlertDedupKey identifies an open alert.
type AlertDedupKey struct {
	OrgID      string
	Type       string
	EntityType string
	EntityID   string
}

func (a *Alert) DedupKey() AlertDedupKey {
	return AlertDedupKey{
		OrgID:      a.OrgID,
		Type:       a.Type,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
	}
}

// String renders the key as a single storage-safe identifier.
func (k AlertDedupKey) String() string {
	return k.OrgID + "|" + k.Type + "|" + k.EntityType + "|" + k.EntityID
}
