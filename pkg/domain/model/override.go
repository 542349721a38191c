package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

// OverrideState is the tagged lifecycle of a routing override.
type OverrideState int

const (
	OverrideActive OverrideState = iota + 1
	OverrideRemoved
)

// RoutingOverride forces the routing target of a thread for a period. EndsAt
// nil means open-ended. Removal is a soft delete so that past evaluations
// stay replayable.
type RoutingOverride struct {
	ID         string
	OrgID      string
	ThreadID   string
	TargetType types.RoutingTarget
	TargetID   string
	StartsAt   time.Time
	EndsAt     *time.Time
	Reason     string
	CreatedBy  string
	CreatedAt  time.Time
	RemovedAt  *time.Time
}

func (o *RoutingOverride) State() OverrideState {
	if o.RemovedAt != nil {
		return OverrideRemoved
	}
	return OverrideActive
}

// IsEffectiveAt reports whether the override applies at ts. Both bounds are
// inclusive and a removed override never applies.
func (o *RoutingOverride) IsEffectiveAt(ts time.Time) bool {
	if o.State() == OverrideRemoved {
		return false
	}
	if ts.Before(o.StartsAt) {
		return false
	}
	return o.EndsAt == nil || !o.EndsAt.Before(ts)
}

// OverrideBefore orders overrides so that the most recently created comes
// first, then by descending ID.
func OverrideBefore(a, b *RoutingOverride) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
