package interfaces

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// WindowQuery filters assignment windows. Zero values match everything.
type WindowQuery struct {
	ThreadID string
	SitterID string
	// From and To select windows intersecting [From, To).
	From *time.Time
	To   *time.Time
}

func (q WindowQuery) Matches(w *model.AssignmentWindow) bool {
	if q.ThreadID != "" && w.ThreadID != q.ThreadID {
		return false
	}
	if q.SitterID != "" && w.SitterID != q.SitterID {
		return false
	}
	if q.From != nil && !w.EndsAt.After(*q.From) {
		return false
	}
	if q.To != nil && !w.StartsAt.Before(*q.To) {
		return false
	}
	return true
}

type WindowRepository interface {
	Create(ctx context.Context, orgID string, w *model.AssignmentWindow) (*model.AssignmentWindow, error)
	Get(ctx context.Context, orgID, windowID string) (*model.AssignmentWindow, error)
	Update(ctx context.Context, orgID string, w *model.AssignmentWindow) (*model.AssignmentWindow, error)
	Delete(ctx context.Context, orgID, windowID string) error
	// List returns matching windows ordered by StartsAt, then ID.
	List(ctx context.Context, orgID string, q WindowQuery) ([]*model.AssignmentWindow, error)
	// Apply performs all updates and deletes in one transaction. If any
	// referenced window is missing nothing is changed and ErrNotFound is
	// returned; if one changed since it was read (m.ReadVersions) the result
	// is ErrStaleWrite.
	Apply(ctx context.Context, orgID string, m model.WindowMutation) error
}

// OverrideQuery filters routing overrides of one org.
type OverrideQuery struct {
	ThreadID       string
	IncludeRemoved bool
}

func (q OverrideQuery) Matches(o *model.RoutingOverride) bool {
	if q.ThreadID != "" && o.ThreadID != q.ThreadID {
		return false
	}
	if !q.IncludeRemoved && o.State() == model.OverrideRemoved {
		return false
	}
	return true
}

type OverrideRepository interface {
	Create(ctx context.Context, orgID string, o *model.RoutingOverride) (*model.RoutingOverride, error)
	Get(ctx context.Context, orgID, overrideID string) (*model.RoutingOverride, error)
	// List returns matching overrides, most recently created first.
	List(ctx context.Context, orgID string, q OverrideQuery) ([]*model.RoutingOverride, error)
	// Remove soft-deletes the override. Removing twice keeps the first
	// timestamp.
	Remove(ctx context.Context, orgID, overrideID string, at time.Time) (*model.RoutingOverride, error)
}

// ViolationQuery filters policy violations of one org.
type ViolationQuery struct {
	ThreadID  string
	MessageID string
	Type      types.ViolationType
	Status    types.ReviewStatus
	Limit     int
}

func (q ViolationQuery) Matches(v *model.PolicyViolation) bool {
	if q.ThreadID != "" && v.ThreadID != q.ThreadID {
		return false
	}
	if q.MessageID != "" && v.MessageID != q.MessageID {
		return false
	}
	if q.Type != "" && v.Type != q.Type {
		return false
	}
	if q.Status != "" && v.Status != q.Status {
		return false
	}
	return true
}

type ViolationRepository interface {
	Create(ctx context.Context, orgID string, v *model.PolicyViolation) (*model.PolicyViolation, error)
	Get(ctx context.Context, orgID, violationID string) (*model.PolicyViolation, error)
	// List returns matching violations, newest first.
	List(ctx context.Context, orgID string, q ViolationQuery) ([]*model.PolicyViolation, error)
	Update(ctx context.Context, orgID string, v *model.PolicyViolation) (*model.PolicyViolation, error)
}
