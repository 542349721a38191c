package interfaces

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
)

type ThreadRepository interface {
	Create(ctx context.Context, orgID string, thread *model.Thread) (*model.Thread, error)
	// Get returns ErrOrgMismatch when the thread exists in another org.
	Get(ctx context.Context, orgID, threadID string) (*model.Thread, error)
	List(ctx context.Context, orgID string) ([]*model.Thread, error)
	// FindActive returns the active thread matching q, or ErrNotFound.
	FindActive(ctx context.Context, orgID string, q model.ThreadQuery) (*model.Thread, error)
	// FindOrCreate atomically returns the active thread matching q, creating
	// it when absent. created reports whether a new thread was stored.
	FindOrCreate(ctx context.Context, orgID string, q model.ThreadQuery, now time.Time) (thread *model.Thread, created bool, err error)
	// RecordActivity bumps LastActivityAt and optionally the owner unread
	// counter.
	RecordActivity(ctx context.Context, orgID, threadID string, at time.Time, incrementUnread bool) error
}
