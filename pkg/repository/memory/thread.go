package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type threadRepository struct {
	mu      sync.RWMutex
	threads map[string]*model.Thread
}

func newThreadRepository() *threadRepository {
	return &threadRepository{
		threads: make(map[string]*model.Thread),
	}
}

func copyThread(t *model.Thread) *model.Thread {
	c := *t
	return &c
}

func (r *threadRepository) Create(ctx context.Context, orgID string, thread *model.Thread) (*model.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.create(orgID, thread), nil
}

func (r *threadRepository) create(orgID string, thread *model.Thread) *model.Thread {
	created := copyThread(thread)
	created.OrgID = orgID
	created.Status = created.Status.Normalize()
	assignID(&created.ID)
	stampTime(&created.CreatedAt)
	if created.LastActivityAt.IsZero() {
		created.LastActivityAt = created.CreatedAt
	}

	r.threads[created.ID] = created
	return copyThread(created)
}

func (r *threadRepository) Get(ctx context.Context, orgID, threadID string) (*model.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.threads[threadID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "thread not found", goerr.V("thread_id", threadID))
	}
	if t.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrOrgMismatch, "thread belongs to another org",
			goerr.V("thread_id", threadID), goerr.V("org_id", orgID))
	}
	return copyThread(t), nil
}

func (r *threadRepository) List(ctx context.Context, orgID string) ([]*model.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	threads := []*model.Thread{}
	for _, t := range r.threads {
		if t.OrgID == orgID {
			threads = append(threads, copyThread(t))
		}
	}
	return threads, nil
}

func (r *threadRepository) findActive(orgID string, q model.ThreadQuery) *model.Thread {
	var found *model.Thread
	for _, t := range r.threads {
		if t.OrgID != orgID || !t.IsActive() {
			continue
		}
		if t.NumberID != q.NumberID || t.ClientID != q.ClientID || t.ThreadType != q.ThreadType {
			continue
		}
		// oldest wins so repeated lookups are stable
		if found == nil || t.CreatedAt.Before(found.CreatedAt) {
			found = t
		}
	}
	return found
}

func (r *threadRepository) FindActive(ctx context.Context, orgID string, q model.ThreadQuery) (*model.Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := r.findActive(orgID, q)
	if t == nil {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "active thread not found",
			goerr.V("number_id", q.NumberID), goerr.V("client_id", q.ClientID), goerr.V("thread_type", q.ThreadType))
	}
	return copyThread(t), nil
}

func (r *threadRepository) FindOrCreate(ctx context.Context, orgID string, q model.ThreadQuery, now time.Time) (*model.Thread, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t := r.findActive(orgID, q); t != nil {
		return copyThread(t), false, nil
	}

	created := r.create(orgID, &model.Thread{
		ClientID:       q.ClientID,
		NumberID:       q.NumberID,
		ThreadType:     q.ThreadType,
		Status:         types.ThreadStatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	})
	return created, true, nil
}

func (r *threadRepository) RecordActivity(ctx context.Context, orgID, threadID string, at time.Time, incrementUnread bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.threads[threadID]
	if !ok || t.OrgID != orgID {
		return goerr.Wrap(interfaces.ErrNotFound, "thread not found", goerr.V("thread_id", threadID))
	}

	if at.After(t.LastActivityAt) {
		t.LastActivityAt = at
	}
	if incrementUnread {
		t.OwnerUnreadCount++
	}
	return nil
}
