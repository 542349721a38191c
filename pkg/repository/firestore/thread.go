package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type threadRepository struct {
	*base
}

// threadKey is the lock document serializing FindOrCreate per conversation
// key.
type threadKey struct {
	ThreadID  string
	UpdatedAt time.Time
}

func threadKeyID(orgID string, q model.ThreadQuery) string {
	return fmt.Sprintf("%s_%s_%s_%s", orgID, q.NumberID, q.ClientID, q.ThreadType)
}

func (r *threadRepository) activeQuery(orgID string, q model.ThreadQuery) firestore.Query {
	return r.collection(collectionThreads).
		Where("OrgID", "==", orgID).
		Where("NumberID", "==", q.NumberID).
		Where("ClientID", "==", q.ClientID).
		Where("ThreadType", "==", string(q.ThreadType)).
		Where("Status", "==", string(types.ThreadStatusActive))
}

func newThread(orgID string, thread *model.Thread) *model.Thread {
	created := *thread
	created.OrgID = orgID
	created.Status = created.Status.Normalize()
	assignID(&created.ID)
	stampTime(&created.CreatedAt)
	if created.LastActivityAt.IsZero() {
		created.LastActivityAt = created.CreatedAt
	}
	return &created
}

func (r *threadRepository) Create(ctx context.Context, orgID string, thread *model.Thread) (*model.Thread, error) {
	created := newThread(orgID, thread)
	if _, err := r.collection(collectionThreads).Doc(created.ID).Create(ctx, created); err != nil {
		return nil, goerr.Wrap(err, "failed to create thread", goerr.V("thread_id", created.ID))
	}
	return created, nil
}

func (r *threadRepository) Get(ctx context.Context, orgID, threadID string) (*model.Thread, error) {
	t, err := getDoc[model.Thread](ctx, r.collection(collectionThreads).Doc(threadID), "thread")
	if err != nil {
		return nil, err
	}
	if t.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrOrgMismatch, "thread belongs to another org",
			goerr.V("thread_id", threadID), goerr.V("org_id", orgID))
	}
	return t, nil
}

func (r *threadRepository) List(ctx context.Context, orgID string) ([]*model.Thread, error) {
	iter := r.collection(collectionThreads).Where("OrgID", "==", orgID).Documents(ctx)
	return collect[model.Thread](iter, "threads")
}

func oldestThread(threads []*model.Thread) *model.Thread {
	var found *model.Thread
	for _, t := range threads {
		if found == nil || t.CreatedAt.Before(found.CreatedAt) {
			found = t
		}
	}
	return found
}

func (r *threadRepository) FindActive(ctx context.Context, orgID string, q model.ThreadQuery) (*model.Thread, error) {
	threads, err := collect[model.Thread](r.activeQuery(orgID, q).Documents(ctx), "threads")
	if err != nil {
		return nil, err
	}
	t := oldestThread(threads)
	if t == nil {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "active thread not found",
			goerr.V("number_id", q.NumberID), goerr.V("client_id", q.ClientID), goerr.V("thread_type", q.ThreadType))
	}
	return t, nil
}

func (r *threadRepository) FindOrCreate(ctx context.Context, orgID string, q model.ThreadQuery, now time.Time) (*model.Thread, bool, error) {
	keyRef := r.collection(collectionThreadKeys).Doc(threadKeyID(orgID, q))

	var result *model.Thread
	var created bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result, created = nil, false

		// Reading the key document makes concurrent callers for the same
		// conversation key contend on it.
		if _, err := tx.Get(keyRef); err != nil && !isNotFound(err) {
			return goerr.Wrap(err, "failed to get thread key")
		}

		threads, err := collect[model.Thread](tx.Documents(r.activeQuery(orgID, q)), "threads")
		if err != nil {
			return err
		}
		if t := oldestThread(threads); t != nil {
			result = t
			return nil
		}

		t := newThread(orgID, &model.Thread{
			ClientID:       q.ClientID,
			NumberID:       q.NumberID,
			ThreadType:     q.ThreadType,
			Status:         types.ThreadStatusActive,
			CreatedAt:      now,
			LastActivityAt: now,
		})
		if err := tx.Create(r.collection(collectionThreads).Doc(t.ID), t); err != nil {
			return goerr.Wrap(err, "failed to create thread")
		}
		if err := tx.Set(keyRef, &threadKey{ThreadID: t.ID, UpdatedAt: now}); err != nil {
			return goerr.Wrap(err, "failed to set thread key")
		}
		result, created = t, true
		return nil
	})
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to find or create thread",
			goerr.V("number_id", q.NumberID), goerr.V("thread_type", q.ThreadType))
	}
	return result, created, nil
}

func (r *threadRepository) RecordActivity(ctx context.Context, orgID, threadID string, at time.Time, incrementUnread bool) error {
	ref := r.collection(collectionThreads).Doc(threadID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		t, err := txGetDoc[model.Thread](tx, ref, "thread")
		if err != nil {
			return err
		}
		if t.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "thread not found", goerr.V("thread_id", threadID))
		}

		var updates []firestore.Update
		if at.After(t.LastActivityAt) {
			updates = append(updates, firestore.Update{Path: "LastActivityAt", Value: at})
		}
		if incrementUnread {
			updates = append(updates, firestore.Update{Path: "OwnerUnreadCount", Value: firestore.Increment(1)})
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to record thread activity", goerr.V("thread_id", threadID))
	}
	return nil
}
