package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

func runThreadRepositoryTest(t *testing.T, newRepo func(t *testing.T) interfaces.Repository) {
	t.Helper()

	t.Run("Create and Get round trip", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		orgID := uniqueOrg(t)

		created, err := repo.Thread().Create(ctx, orgID, &model.Thread{
			ClientID:   "client-1",
			NumberID:   "number-1",
			ThreadType: types.ThreadTypeAssignment,
			Status:     types.ThreadStatusActive,
			CreatedAt:  baseTime(),
		})
		gt.NoError(t, err).Required()
		gt.Value(t, created.ID).NotEqual("")
		gt.Value(t, created.OrgID).Equal(orgID)
		gt.Bool(t, created.LastActivityAt.Equal(baseTime())).True()

		got, err := repo.Thread().Get(ctx, orgID, created.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, got.NumberID).Equal("number-1")
		gt.Value(t, got.ThreadType).Equal(types.ThreadTypeAssignment)
	})

	t.Run("Get from another org reports org mismatch", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		orgID := uniqueOrg(t)

		created, err := repo.Thread().Create(ctx, orgID, &model.Thread{
			ClientID: "client-1", NumberID: "number-1", ThreadType: types.ThreadTypeFrontDesk,
		})
		gt.NoError(t, err).Required()

		_, err = repo.Thread().Get(ctx, uniqueOrg(t), created.ID)
		gt.Error(t, err).Is(interfaces.ErrOrgMismatch)
	})

	t.Run("Get unknown thread returns not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Thread().Get(context.Background(), uniqueOrg(t), model.NewID())
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	})

	t.Run("FindOrCreate returns the existing active thread", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		orgID := uniqueOrg(t)
		q := model.ThreadQuery{NumberID: "number-1", ClientID: "client-1", ThreadType: types.ThreadTypeFrontDesk}

		first, created, err := repo.Thread().FindOrCreate(ctx, orgID, q, baseTime())
		gt.NoError(t, err).Required()
		gt.Bool(t, created).True()

		second, created, err := repo.Thread().FindOrCreate(ctx, orgID, q, baseTime())
		gt.NoError(t, err).Required()
		gt.Bool(t, created).False()
		gt.Value(t, second.ID).Equal(first.ID)

		found, err := repo.Thread().FindActive(ctx, orgID, q)
		gt.NoError(t, err).Required()
		gt.Value(t, found.ID).Equal(first.ID)
	})

	t.Run("FindOrCreate creates one thread under concurrency", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		orgID := uniqueOrg(t)
		q := model.ThreadQuery{NumberID: "number-1", ClientID: "client-1", ThreadType: types.ThreadTypeFrontDesk}

		const workers = 8
		ids := make([]string, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				th, _, err := repo.Thread().FindOrCreate(ctx, orgID, q, baseTime())
				errs[i] = err
				if th != nil {
					ids[i] = th.ID
				}
			}()
		}
		wg.Wait()

		for i := range workers {
			gt.NoError(t, errs[i]).Required()
			gt.Value(t, ids[i]).Equal(ids[0])
		}

		threads, err := repo.Thread().List(ctx, orgID)
		gt.NoError(t, err).Required()
		gt.Array(t, threads).Length(1)
	})

	t.Run("FindActive ignores closed threads", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		orgID := uniqueOrg(t)

		_, err := repo.Thread().Create(ctx, orgID, &model.Thread{
			ClientID: "client-1", NumberID: "number-1", ThreadType: types.ThreadTypeFrontDesk,
			Status: types.ThreadStatusClosed,
		})
		gt.NoError(t, err).Required()

		_, err = repo.Thread().FindActive(ctx, orgID, model.ThreadQuery{
			NumberID: "number-1", ClientID: "client-1", ThreadType: types.ThreadTypeFrontDesk,
		})
		gt.Error(t, err).Is(interfaces.ErrNotFound)
	})

	t.Run("RecordActivity bumps time and unread counter", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		orgID := uniqueOrg(t)

		th, err := repo.Thread().Create(ctx, orgID, &model.Thread{
			ClientID: "client-1", NumberID: "number-1", ThreadType: types.ThreadTypeFrontDesk,
			CreatedAt: baseTime(),
		})
		gt.NoError(t, err).Required()

		later := baseTime().Add(time.Hour)
		gt.NoError(t, repo.Thread().RecordActivity(ctx, orgID, th.ID, later, true)).Required()
		gt.NoError(t, repo.Thread().RecordActivity(ctx, orgID, th.ID, baseTime(), true)).Required()

		got, err := repo.Thread().Get(ctx, orgID, th.ID)
		gt.NoError(t, err).Required()
		gt.Bool(t, got.LastActivityAt.Equal(later)).True()
		gt.Value(t, got.OwnerUnreadCount).Equal(2)
	})
}

func TestThreadRepository_Memory(t *testing.T) {
	runThreadRepositoryTest(t, newMemoryRepository)
}

func TestThreadRepository_Firestore(t *testing.T) {
	runThreadRepositoryTest(t, newFirestoreRepository)
}
