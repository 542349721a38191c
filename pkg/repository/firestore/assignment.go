package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
)

type windowRepository struct {
	*base
}

func (r *windowRepository) Create(ctx context.Context, orgID string, w *model.AssignmentWindow) (*model.AssignmentWindow, error) {
	created := *w
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}

	if _, err := r.collection(collectionWindows).Doc(created.ID).Create(ctx, &created); err != nil {
		return nil, goerr.Wrap(err, "failed to create window", goerr.V("window_id", created.ID))
	}
	return &created, nil
}

func (r *windowRepository) Get(ctx context.Context, orgID, windowID string) (*model.AssignmentWindow, error) {
	w, err := getDoc[model.AssignmentWindow](ctx, r.collection(collectionWindows).Doc(windowID), "window")
	if err != nil {
		return nil, err
	}
	if w.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", windowID))
	}
	return w, nil
}

func (r *windowRepository) Update(ctx context.Context, orgID string, w *model.AssignmentWindow) (*model.AssignmentWindow, error) {
	ref := r.collection(collectionWindows).Doc(w.ID)
	updated := *w
	updated.OrgID = orgID
	if updated.UpdatedAt.IsZero() {
		updated.UpdatedAt = time.Now().UTC()
	}

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := txGetDoc[model.AssignmentWindow](tx, ref, "window")
		if err != nil {
			return err
		}
		if existing.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", w.ID))
		}
		updated.CreatedAt = existing.CreatedAt
		return tx.Set(ref, &updated)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update window", goerr.V("window_id", w.ID))
	}
	return &updated, nil
}

func (r *windowRepository) Delete(ctx context.Context, orgID, windowID string) error {
	ref := r.collection(collectionWindows).Doc(windowID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := txGetDoc[model.AssignmentWindow](tx, ref, "window")
		if err != nil {
			return err
		}
		if existing.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", windowID))
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to delete window", goerr.V("window_id", windowID))
	}
	return nil
}

// List filters by org and the equality fields in Firestore; the time range
// and ordering are applied in memory.
func (r *windowRepository) List(ctx context.Context, orgID string, q interfaces.WindowQuery) ([]*model.AssignmentWindow, error) {
	fq := r.collection(collectionWindows).Where("OrgID", "==", orgID)
	if q.ThreadID != "" {
		fq = fq.Where("ThreadID", "==", q.ThreadID)
	}
	if q.SitterID != "" {
		fq = fq.Where("SitterID", "==", q.SitterID)
	}

	windows, err := collect[model.AssignmentWindow](fq.Documents(ctx), "windows")
	if err != nil {
		return nil, err
	}

	result := []*model.AssignmentWindow{}
	for _, w := range windows {
		if q.Matches(w) {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return model.WindowBefore(result[i], result[j])
	})
	return result, nil
}

func (r *windowRepository) Apply(ctx context.Context, orgID string, m model.WindowMutation) error {
	col := r.collection(collectionWindows)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing := make(map[string]*model.AssignmentWindow, len(m.Updates))
		for _, w := range m.Updates {
			stored, err := txGetDoc[model.AssignmentWindow](tx, col.Doc(w.ID), "window")
			if err != nil {
				return err
			}
			if stored.OrgID != orgID {
				return goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", w.ID))
			}
			if !m.CheckVersion(stored) {
				return goerr.Wrap(interfaces.ErrStaleWrite, "window changed since read", goerr.V("window_id", w.ID))
			}
			existing[w.ID] = stored
		}
		for _, id := range m.Deletes {
			stored, err := txGetDoc[model.AssignmentWindow](tx, col.Doc(id), "window")
			if err != nil {
				return err
			}
			if stored.OrgID != orgID {
				return goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", id))
			}
			if !m.CheckVersion(stored) {
				return goerr.Wrap(interfaces.ErrStaleWrite, "window changed since read", goerr.V("window_id", id))
			}
		}

		for _, w := range m.Updates {
			updated := *w
			updated.OrgID = orgID
			updated.CreatedAt = existing[w.ID].CreatedAt
			if err := tx.Set(col.Doc(w.ID), &updated); err != nil {
				return err
			}
		}
		for _, id := range m.Deletes {
			if err := tx.Delete(col.Doc(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to apply window mutation")
	}
	return nil
}

type overrideRepository struct {
	*base
}

func (r *overrideRepository) Create(ctx context.Context, orgID string, o *model.RoutingOverride) (*model.RoutingOverride, error) {
	created := *o
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, err := r.collection(collectionOverrides).Doc(created.ID).Create(ctx, &created); err != nil {
		return nil, goerr.Wrap(err, "failed to create override", goerr.V("override_id", created.ID))
	}
	return &created, nil
}

func (r *overrideRepository) Get(ctx context.Context, orgID, overrideID string) (*model.RoutingOverride, error) {
	o, err := getDoc[model.RoutingOverride](ctx, r.collection(collectionOverrides).Doc(overrideID), "override")
	if err != nil {
		return nil, err
	}
	if o.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "override not found", goerr.V("override_id", overrideID))
	}
	return o, nil
}

func (r *overrideRepository) List(ctx context.Context, orgID string, q interfaces.OverrideQuery) ([]*model.RoutingOverride, error) {
	fq := r.collection(collectionOverrides).Where("OrgID", "==", orgID)
	if q.ThreadID != "" {
		fq = fq.Where("ThreadID", "==", q.ThreadID)
	}

	overrides, err := collect[model.RoutingOverride](fq.Documents(ctx), "overrides")
	if err != nil {
		return nil, err
	}

	result := []*model.RoutingOverride{}
	for _, o := range overrides {
		if q.Matches(o) {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return model.OverrideBefore(result[i], result[j])
	})
	return result, nil
}

func (r *overrideRepository) Remove(ctx context.Context, orgID, overrideID string, at time.Time) (*model.RoutingOverride, error) {
	ref := r.collection(collectionOverrides).Doc(overrideID)

	var result *model.RoutingOverride
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		o, err := txGetDoc[model.RoutingOverride](tx, ref, "override")
		if err != nil {
			return err
		}
		if o.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "override not found", goerr.V("override_id", overrideID))
		}
		result = o
		if o.RemovedAt != nil {
			return nil
		}
		o.RemovedAt = &at
		return tx.Update(ref, []firestore.Update{{Path: "RemovedAt", Value: at}})
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to remove override", goerr.V("override_id", overrideID))
	}
	return result, nil
}
