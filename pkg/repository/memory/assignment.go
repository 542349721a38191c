package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
)

type windowRepository struct {
	mu      sync.RWMutex
	windows map[string]map[string]*model.AssignmentWindow
}

func newWindowRepository() *windowRepository {
	return &windowRepository{
		windows: make(map[string]map[string]*model.AssignmentWindow),
	}
}

func copyWindow(w *model.AssignmentWindow) *model.AssignmentWindow {
	c := *w
	return &c
}

func (r *windowRepository) ensureOrg(orgID string) map[string]*model.AssignmentWindow {
	org, ok := r.windows[orgID]
	if !ok {
		org = make(map[string]*model.AssignmentWindow)
		r.windows[orgID] = org
	}
	return org
}

func (r *windowRepository) Create(ctx context.Context, orgID string, w *model.AssignmentWindow) (*model.AssignmentWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := copyWindow(w)
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}

	r.ensureOrg(orgID)[created.ID] = created
	return copyWindow(created), nil
}

func (r *windowRepository) Get(ctx context.Context, orgID, windowID string) (*model.AssignmentWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.windows[orgID][windowID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", windowID))
	}
	return copyWindow(w), nil
}

func (r *windowRepository) Update(ctx context.Context, orgID string, w *model.AssignmentWindow) (*model.AssignmentWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.windows[orgID][w.ID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", w.ID))
	}

	updated := copyWindow(w)
	updated.OrgID = orgID
	updated.CreatedAt = existing.CreatedAt
	if updated.UpdatedAt.IsZero() {
		updated.UpdatedAt = time.Now().UTC()
	}
	r.windows[orgID][w.ID] = updated
	return copyWindow(updated), nil
}

func (r *windowRepository) Delete(ctx context.Context, orgID, windowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.windows[orgID][windowID]; !ok {
		return goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", windowID))
	}
	delete(r.windows[orgID], windowID)
	return nil
}

func (r *windowRepository) List(ctx context.Context, orgID string, q interfaces.WindowQuery) ([]*model.AssignmentWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.AssignmentWindow{}
	for _, w := range r.windows[orgID] {
		if q.Matches(w) {
			result = append(result, copyWindow(w))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return model.WindowBefore(result[i], result[j])
	})
	return result, nil
}

func (r *windowRepository) Apply(ctx context.Context, orgID string, m model.WindowMutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	org := r.windows[orgID]
	ids := make([]string, 0, len(m.Updates)+len(m.Deletes))
	for _, w := range m.Updates {
		ids = append(ids, w.ID)
	}
	ids = append(ids, m.Deletes...)
	for _, id := range ids {
		stored, ok := org[id]
		if !ok {
			return goerr.Wrap(interfaces.ErrNotFound, "window not found", goerr.V("window_id", id))
		}
		if !m.CheckVersion(stored) {
			return goerr.Wrap(interfaces.ErrStaleWrite, "window changed since read", goerr.V("window_id", id))
		}
	}

	for _, w := range m.Updates {
		updated := copyWindow(w)
		updated.OrgID = orgID
		updated.CreatedAt = org[w.ID].CreatedAt
		org[w.ID] = updated
	}
	for _, id := range m.Deletes {
		delete(org, id)
	}
	return nil
}

type overrideRepository struct {
	mu        sync.RWMutex
	overrides map[string]map[string]*model.RoutingOverride
}

func newOverrideRepository() *overrideRepository {
	return &overrideRepository{
		overrides: make(map[string]map[string]*model.RoutingOverride),
	}
}

func copyOverride(o *model.RoutingOverride) *model.RoutingOverride {
	c := *o
	c.EndsAt = copyTimePtr(o.EndsAt)
	c.RemovedAt = copyTimePtr(o.RemovedAt)
	return &c
}

func (r *overrideRepository) Create(ctx context.Context, orgID string, o *model.RoutingOverride) (*model.RoutingOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := copyOverride(o)
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, ok := r.overrides[orgID]; !ok {
		r.overrides[orgID] = make(map[string]*model.RoutingOverride)
	}
	r.overrides[orgID][created.ID] = created
	return copyOverride(created), nil
}

func (r *overrideRepository) Get(ctx context.Context, orgID, overrideID string) (*model.RoutingOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.overrides[orgID][overrideID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "override not found", goerr.V("override_id", overrideID))
	}
	return copyOverride(o), nil
}

func (r *overrideRepository) List(ctx context.Context, orgID string, q interfaces.OverrideQuery) ([]*model.RoutingOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.RoutingOverride{}
	for _, o := range r.overrides[orgID] {
		if q.Matches(o) {
			result = append(result, copyOverride(o))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return model.OverrideBefore(result[i], result[j])
	})
	return result, nil
}

func (r *overrideRepository) Remove(ctx context.Context, orgID, overrideID string, at time.Time) (*model.RoutingOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.overrides[orgID][overrideID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "override not found", goerr.V("override_id", overrideID))
	}
	if o.RemovedAt == nil {
		o.RemovedAt = &at
	}
	return copyOverride(o), nil
}
