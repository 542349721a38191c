package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type violationRepository struct {
	mu         sync.RWMutex
	violations map[string]map[string]*model.PolicyViolation
}

func newViolationRepository() *violationRepository {
	return &violationRepository{
		violations: make(map[string]map[string]*model.PolicyViolation),
	}
}

func copyViolation(v *model.PolicyViolation) *model.PolicyViolation {
	c := *v
	c.ReviewedAt = copyTimePtr(v.ReviewedAt)
	return &c
}

func (r *violationRepository) Create(ctx context.Context, orgID string, v *model.PolicyViolation) (*model.PolicyViolation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := copyViolation(v)
	created.OrgID = orgID
	if created.Status == "" {
		created.Status = types.ReviewStatusOpen
	}
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, ok := r.violations[orgID]; !ok {
		r.violations[orgID] = make(map[string]*model.PolicyViolation)
	}
	r.violations[orgID][created.ID] = created
	return copyViolation(created), nil
}

func (r *violationRepository) Get(ctx context.Context, orgID, violationID string) (*model.PolicyViolation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.violations[orgID][violationID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "policy violation not found", goerr.V("violation_id", violationID))
	}
	return copyViolation(v), nil
}

func (r *violationRepository) List(ctx context.Context, orgID string, q interfaces.ViolationQuery) ([]*model.PolicyViolation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.PolicyViolation{}
	for _, v := range r.violations[orgID] {
		if q.Matches(v) {
			result = append(result, copyViolation(v))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (r *violationRepository) Update(ctx context.Context, orgID string, v *model.PolicyViolation) (*model.PolicyViolation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.violations[orgID][v.ID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "policy violation not found", goerr.V("violation_id", v.ID))
	}

	updated := copyViolation(v)
	updated.OrgID = orgID
	updated.CreatedAt = existing.CreatedAt
	r.violations[orgID][v.ID] = updated
	return copyViolation(updated), nil
}
