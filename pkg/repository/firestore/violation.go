package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type violationRepository struct {
	*base
}

func (r *violationRepository) Create(ctx context.Context, orgID string, v *model.PolicyViolation) (*model.PolicyViolation, error) {
	created := *v
	created.OrgID = orgID
	if created.Status == "" {
		created.Status = types.ReviewStatusOpen
	}
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, err := r.collection(collectionViolations).Doc(created.ID).Create(ctx, &created); err != nil {
		return nil, goerr.Wrap(err, "failed to create policy violation", goerr.V("violation_id", created.ID))
	}
	return &created, nil
}

func (r *violationRepository) Get(ctx context.Context, orgID, violationID string) (*model.PolicyViolation, error) {
	v, err := getDoc[model.PolicyViolation](ctx, r.collection(collectionViolations).Doc(violationID), "policy violation")
	if err != nil {
		return nil, err
	}
	if v.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "policy violation not found", goerr.V("violation_id", violationID))
	}
	return v, nil
}

func (r *violationRepository) List(ctx context.Context, orgID string, q interfaces.ViolationQuery) ([]*model.PolicyViolation, error) {
	fq := r.collection(collectionViolations).Where("OrgID", "==", orgID)
	if q.ThreadID != "" {
		fq = fq.Where("ThreadID", "==", q.ThreadID)
	}
	if q.Status != "" {
		fq = fq.Where("Status", "==", string(q.Status))
	}

	violations, err := collect[model.PolicyViolation](fq.Documents(ctx), "policy violations")
	if err != nil {
		return nil, err
	}

	result := []*model.PolicyViolation{}
	for _, v := range violations {
		if q.Matches(v) {
			result = append(result, v)
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
	ref := r.collection(collectionViolations).Doc(v.ID)
	updated := *v
	updated.OrgID = orgID

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := txGetDoc[model.PolicyViolation](tx, ref, "policy violation")
		if err != nil {
			return err
		}
		if existing.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "policy violation not found", goerr.V("violation_id", v.ID))
		}
		updated.CreatedAt = existing.CreatedAt
		return tx.Set(ref, &updated)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update policy violation", goerr.V("violation_id", v.ID))
	}
	return &updated, nil
}
