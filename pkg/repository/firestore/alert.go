package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type alertRepository struct {
	*base
}

// alertKey points at the open alert for a dedup key. It exists only while the
// alert is open.
type alertKey struct {
	AlertID string
	OrgID   string
}

func alertKeyID(k model.AlertDedupKey) string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

func (r *alertRepository) Upsert(ctx context.Context, orgID string, alert *model.Alert, now time.Time) (*model.Alert, bool, error) {
	candidate := *alert
	candidate.OrgID = orgID
	keyRef := r.collection(collectionAlertKeys).Doc(alertKeyID(candidate.DedupKey()))

	var result *model.Alert
	var created bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result, created = nil, false

		key, err := txGetDoc[alertKey](tx, keyRef, "alert key")
		if err == nil {
			alertRef := r.collection(collectionAlerts).Doc(key.AlertID)
			existing, err := txGetDoc[model.Alert](tx, alertRef, "alert")
			if err != nil {
				return err
			}
			existing.Severity = candidate.Severity
			existing.Title = candidate.Title
			existing.Description = candidate.Description
			existing.UpdatedAt = now
			result = existing
			return tx.Set(alertRef, existing)
		}
		if !isNotFoundErr(err) {
			return err
		}

		fresh := candidate
		fresh.ID = ""
		assignID(&fresh.ID)
		fresh.Status = types.ReviewStatusOpen
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		if err := tx.Create(r.collection(collectionAlerts).Doc(fresh.ID), &fresh); err != nil {
			return err
		}
		if err := tx.Set(keyRef, &alertKey{AlertID: fresh.ID, OrgID: orgID}); err != nil {
			return err
		}
		result, created = &fresh, true
		return nil
	})
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to upsert alert", goerr.V("type", alert.Type))
	}
	return result, created, nil
}

func (r *alertRepository) Get(ctx context.Context, orgID, alertID string) (*model.Alert, error) {
	a, err := getDoc[model.Alert](ctx, r.collection(collectionAlerts).Doc(alertID), "alert")
	if err != nil {
		return nil, err
	}
	if a.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "alert not found", goerr.V("alert_id", alertID))
	}
	return a, nil
}

func (r *alertRepository) List(ctx context.Context, orgID string, q interfaces.AlertQuery) ([]*model.Alert, error) {
	fq := r.collection(collectionAlerts).Where("OrgID", "==", orgID)
	if q.Status != "" {
		fq = fq.Where("Status", "==", string(q.Status))
	}

	alerts, err := collect[model.Alert](fq.Documents(ctx), "alerts")
	if err != nil {
		return nil, err
	}

	result := []*model.Alert{}
	for _, a := range alerts {
		if q.Matches(a) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (r *alertRepository) Update(ctx context.Context, orgID string, alert *model.Alert) (*model.Alert, error) {
	ref := r.collection(collectionAlerts).Doc(alert.ID)
	updated := *alert
	updated.OrgID = orgID

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := txGetDoc[model.Alert](tx, ref, "alert")
		if err != nil {
			return err
		}
		if existing.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "alert not found", goerr.V("alert_id", alert.ID))
		}

		keyRef := r.collection(collectionAlertKeys).Doc(alertKeyID(existing.DedupKey()))
		var key *alertKey
		if updated.Status != types.ReviewStatusOpen {
			key, err = txGetDoc[alertKey](tx, keyRef, "alert key")
			if err != nil && !isNotFoundErr(err) {
				return err
			}
		}

		updated.CreatedAt = existing.CreatedAt
		if err := tx.Set(ref, &updated); err != nil {
			return err
		}
		if key != nil && key.AlertID == updated.ID {
			return tx.Delete(keyRef)
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to update alert", goerr.V("alert_id", alert.ID))
	}
	return &updated, nil
}
