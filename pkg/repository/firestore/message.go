package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// sidIndex is the uniqueness document for a provider SID. Its document ID is
// the SID itself, so Create fails when the SID is already taken.
type sidIndex struct {
	OrgID     string
	TargetID  string
	CreatedAt time.Time
}

type messageRepository struct {
	*base
}

func (r *messageRepository) Create(ctx context.Context, orgID string, msg *model.Message) (*model.Message, error) {
	created := *msg
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	msgRef := r.collection(collectionMessages).Doc(created.ID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if created.ProviderMessageSID != "" {
			sidRef := r.collection(collectionMessageSIDs).Doc(created.ProviderMessageSID)
			if err := tx.Create(sidRef, &sidIndex{OrgID: orgID, TargetID: created.ID, CreatedAt: created.CreatedAt}); err != nil {
				return err
			}
		}
		return tx.Create(msgRef, &created)
	}, firestore.MaxAttempts(1))
	if err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "provider message SID already recorded",
				goerr.V("sid", created.ProviderMessageSID))
		}
		return nil, goerr.Wrap(err, "failed to create message", goerr.V("message_id", created.ID))
	}
	return &created, nil
}

func (r *messageRepository) Get(ctx context.Context, orgID, messageID string) (*model.Message, error) {
	m, err := getDoc[model.Message](ctx, r.collection(collectionMessages).Doc(messageID), "message")
	if err != nil {
		return nil, err
	}
	if m.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "message not found", goerr.V("message_id", messageID))
	}
	return m, nil
}

func (r *messageRepository) GetBySID(ctx context.Context, sid string) (*model.Message, error) {
	idx, err := getDoc[sidIndex](ctx, r.collection(collectionMessageSIDs).Doc(sid), "message SID")
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, idx.OrgID, idx.TargetID)
}

func (r *messageRepository) ListByThread(ctx context.Context, orgID, threadID string) ([]*model.Message, error) {
	iter := r.collection(collectionMessages).
		Where("OrgID", "==", orgID).
		Where("ThreadID", "==", threadID).
		Documents(ctx)
	messages, err := collect[model.Message](iter, "messages")
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

func (r *messageRepository) SetProviderSID(ctx context.Context, orgID, messageID, sid string) error {
	msgRef := r.collection(collectionMessages).Doc(messageID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		m, err := txGetDoc[model.Message](tx, msgRef, "message")
		if err != nil {
			return err
		}
		if m.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "message not found", goerr.V("message_id", messageID))
		}
		if m.ProviderMessageSID == sid {
			return nil
		}

		if err := tx.Create(r.collection(collectionMessageSIDs).Doc(sid), &sidIndex{OrgID: orgID, TargetID: messageID, CreatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		if m.ProviderMessageSID != "" {
			if err := tx.Delete(r.collection(collectionMessageSIDs).Doc(m.ProviderMessageSID)); err != nil {
				return err
			}
		}
		return tx.Update(msgRef, []firestore.Update{{Path: "ProviderMessageSID", Value: sid}})
	}, firestore.MaxAttempts(1))
	if err != nil {
		if isAlreadyExists(err) {
			return goerr.Wrap(interfaces.ErrAlreadyExists, "provider message SID already recorded", goerr.V("sid", sid))
		}
		return goerr.Wrap(err, "failed to set provider SID", goerr.V("message_id", messageID))
	}
	return nil
}

func (r *messageRepository) MarkIgnored(ctx context.Context, orgID, messageID string, at time.Time) error {
	msgRef := r.collection(collectionMessages).Doc(messageID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		m, err := txGetDoc[model.Message](tx, msgRef, "message")
		if err != nil {
			return err
		}
		if m.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "message not found", goerr.V("message_id", messageID))
		}
		if m.IgnoredAt != nil {
			return nil
		}
		return tx.Update(msgRef, []firestore.Update{{Path: "IgnoredAt", Value: at}})
	})
	if err != nil {
		return goerr.Wrap(err, "failed to mark message ignored", goerr.V("message_id", messageID))
	}
	return nil
}

type deliveryRepository struct {
	*base
}

// attemptCounter is the per-message serialization point for attempt numbers.
type attemptCounter struct {
	Latest    int
	LatestID  string
	OrgID     string
	UpdatedAt time.Time
}

func deliveryDocID(messageID string, attemptNo int) string {
	return fmt.Sprintf("%s_%d", messageID, attemptNo)
}

func (r *deliveryRepository) Insert(ctx context.Context, orgID string, d *model.MessageDelivery) (*model.MessageDelivery, error) {
	created := *d
	created.OrgID = orgID
	created.ID = deliveryDocID(d.MessageID, d.AttemptNo)
	stampTime(&created.CreatedAt)
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}

	counterRef := r.collection(collectionAttemptCounter).Doc(d.MessageID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		latest := 0
		counter, err := txGetDoc[attemptCounter](tx, counterRef, "attempt counter")
		switch {
		case err == nil:
			latest = counter.Latest
		case !isNotFoundErr(err):
			return err
		}

		if created.AttemptNo != latest+1 {
			return goerr.Wrap(interfaces.ErrAttemptConflict, "attempt number is not the next attempt",
				goerr.V("attempt_no", created.AttemptNo), goerr.V("expected", latest+1))
		}

		var sidRef *firestore.DocumentRef
		if created.ProviderMessageSID != "" {
			sidRef = r.collection(collectionDeliverySIDs).Doc(created.ProviderMessageSID)
			if _, err := tx.Get(sidRef); err == nil {
				return goerr.Wrap(interfaces.ErrAlreadyExists, "delivery SID already recorded",
					goerr.V("sid", created.ProviderMessageSID))
			} else if !isNotFound(err) {
				return err
			}
		}

		if sidRef != nil {
			if err := tx.Create(sidRef, &sidIndex{OrgID: orgID, TargetID: created.ID, CreatedAt: created.CreatedAt}); err != nil {
				return err
			}
		}
		if err := tx.Create(r.collection(collectionDeliveries).Doc(created.ID), &created); err != nil {
			return err
		}
		return tx.Set(counterRef, &attemptCounter{
			Latest:    created.AttemptNo,
			LatestID:  created.ID,
			OrgID:     orgID,
			UpdatedAt: created.CreatedAt,
		})
	})
	if err != nil {
		if errors.Is(err, interfaces.ErrAttemptConflict) || errors.Is(err, interfaces.ErrAlreadyExists) {
			return nil, goerr.Wrap(err, "failed to insert delivery", goerr.V("message_id", d.MessageID))
		}
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(interfaces.ErrAttemptConflict, "delivery attempt already recorded",
				goerr.V("message_id", d.MessageID), goerr.V("attempt_no", d.AttemptNo))
		}
		return nil, goerr.Wrap(err, "failed to insert delivery", goerr.V("message_id", d.MessageID))
	}
	return &created, nil
}

func (r *deliveryRepository) Latest(ctx context.Context, orgID, messageID string) (*model.MessageDelivery, error) {
	counter, err := getDoc[attemptCounter](ctx, r.collection(collectionAttemptCounter).Doc(messageID), "delivery")
	if err != nil {
		return nil, err
	}
	if counter.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "delivery not found", goerr.V("message_id", messageID))
	}
	return getDoc[model.MessageDelivery](ctx, r.collection(collectionDeliveries).Doc(counter.LatestID), "delivery")
}

func (r *deliveryRepository) ListByMessage(ctx context.Context, orgID, messageID string) ([]*model.MessageDelivery, error) {
	iter := r.collection(collectionDeliveries).
		Where("OrgID", "==", orgID).
		Where("MessageID", "==", messageID).
		Documents(ctx)
	deliveries, err := collect[model.MessageDelivery](iter, "deliveries")
	if err != nil {
		return nil, err
	}
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].AttemptNo < deliveries[j].AttemptNo
	})
	return deliveries, nil
}

func (r *deliveryRepository) GetBySID(ctx context.Context, sid string) (*model.MessageDelivery, error) {
	idx, err := getDoc[sidIndex](ctx, r.collection(collectionDeliverySIDs).Doc(sid), "delivery SID")
	if err != nil {
		return nil, err
	}
	return getDoc[model.MessageDelivery](ctx, r.collection(collectionDeliveries).Doc(idx.TargetID), "delivery")
}

func (r *deliveryRepository) UpdateStatus(ctx context.Context, orgID, deliveryID string, update interfaces.DeliveryStatusUpdate) (*model.MessageDelivery, error) {
	ref := r.collection(collectionDeliveries).Doc(deliveryID)

	var result *model.MessageDelivery
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		d, err := txGetDoc[model.MessageDelivery](tx, ref, "delivery")
		if err != nil {
			return err
		}
		if d.OrgID != orgID {
			return goerr.Wrap(interfaces.ErrNotFound, "delivery not found", goerr.V("delivery_id", deliveryID))
		}
		if !update.Accepts(d) {
			return goerr.Wrap(interfaces.ErrStaleStatus, "delivery status does not advance",
				goerr.V("delivery_id", deliveryID), goerr.V("status", d.Status), goerr.V("update", update.Status))
		}
		if update.ProviderMessageSID != "" && d.ProviderMessageSID == "" {
			sidRef := r.collection(collectionDeliverySIDs).Doc(update.ProviderMessageSID)
			if err := tx.Create(sidRef, &sidIndex{OrgID: orgID, TargetID: d.ID, CreatedAt: update.At}); err != nil {
				return err
			}
			d.ProviderMessageSID = update.ProviderMessageSID
		}

		d.Status = update.Status
		if update.ErrorCode != "" {
			d.ProviderErrorCode = update.ErrorCode
		}
		if update.ErrorMessage != "" {
			d.ProviderErrorMessage = update.ErrorMessage
		}
		d.UpdatedAt = update.At
		result = d
		return tx.Set(ref, d)
	})
	if err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "delivery SID already recorded",
				goerr.V("delivery_id", deliveryID), goerr.V("sid", update.ProviderMessageSID))
		}
		return nil, goerr.Wrap(err, "failed to update delivery status", goerr.V("delivery_id", deliveryID))
	}
	return result, nil
}

func (r *deliveryRepository) ListPending(ctx context.Context, orgID string, before time.Time, limit int) ([]*model.MessageDelivery, error) {
	q := r.collection(collectionDeliveries).
		Where("OrgID", "==", orgID).
		Where("Status", "in", []string{string(types.DeliveryStatusQueued), string(types.DeliveryStatusSent)}).
		Where("CreatedAt", "<", before).
		OrderBy("CreatedAt", firestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	deliveries, err := collect[model.MessageDelivery](q.Documents(ctx), "deliveries")
	if err != nil {
		return nil, err
	}

	result := deliveries[:0]
	for _, d := range deliveries {
		if d.ProviderMessageSID != "" {
			result = append(result, d)
		}
	}
	return result, nil
}
