package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type numberRepository struct {
	*base
}

func (r *numberRepository) Create(ctx context.Context, orgID string, n *model.MessageNumber) (*model.MessageNumber, error) {
	created := *n
	created.OrgID = orgID
	if created.Status == "" {
		created.Status = types.NumberStatusActive
	}
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		idx := &sidIndex{OrgID: orgID, TargetID: created.ID, CreatedAt: created.CreatedAt}
		if err := tx.Create(r.collection(collectionNumberE164).Doc(created.E164), idx); err != nil {
			return err
		}
		return tx.Create(r.collection(collectionNumbers).Doc(created.ID), &created)
	}, firestore.MaxAttempts(1))
	if err != nil {
		if isAlreadyExists(err) {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "number already registered", goerr.V("e164", n.E164))
		}
		return nil, goerr.Wrap(err, "failed to create number", goerr.V("number_id", created.ID))
	}
	return &created, nil
}

func (r *numberRepository) Get(ctx context.Context, orgID, numberID string) (*model.MessageNumber, error) {
	n, err := getDoc[model.MessageNumber](ctx, r.collection(collectionNumbers).Doc(numberID), "number")
	if err != nil {
		return nil, err
	}
	if n.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "number not found", goerr.V("number_id", numberID))
	}
	return n, nil
}

func (r *numberRepository) GetByE164(ctx context.Context, e164 string) (*model.MessageNumber, error) {
	idx, err := getDoc[sidIndex](ctx, r.collection(collectionNumberE164).Doc(e164), "number")
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, idx.OrgID, idx.TargetID)
}

func (r *numberRepository) ListByClass(ctx context.Context, orgID string, class types.NumberClass) ([]*model.MessageNumber, error) {
	iter := r.collection(collectionNumbers).
		Where("OrgID", "==", orgID).
		Where("Class", "==", string(class)).
		Documents(ctx)
	numbers, err := collect[model.MessageNumber](iter, "numbers")
	if err != nil {
		return nil, err
	}
	sort.Slice(numbers, func(i, j int) bool {
		if !numbers[i].CreatedAt.Equal(numbers[j].CreatedAt) {
			return numbers[i].CreatedAt.Before(numbers[j].CreatedAt)
		}
		return numbers[i].ID < numbers[j].ID
	})
	return numbers, nil
}

func (r *numberRepository) Touch(ctx context.Context, orgID, numberID string, at time.Time) error {
	if _, err := r.Get(ctx, orgID, numberID); err != nil {
		return err
	}
	ref := r.collection(collectionNumbers).Doc(numberID)
	if _, err := ref.Update(ctx, []firestore.Update{{Path: "LastUsedAt", Value: at}}); err != nil {
		return goerr.Wrap(err, "failed to touch number", goerr.V("number_id", numberID))
	}
	return nil
}

func (r *numberRepository) ListOrgIDs(ctx context.Context) ([]string, error) {
	iter := r.collection(collectionNumberE164).Documents(ctx)
	indexes, err := collect[sidIndex](iter, "number index")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	orgIDs := []string{}
	for _, idx := range indexes {
		if _, ok := seen[idx.OrgID]; ok {
			continue
		}
		seen[idx.OrgID] = struct{}{}
		orgIDs = append(orgIDs, idx.OrgID)
	}
	sort.Strings(orgIDs)
	return orgIDs, nil
}

type contactRepository struct {
	*base
}

func (r *contactRepository) Create(ctx context.Context, orgID string, c *model.ClientContact) (*model.ClientContact, error) {
	created := *c
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, err := r.collection(collectionContacts).Doc(created.ID).Create(ctx, &created); err != nil {
		return nil, goerr.Wrap(err, "failed to create contact", goerr.V("contact_id", created.ID))
	}
	return &created, nil
}

func (r *contactRepository) FindByE164(ctx context.Context, orgID, e164 string) (*model.ClientContact, error) {
	iter := r.collection(collectionContacts).
		Where("OrgID", "==", orgID).
		Where("E164", "==", e164).
		Documents(ctx)
	contacts, err := collect[model.ClientContact](iter, "contacts")
	if err != nil {
		return nil, err
	}

	var found *model.ClientContact
	for _, c := range contacts {
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "contact not found")
	}
	return found, nil
}

func (r *contactRepository) ListByClient(ctx context.Context, orgID, clientID string) ([]*model.ClientContact, error) {
	iter := r.collection(collectionContacts).
		Where("OrgID", "==", orgID).
		Where("ClientID", "==", clientID).
		Documents(ctx)
	contacts, err := collect[model.ClientContact](iter, "contacts")
	if err != nil {
		return nil, err
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].IsPrimary != contacts[j].IsPrimary {
			return contacts[i].IsPrimary
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
	return contacts, nil
}

type sitterRepository struct {
	*base
}

func (r *sitterRepository) Create(ctx context.Context, orgID string, s *model.Sitter) (*model.Sitter, error) {
	created := *s
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, err := r.collection(collectionSitters).Doc(created.ID).Create(ctx, &created); err != nil {
		return nil, goerr.Wrap(err, "failed to create sitter", goerr.V("sitter_id", created.ID))
	}
	return &created, nil
}

func (r *sitterRepository) Get(ctx context.Context, orgID, sitterID string) (*model.Sitter, error) {
	s, err := getDoc[model.Sitter](ctx, r.collection(collectionSitters).Doc(sitterID), "sitter")
	if err != nil {
		return nil, err
	}
	if s.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "sitter not found", goerr.V("sitter_id", sitterID))
	}
	return s, nil
}

func (r *sitterRepository) GetByUserID(ctx context.Context, orgID, userID string) (*model.Sitter, error) {
	iter := r.collection(collectionSitters).
		Where("OrgID", "==", orgID).
		Where("UserID", "==", userID).
		Limit(1).
		Documents(ctx)
	sitters, err := collect[model.Sitter](iter, "sitters")
	if err != nil {
		return nil, err
	}
	if len(sitters) == 0 {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "sitter not found", goerr.V("user_id", userID))
	}
	return sitters[0], nil
}
