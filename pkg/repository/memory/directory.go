package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type numberRepository struct {
	mu      sync.RWMutex
	numbers map[string]*model.MessageNumber
	byE164  map[string]string
}

func newNumberRepository() *numberRepository {
	return &numberRepository{
		numbers: make(map[string]*model.MessageNumber),
		byE164:  make(map[string]string),
	}
}

func copyNumber(n *model.MessageNumber) *model.MessageNumber {
	c := *n
	c.LastUsedAt = copyTimePtr(n.LastUsedAt)
	return &c
}

func (r *numberRepository) Create(ctx context.Context, orgID string, n *model.MessageNumber) (*model.MessageNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byE164[n.E164]; exists {
		return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "number already registered", goerr.V("e164", n.E164))
	}

	created := copyNumber(n)
	created.OrgID = orgID
	if created.Status == "" {
		created.Status = types.NumberStatusActive
	}
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	r.numbers[created.ID] = created
	r.byE164[created.E164] = created.ID
	return copyNumber(created), nil
}

func (r *numberRepository) Get(ctx context.Context, orgID, numberID string) (*model.MessageNumber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.numbers[numberID]
	if !ok || n.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "number not found", goerr.V("number_id", numberID))
	}
	return copyNumber(n), nil
}

func (r *numberRepository) GetByE164(ctx context.Context, e164 string) (*model.MessageNumber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byE164[e164]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "number not found")
	}
	return copyNumber(r.numbers[id]), nil
}

func (r *numberRepository) ListByClass(ctx context.Context, orgID string, class types.NumberClass) ([]*model.MessageNumber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.MessageNumber{}
	for _, n := range r.numbers {
		if n.OrgID == orgID && n.Class == class {
			result = append(result, copyNumber(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *numberRepository) Touch(ctx context.Context, orgID, numberID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.numbers[numberID]
	if !ok || n.OrgID != orgID {
		return goerr.Wrap(interfaces.ErrNotFound, "number not found", goerr.V("number_id", numberID))
	}
	n.LastUsedAt = &at
	return nil
}

func (r *numberRepository) ListOrgIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	orgIDs := []string{}
	for _, n := range r.numbers {
		if _, ok := seen[n.OrgID]; ok {
			continue
		}
		seen[n.OrgID] = struct{}{}
		orgIDs = append(orgIDs, n.OrgID)
	}
	sort.Strings(orgIDs)
	return orgIDs, nil
}

type contactRepository struct {
	mu       sync.RWMutex
	contacts map[string]map[string]*model.ClientContact
}

func newContactRepository() *contactRepository {
	return &contactRepository{
		contacts: make(map[string]map[string]*model.ClientContact),
	}
}

func copyContact(c *model.ClientContact) *model.ClientContact {
	v := *c
	return &v
}

func (r *contactRepository) Create(ctx context.Context, orgID string, c *model.ClientContact) (*model.ClientContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := copyContact(c)
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, ok := r.contacts[orgID]; !ok {
		r.contacts[orgID] = make(map[string]*model.ClientContact)
	}
	r.contacts[orgID][created.ID] = created
	return copyContact(created), nil
}

func (r *contactRepository) FindByE164(ctx context.Context, orgID, e164 string) (*model.ClientContact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *model.ClientContact
	for _, c := range r.contacts[orgID] {
		if c.E164 != e164 {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "contact not found")
	}
	return copyContact(found), nil
}

func (r *contactRepository) ListByClient(ctx context.Context, orgID, clientID string) ([]*model.ClientContact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.ClientContact{}
	for _, c := range r.contacts[orgID] {
		if c.ClientID == clientID {
			result = append(result, copyContact(c))
		}
	}
	sortContacts(result)
	return result, nil
}

// sortContacts puts the primary contact first, then orders by creation.
func sortContacts(contacts []*model.ClientContact) {
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].IsPrimary != contacts[j].IsPrimary {
			return contacts[i].IsPrimary
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
}

type sitterRepository struct {
	mu      sync.RWMutex
	sitters map[string]map[string]*model.Sitter
}

func newSitterRepository() *sitterRepository {
	return &sitterRepository{
		sitters: make(map[string]map[string]*model.Sitter),
	}
}

func (r *sitterRepository) Create(ctx context.Context, orgID string, s *model.Sitter) (*model.Sitter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := *s
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	if _, ok := r.sitters[orgID]; !ok {
		r.sitters[orgID] = make(map[string]*model.Sitter)
	}
	r.sitters[orgID][created.ID] = &created
	result := created
	return &result, nil
}

func (r *sitterRepository) Get(ctx context.Context, orgID, sitterID string) (*model.Sitter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sitters[orgID][sitterID]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "sitter not found", goerr.V("sitter_id", sitterID))
	}
	result := *s
	return &result, nil
}

func (r *sitterRepository) GetByUserID(ctx context.Context, orgID, userID string) (*model.Sitter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sitters[orgID] {
		if s.UserID == userID {
			result := *s
			return &result, nil
		}
	}
	return nil, goerr.Wrap(interfaces.ErrNotFound, "sitter not found", goerr.V("user_id", userID))
}
