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

type messageRepository struct {
	mu       sync.RWMutex
	messages map[string]*model.Message
	// bySID is the uniqueness index over ProviderMessageSID.
	bySID map[string]string
}

func newMessageRepository() *messageRepository {
	return &messageRepository{
		messages: make(map[string]*model.Message),
		bySID:    make(map[string]string),
	}
}

func copyMessage(m *model.Message) *model.Message {
	c := *m
	c.IgnoredAt = copyTimePtr(m.IgnoredAt)
	return &c
}

func (r *messageRepository) Create(ctx context.Context, orgID string, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ProviderMessageSID != "" {
		if _, exists := r.bySID[msg.ProviderMessageSID]; exists {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "provider message SID already recorded",
				goerr.V("sid", msg.ProviderMessageSID))
		}
	}

	created := copyMessage(msg)
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)

	r.messages[created.ID] = created
	if created.ProviderMessageSID != "" {
		r.bySID[created.ProviderMessageSID] = created.ID
	}
	return copyMessage(created), nil
}

func (r *messageRepository) Get(ctx context.Context, orgID, messageID string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.messages[messageID]
	if !ok || m.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "message not found", goerr.V("message_id", messageID))
	}
	return copyMessage(m), nil
}

func (r *messageRepository) GetBySID(ctx context.Context, sid string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySID[sid]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "message not found", goerr.V("sid", sid))
	}
	return copyMessage(r.messages[id]), nil
}

func (r *messageRepository) ListByThread(ctx context.Context, orgID, threadID string) ([]*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	messages := []*model.Message{}
	for _, m := range r.messages {
		if m.OrgID == orgID && m.ThreadID == threadID {
			messages = append(messages, copyMessage(m))
		}
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
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageID]
	if !ok || m.OrgID != orgID {
		return goerr.Wrap(interfaces.ErrNotFound, "message not found", goerr.V("message_id", messageID))
	}
	if owner, exists := r.bySID[sid]; exists && owner != messageID {
		return goerr.Wrap(interfaces.ErrAlreadyExists, "provider message SID already recorded", goerr.V("sid", sid))
	}

	if m.ProviderMessageSID != "" {
		delete(r.bySID, m.ProviderMessageSID)
	}
	m.ProviderMessageSID = sid
	r.bySID[sid] = messageID
	return nil
}

func (r *messageRepository) MarkIgnored(ctx context.Context, orgID, messageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.messages[messageID]
	if !ok || m.OrgID != orgID {
		return goerr.Wrap(interfaces.ErrNotFound, "message not found", goerr.V("message_id", messageID))
	}
	if m.IgnoredAt == nil {
		m.IgnoredAt = &at
	}
	return nil
}

type deliveryRepository struct {
	mu sync.RWMutex
	// byMessage holds attempts per message ordered by AttemptNo.
	byMessage map[string][]*model.MessageDelivery
	byID      map[string]*model.MessageDelivery
	bySID     map[string]string
}

func newDeliveryRepository() *deliveryRepository {
	return &deliveryRepository{
		byMessage: make(map[string][]*model.MessageDelivery),
		byID:      make(map[string]*model.MessageDelivery),
		bySID:     make(map[string]string),
	}
}

func copyDelivery(d *model.MessageDelivery) *model.MessageDelivery {
	c := *d
	return &c
}

func (r *deliveryRepository) Insert(ctx context.Context, orgID string, d *model.MessageDelivery) (*model.MessageDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts := r.byMessage[d.MessageID]
	expected := len(attempts) + 1
	if d.AttemptNo != expected {
		return nil, goerr.Wrap(interfaces.ErrAttemptConflict, "attempt number is not the next attempt",
			goerr.V("message_id", d.MessageID), goerr.V("attempt_no", d.AttemptNo), goerr.V("expected", expected))
	}
	if d.ProviderMessageSID != "" {
		if _, exists := r.bySID[d.ProviderMessageSID]; exists {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "delivery SID already recorded", goerr.V("sid", d.ProviderMessageSID))
		}
	}

	created := copyDelivery(d)
	created.OrgID = orgID
	assignID(&created.ID)
	stampTime(&created.CreatedAt)
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}

	r.byMessage[d.MessageID] = append(attempts, created)
	r.byID[created.ID] = created
	if created.ProviderMessageSID != "" {
		r.bySID[created.ProviderMessageSID] = created.ID
	}
	return copyDelivery(created), nil
}

func (r *deliveryRepository) Latest(ctx context.Context, orgID, messageID string) (*model.MessageDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := r.byMessage[messageID]
	if len(attempts) == 0 || attempts[0].OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "delivery not found", goerr.V("message_id", messageID))
	}
	return copyDelivery(attempts[len(attempts)-1]), nil
}

func (r *deliveryRepository) ListByMessage(ctx context.Context, orgID, messageID string) ([]*model.MessageDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.MessageDelivery{}
	for _, d := range r.byMessage[messageID] {
		if d.OrgID == orgID {
			result = append(result, copyDelivery(d))
		}
	}
	return result, nil
}

func (r *deliveryRepository) GetBySID(ctx context.Context, sid string) (*model.MessageDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySID[sid]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "delivery not found", goerr.V("sid", sid))
	}
	return copyDelivery(r.byID[id]), nil
}

func (r *deliveryRepository) UpdateStatus(ctx context.Context, orgID, deliveryID string, update interfaces.DeliveryStatusUpdate) (*model.MessageDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[deliveryID]
	if !ok || d.OrgID != orgID {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "delivery not found", goerr.V("delivery_id", deliveryID))
	}
	if !update.Accepts(d) {
		return nil, goerr.Wrap(interfaces.ErrStaleStatus, "delivery status does not advance",
			goerr.V("delivery_id", deliveryID), goerr.V("status", d.Status), goerr.V("update", update.Status))
	}
	if update.ProviderMessageSID != "" && d.ProviderMessageSID == "" {
		if _, exists := r.bySID[update.ProviderMessageSID]; exists {
			return nil, goerr.Wrap(interfaces.ErrAlreadyExists, "delivery SID already recorded", goerr.V("sid", update.ProviderMessageSID))
		}
		d.ProviderMessageSID = update.ProviderMessageSID
		r.bySID[update.ProviderMessageSID] = d.ID
	}

	d.Status = update.Status
	if update.ErrorCode != "" {
		d.ProviderErrorCode = update.ErrorCode
	}
	if update.ErrorMessage != "" {
		d.ProviderErrorMessage = update.ErrorMessage
	}
	d.UpdatedAt = update.At
	return copyDelivery(d), nil
}

func (r *deliveryRepository) ListPending(ctx context.Context, orgID string, before time.Time, limit int) ([]*model.MessageDelivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []*model.MessageDelivery{}
	for _, d := range r.byID {
		if d.OrgID != orgID || d.ProviderMessageSID == "" || !d.Status.IsPending() {
			continue
		}
		if !d.CreatedAt.Before(before) {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
