package interfaces

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type MessageRepository interface {
	// Create stores msg. A non-empty ProviderMessageSID is unique across the
	// store; a second message with the same SID fails with ErrAlreadyExists.
	Create(ctx context.Context, orgID string, msg *model.Message) (*model.Message, error)
	Get(ctx context.Context, orgID, messageID string) (*model.Message, error)
	// GetBySID looks a message up by provider SID across orgs.
	GetBySID(ctx context.Context, sid string) (*model.Message, error)
	ListByThread(ctx context.Context, orgID, threadID string) ([]*model.Message, error)
	// SetProviderSID records the SID of a message whose first send failed.
	SetProviderSID(ctx context.Context, orgID, messageID, sid string) error
	MarkIgnored(ctx context.Context, orgID, messageID string, at time.Time) error
}

type DeliveryRepository interface {
	// Insert stores a new attempt. AttemptNo must equal the latest stored
	// attempt plus one, checked atomically, else ErrAttemptConflict.
	Insert(ctx context.Context, orgID string, d *model.MessageDelivery) (*model.MessageDelivery, error)
	// Latest returns the authoritative attempt, or ErrNotFound.
	Latest(ctx context.Context, orgID, messageID string) (*model.MessageDelivery, error)
	ListByMessage(ctx context.Context, orgID, messageID string) ([]*model.MessageDelivery, error)
	// GetBySID looks an attempt up by provider SID across orgs.
	GetBySID(ctx context.Context, sid string) (*model.MessageDelivery, error)
	// UpdateStatus applies update atomically when it advances the attempt
	// (see DeliveryStatus.CanAdvanceTo), else ErrStaleStatus. An update with
	// the current status is accepted only to record the SID of an attempt
	// that has none; the SID is indexed for GetBySID.
	UpdateStatus(ctx context.Context, orgID, deliveryID string, update DeliveryStatusUpdate) (*model.MessageDelivery, error)
	// ListPending returns attempts still queued or sent that were created
	// before the given time and carry a provider SID.
	ListPending(ctx context.Context, orgID string, before time.Time, limit int) ([]*model.MessageDelivery, error)
}

type DeliveryStatusUpdate struct {
	Status       types.DeliveryStatus
	ErrorCode    string
	ErrorMessage string
	// ProviderMessageSID fills in the SID of a reserved attempt.
	ProviderMessageSID string
	At                 time.Time
}

// Accepts reports whether update may be applied to d.
func (u DeliveryStatusUpdate) Accepts(d *model.MessageDelivery) bool {
	if d.Status.CanAdvanceTo(u.Status) {
		return true
	}
	return u.Status == d.Status && u.ProviderMessageSID != "" && d.ProviderMessageSID == ""
}
