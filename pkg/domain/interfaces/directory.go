package interfaces

import (
	"context"
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type NumberRepository interface {
	Create(ctx context.Context, orgID string, n *model.MessageNumber) (*model.MessageNumber, error)
	Get(ctx context.Context, orgID, numberID string) (*model.MessageNumber, error)
	// GetByE164 resolves the owning org of a number. E.164 values are unique
	// across orgs.
	GetByE164(ctx context.Context, e164 string) (*model.MessageNumber, error)
	ListByClass(ctx context.Context, orgID string, class types.NumberClass) ([]*model.MessageNumber, error)
	Touch(ctx context.Context, orgID, numberID string, at time.Time) error
	// ListOrgIDs returns every org that owns at least one number.
	ListOrgIDs(ctx context.Context) ([]string, error)
}

type ContactRepository interface {
	Create(ctx context.Context, orgID string, c *model.ClientContact) (*model.ClientContact, error)
	FindByE164(ctx context.Context, orgID, e164 string) (*model.ClientContact, error)
	// ListByClient returns contacts with the primary contact first.
	ListByClient(ctx context.Context, orgID, clientID string) ([]*model.ClientContact, error)
}

type SitterRepository interface {
	Create(ctx context.Context, orgID string, s *model.Sitter) (*model.Sitter, error)
	Get(ctx context.Context, orgID, sitterID string) (*model.Sitter, error)
	GetByUserID(ctx context.Context, orgID, userID string) (*model.Sitter, error)
}
