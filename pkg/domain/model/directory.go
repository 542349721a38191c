package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

// MessageNumber is a business-owned phone number (the masked number a client
// sees).
type MessageNumber struct {
	ID         string
	OrgID      string
	E164       string
	Class      types.NumberClass
	Status     types.NumberStatus
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

type ClientContact struct {
	ID        string
	OrgID     string
	ClientID  string
	E164      string
	IsPrimary bool
	CreatedAt time.Time
}

// Sitter maps an authenticated user to the worker identity used by
// assignment windows and routing decisions.
type Sitter struct {
	ID        string
	OrgID     string
	UserID    string
	Name      string
	CreatedAt time.Time
}
