package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

// Thread is a conversation between one external client and the business on
// exactly one business number. NumberID is fixed at creation.
type Thread struct {
	ID               string
	OrgID            string
	ClientID         string
	NumberID         string
	SitterID         string
	ThreadType       types.ThreadType
	Status           types.ThreadStatus
	LastActivityAt   time.Time
	OwnerUnreadCount int
	CreatedAt        time.Time
}

// IsActive reports whether the thread accepts new traffic.
func (t *Thread) IsActive() bool {
	return t.Status.Normalize() == types.ThreadStatusActive
}

// ThreadQuery locates the thread for a conversation key. ClientID stands in
// for the external party: a contact lookup maps the E.164 to its client
// before the query is built.
type ThreadQuery struct {
	NumberID   string
	ClientID   string
	ThreadType types.ThreadType
}

// Resolution is the outcome of mapping an inbound message to a thread.
// Exactly one of Thread or Unmapped is set.
type Resolution struct {
	Thread   *Thread
	Unmapped bool
	Reason   string
}
