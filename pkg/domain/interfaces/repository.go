package interfaces

import "errors"

// Repository is the persistent store. Every accessor returns an org-scoped
// repository; the only lookups without an org are those that establish the
// org of an inbound provider event.
type Repository interface {
	Thread() ThreadRepository
	Message() MessageRepository
	Delivery() DeliveryRepository
	Window() WindowRepository
	Override() OverrideRepository
	Violation() ViolationRepository
	Alert() AlertRepository
	Number() NumberRepository
	Contact() ContactRepository
	Sitter() SitterRepository
	AuditEvent() AuditEventRepository

	Close() error
}

var (
	// ErrNotFound is returned when the requested entity does not exist in the
	// org.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a uniqueness constraint is violated,
	// e.g. a second message with the same provider message SID.
	ErrAlreadyExists = errors.New("already exists")

	// ErrAttemptConflict is returned when a delivery attempt number is not the
	// successor of the latest stored attempt.
	ErrAttemptConflict = errors.New("delivery attempt conflict")

	// ErrOrgMismatch is returned when an entity exists but belongs to another
	// org.
	ErrOrgMismatch = errors.New("org mismatch")

	// ErrStaleStatus is returned when a delivery status update would not move
	// the attempt forward, e.g. a late "sent" report after "delivered".
	ErrStaleStatus = errors.New("stale delivery status")

	// ErrStaleWrite is returned when a conditional write finds that the stored
	// entity changed after it was read.
	ErrStaleWrite = errors.New("entity changed since read")
)
