package usecase

import (
	"errors"
	"fmt"

	"github.com/snoutos/switchboard/pkg/domain/interfaces"
)

// Sentinel errors for use case layer
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrProvider   = errors.New("provider error")

	// ErrDeadLetter marks a message that exhausted its delivery attempts. It
	// only appears in logs and alerts.
	ErrDeadLetter = errors.New("delivery dead-lettered")

	// ErrPolicyBlocked is returned when a sitter message is blocked by the
	// contact policy. It matches both ErrForbidden and ErrValidation.
	ErrPolicyBlocked = errors.Join(ErrForbidden, ErrValidation)
)

// PolicyBlockedMessage is the only detail a blocked sender is shown.
const PolicyBlockedMessage = "Your message couldn't be sent. Please avoid sharing phone numbers, emails, or external links."

// Context keys for error values
const (
	OrgIDKey      = "org_id"
	ThreadIDKey   = "thread_id"
	MessageIDKey  = "message_id"
	DeliveryIDKey = "delivery_id"
	WindowIDKey   = "window_id"
	OverrideIDKey = "override_id"
	ConflictIDKey = "conflict_id"
	AlertIDKey    = "alert_id"
	ViolationKey  = "violation_id"
	SitterIDKey   = "sitter_id"
	AttemptNoKey  = "attempt_no"
	SIDKey        = "sid"
)

// asNotFound joins a repository not-found or org-mismatch error with
// ErrNotFound so callers can test for either.
func asNotFound(err error) error {
	if errors.Is(err, interfaces.ErrNotFound) || errors.Is(err, interfaces.ErrOrgMismatch) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
