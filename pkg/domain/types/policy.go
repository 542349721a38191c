package types

import "github.com/m-mizutani/goerr/v2"

type ViolationType string

const (
	ViolationTypePhone ViolationType = "phone"
	ViolationTypeEmail ViolationType = "email"
	ViolationTypeURL   ViolationType = "url"
)

func (t ViolationType) IsValid() bool {
	switch t {
	case ViolationTypePhone, ViolationTypeEmail, ViolationTypeURL:
		return true
	default:
		return false
	}
}

func (t ViolationType) String() string {
	return string(t)
}

func ParseViolationType(s string) (ViolationType, error) {
	v := ViolationType(s)
	if !v.IsValid() {
		return "", goerr.New("invalid violation type", goerr.V("value", s))
	}
	return v, nil
}

// ViolationAction records what the pipeline did with a detected violation.
type ViolationAction string

const (
	ViolationActionBlocked    ViolationAction = "blocked"
	ViolationActionWarned     ViolationAction = "warned"
	ViolationActionOverridden ViolationAction = "overridden"
	ViolationActionAllowed    ViolationAction = "allowed"
)

func (a ViolationAction) String() string {
	return string(a)
}

// ReviewStatus is shared by policy violations and alerts: both start open and
// are closed by an operator.
type ReviewStatus string

const (
	ReviewStatusOpen      ReviewStatus = "open"
	ReviewStatusResolved  ReviewStatus = "resolved"
	ReviewStatusDismissed ReviewStatus = "dismissed"
)

func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewStatusOpen, ReviewStatusResolved, ReviewStatusDismissed:
		return true
	default:
		return false
	}
}

func (s ReviewStatus) String() string {
	return string(s)
}

func ParseReviewStatus(s string) (ReviewStatus, error) {
	st := ReviewStatus(s)
	if !st.IsValid() {
		return "", goerr.New("invalid status", goerr.V("value", s))
	}
	return st, nil
}
