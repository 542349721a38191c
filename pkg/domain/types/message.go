package types

import "github.com/m-mizutani/goerr/v2"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) IsValid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

func (d Direction) String() string {
	return string(d)
}

func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	if !d.IsValid() {
		return "", goerr.New("invalid direction", goerr.V("value", s))
	}
	return d, nil
}

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderTypeClient     SenderType = "client"
	SenderTypeSitter     SenderType = "sitter"
	SenderTypeOwner      SenderType = "owner"
	SenderTypeSystem     SenderType = "system"
	SenderTypeAutomation SenderType = "automation"
)

func AllSenderTypes() []SenderType {
	return []SenderType{
		SenderTypeClient,
		SenderTypeSitter,
		SenderTypeOwner,
		SenderTypeSystem,
		SenderTypeAutomation,
	}
}

func (s SenderType) IsValid() bool {
	switch s {
	case SenderTypeClient,
		SenderTypeSitter,
		SenderTypeOwner,
		SenderTypeSystem,
		SenderTypeAutomation:
		return true
	default:
		return false
	}
}

func (s SenderType) String() string {
	return string(s)
}

func ParseSenderType(s string) (SenderType, error) {
	st := SenderType(s)
	if !st.IsValid() {
		return "", goerr.New("invalid sender type", goerr.V("value", s))
	}
	return st, nil
}

// DeliveryStatus is the internal delivery state of one send attempt.
type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusQueued,
		DeliveryStatusSent,
		DeliveryStatusDelivered,
		DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// IsPending reports whether the provider may still change the status.
func (s DeliveryStatus) IsPending() bool {
	return s == DeliveryStatusQueued || s == DeliveryStatusSent
}

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryStatusQueued:
		return 1
	case DeliveryStatusSent:
		return 2
	case DeliveryStatusDelivered, DeliveryStatusFailed:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether an attempt in s may move to next. Statuses
// only move forward (queued, sent, then delivered or failed) and terminal
// statuses are final.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	return next.rank() > s.rank()
}

func (s DeliveryStatus) String() string {
	return string(s)
}

// MapProviderStatus converts a provider status string into the internal
// status set. Unknown values map to sent.
func MapProviderStatus(s string) DeliveryStatus {
	switch s {
	case "delivered":
		return DeliveryStatusDelivered
	case "failed", "undelivered":
		return DeliveryStatusFailed
	case "queued", "sending", "accepted", "scheduled":
		return DeliveryStatusQueued
	default:
		return DeliveryStatusSent
	}
}
