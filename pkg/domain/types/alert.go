package types

import "github.com/m-mizutani/goerr/v2"

type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityInfo     AlertSeverity = "info"
)

func (s AlertSeverity) IsValid() bool {
	switch s {
	case AlertSeverityCritical, AlertSeverityWarning, AlertSeverityInfo:
		return true
	default:
		return false
	}
}

func (s AlertSeverity) String() string {
	return string(s)
}

func ParseAlertSeverity(s string) (AlertSeverity, error) {
	sev := AlertSeverity(s)
	if !sev.IsValid() {
		return "", goerr.New("invalid alert severity", goerr.V("value", s))
	}
	return sev, nil
}

// ActorType identifies who caused an audit event.
type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeOwner    ActorType = "owner"
	ActorTypeSitter   ActorType = "sitter"
	ActorTypeClient   ActorType = "client"
	ActorTypeProvider ActorType = "provider"
)

func (a ActorType) String() string {
	return string(a)
}
