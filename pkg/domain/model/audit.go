package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

const AuditSchemaVersion = 1

// Audit event types.
const (
	EventRoutingEvaluated        = "routing.evaluated"
	EventOverrideCreated         = "routing.override.created"
	EventOverrideRemoved         = "routing.override.removed"
	EventUnmappedPool            = "routing.unmapped_pool"
	EventWindowCreated           = "assignment.window.created"
	EventWindowUpdated           = "assignment.window.updated"
	EventWindowDeleted           = "assignment.window.deleted"
	EventConflictResolved        = "assignment.conflict.resolved"
	EventSignatureInvalid        = "webhook.inbound.signature_invalid"
	EventUnknownNumber           = "webhook.inbound.unknown_number"
	EventDuplicateRejected       = "webhook.inbound.duplicate_rejected"
	EventInboundReceived         = "message.inbound.received"
	EventDeliveryStatusUpdated   = "message.delivery.status_updated"
	EventOutboundSent            = "message.outbound.sent"
	EventOutboundSendFailed      = "message.outbound.send_failed"
	EventOutboundBlocked         = "message.outbound.blocked"
	EventOutboundRetry           = "message.outbound.retry"
	EventOutboundRetryAttempted  = "message.outbound.retry_attempted"
	EventOutboundDeadLetter      = "message.outbound.dead_letter"
	EventOutboundIgnored         = "message.outbound.ignored"
	EventAlertCreated            = "alert.created"
	EventAlertUpdated            = "alert.updated"
	EventAlertResolved           = "alert.resolved"
	EventAlertDismissed          = "alert.dismissed"
	EventEscalationTriggered     = "escalation.triggered"
	EventPolicyViolationResolved = "policy.violation.resolved"
	EventPolicyViolationDismiss  = "policy.violation.dismissed"
)

// AuditEvent is an append-only record. No operation updates or deletes it.
type AuditEvent struct {
	ID             string
	OrgID          string
	ActorType      types.ActorType
	ActorID        string
	EntityType     string
	EntityID       string
	EventType      string
	CorrelationIDs map[string]string
	Payload        map[string]any
	SchemaVersion  int
	Timestamp      time.Time
}

// Audit entity types.
const (
	EntityThread          = "thread"
	EntityMessage         = "message"
	EntityDelivery        = "message_delivery"
	EntityWindow          = "assignment_window"
	EntityOverride        = "routing_override"
	EntityAlert           = "alert"
	EntityPolicyViolation = "policy_violation"
	EntityNumber          = "message_number"
)
