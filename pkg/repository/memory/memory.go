package memory

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
)

// Memory is a process-local Repository used in development and tests.
type Memory struct {
	thread    *threadRepository
	message   *messageRepository
	delivery  *deliveryRepository
	window    *windowRepository
	override  *overrideRepository
	violation *violationRepository
	alert     *alertRepository
	number    *numberRepository
	contact   *contactRepository
	sitter    *sitterRepository
	audit     *auditEventRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		thread:    newThreadRepository(),
		message:   newMessageRepository(),
		delivery:  newDeliveryRepository(),
		window:    newWindowRepository(),
		override:  newOverrideRepository(),
		violation: newViolationRepository(),
		alert:     newAlertRepository(),
		number:    newNumberRepository(),
		contact:   newContactRepository(),
		sitter:    newSitterRepository(),
		audit:     newAuditEventRepository(),
	}
}

func (m *Memory) Thread() interfaces.ThreadRepository {
	return m.thread
}

func (m *Memory) Message() interfaces.MessageRepository {
	return m.message
}

func (m *Memory) Delivery() interfaces.DeliveryRepository {
	return m.delivery
}

func (m *Memory) Window() interfaces.WindowRepository {
	return m.window
}

func (m *Memory) Override() interfaces.OverrideRepository {
	return m.override
}

func (m *Memory) Violation() interfaces.ViolationRepository {
	return m.violation
}

func (m *Memory) Alert() interfaces.AlertRepository {
	return m.alert
}

func (m *Memory) Number() interfaces.NumberRepository {
	return m.number
}

func (m *Memory) Contact() interfaces.ContactRepository {
	return m.contact
}

func (m *Memory) Sitter() interfaces.SitterRepository {
	return m.sitter
}

func (m *Memory) AuditEvent() interfaces.AuditEventRepository {
	return m.audit
}

func (m *Memory) Close() error {
	return nil
}

func assignID(id *string) {
	if *id == "" {
		*id = model.NewID()
	}
}

func stampTime(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
