package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	twilioclient "github.com/twilio/twilio-go/client"
)

// DefaultMockAuthToken signs webhooks accepted by a Mock without an explicit
// token.
const DefaultMockAuthToken = "mock-auth-token"

// SentMessage is a message accepted by a Mock.
type SentMessage struct {
	SID  string
	To   string
	From string
	Body string
}

// Mock is an in-process provider for local runs and tests. It accepts
// messages from registered numbers and can be told to fail.
type Mock struct {
	validator twilioclient.RequestValidator

	mu       sync.Mutex
	numbers  map[string]struct{}
	failures []*model.SendOutcome
	failAll  *model.SendOutcome
	sendErr  error
	sent     []SentMessage
	statuses map[string]types.DeliveryStatus
}

var _ interfaces.Provider = &Mock{}

type MockOption func(*Mock)

// WithMockAuthToken sets the token webhook signatures are checked against.
func WithMockAuthToken(token string) MockOption {
	return func(m *Mock) {
		m.validator = twilioclient.NewRequestValidator(token)
	}
}

// WithNumbers registers from-numbers.
func WithNumbers(e164s ...string) MockOption {
	return func(m *Mock) {
		for _, n := range e164s {
			m.numbers[n] = struct{}{}
		}
	}
}

func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		validator: twilioclient.NewRequestValidator(DefaultMockAuthToken),
		numbers:   make(map[string]struct{}),
		statuses:  make(map[string]types.DeliveryStatus),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterNumber allows e164 as a from-number.
func (m *Mock) RegisterNumber(e164 string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numbers[e164] = struct{}{}
}

// FailNext makes the next send fail with the given code.
func (m *Mock) FailNext(code, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, &model.SendOutcome{ErrorCode: code, ErrorMessage: message})
}

// FailAll makes every send fail until Recover is called.
func (m *Mock) FailAll(code, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = &model.SendOutcome{ErrorCode: code, ErrorMessage: message}
}

// FailTransport makes every send return err instead of an outcome.
func (m *Mock) FailTransport(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Recover clears all injected failures.
func (m *Mock) Recover() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = nil
	m.failAll = nil
	m.sendErr = nil
}

// Sent returns the accepted messages in send order.
func (m *Mock) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// SetStatus sets the status reported for sid.
func (m *Mock) SetStatus(sid string, status types.DeliveryStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[sid] = status
}

func (m *Mock) SendMessage(ctx context.Context, to, from, body string) (*model.SendOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return nil, m.sendErr
	}
	if len(m.failures) > 0 {
		f := m.failures[0]
		m.failures = m.failures[1:]
		return copyOutcome(f), nil
	}
	if m.failAll != nil {
		return copyOutcome(m.failAll), nil
	}

	if !IsE164(to) {
		return &model.SendOutcome{ErrorCode: ErrorCodeInvalidNumber, ErrorMessage: "'To' is not an E.164 number"}, nil
	}
	if _, ok := m.numbers[from]; !ok {
		return &model.SendOutcome{ErrorCode: ErrorCodeUnknownFrom, ErrorMessage: "'From' number is not registered"}, nil
	}

	sid, err := newSID()
	if err != nil {
		return nil, err
	}
	m.sent = append(m.sent, SentMessage{SID: sid, To: to, From: from, Body: body})
	m.statuses[sid] = types.DeliveryStatusQueued

	return &model.SendOutcome{Success: true, MessageSID: sid}, nil
}

func (m *Mock) VerifyWebhook(ctx context.Context, rawBody []byte, signature, url string) (bool, error) {
	return verifySignature(&m.validator, rawBody, signature, url)
}

func (m *Mock) GetDeliveryStatus(ctx context.Context, sid string) (types.DeliveryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[sid]
	if !ok {
		return "", goerr.New("unknown message SID", goerr.V("sid", sid))
	}
	return status, nil
}

func copyOutcome(o *model.SendOutcome) *model.SendOutcome {
	c := *o
	return &c
}

// newSID returns "SM" followed by 32 hex characters.
func newSID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", goerr.Wrap(err, "failed to generate message SID")
	}
	return "SM" + hex.EncodeToString(b[:]), nil
}
