package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names. Every collection is top-level and every document carries
// an OrgID field that queries filter on.
const (
	collectionThreads        = "threads"
	collectionThreadKeys     = "thread_keys"
	collectionMessages       = "messages"
	collectionMessageSIDs    = "message_sids"
	collectionDeliveries     = "deliveries"
	collectionDeliverySIDs   = "delivery_sids"
	collectionAttemptCounter = "delivery_counters"
	collectionWindows        = "assignment_windows"
	collectionOverrides      = "routing_overrides"
	collectionViolations     = "policy_violations"
	collectionAlerts         = "alerts"
	collectionAlertKeys      = "alert_keys"
	collectionNumbers        = "numbers"
	collectionNumberE164     = "number_e164"
	collectionContacts       = "client_contacts"
	collectionSitters        = "sitters"
	collectionAuditEvents    = "audit_events"
)

// Collections lists every collection this package writes, without prefix.
func Collections() []string {
	return []string{
		collectionThreads, collectionThreadKeys,
		collectionMessages, collectionMessageSIDs,
		collectionDeliveries, collectionDeliverySIDs, collectionAttemptCounter,
		collectionWindows, collectionOverrides, collectionViolations,
		collectionAlerts, collectionAlertKeys,
		collectionNumbers, collectionNumberE164, collectionContacts, collectionSitters,
		collectionAuditEvents,
	}
}

type Firestore struct {
	client    *firestore.Client
	base      *base
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

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix isolates all collections under a prefix, used by tests
// sharing one database.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.base.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	b := &base{client: client}
	f := &Firestore{
		client:    client,
		base:      b,
		thread:    &threadRepository{base: b},
		message:   &messageRepository{base: b},
		delivery:  &deliveryRepository{base: b},
		window:    &windowRepository{base: b},
		override:  &overrideRepository{base: b},
		violation: &violationRepository{base: b},
		alert:     &alertRepository{base: b},
		number:    &numberRepository{base: b},
		contact:   &contactRepository{base: b},
		sitter:    &sitterRepository{base: b},
		audit:     &auditEventRepository{base: b},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Thread() interfaces.ThreadRepository {
	return f.thread
}

func (f *Firestore) Message() interfaces.MessageRepository {
	return f.message
}

func (f *Firestore) Delivery() interfaces.DeliveryRepository {
	return f.delivery
}

func (f *Firestore) Window() interfaces.WindowRepository {
	return f.window
}

func (f *Firestore) Override() interfaces.OverrideRepository {
	return f.override
}

func (f *Firestore) Violation() interfaces.ViolationRepository {
	return f.violation
}

func (f *Firestore) Alert() interfaces.AlertRepository {
	return f.alert
}

func (f *Firestore) Number() interfaces.NumberRepository {
	return f.number
}

func (f *Firestore) Contact() interfaces.ContactRepository {
	return f.contact
}

func (f *Firestore) Sitter() interfaces.SitterRepository {
	return f.sitter
}

func (f *Firestore) AuditEvent() interfaces.AuditEventRepository {
	return f.audit
}

func (f *Firestore) Close() error {
	if err := f.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

// base carries the client and collection naming shared by all repositories.
type base struct {
	client           *firestore.Client
	collectionPrefix string
}

func (b *base) collection(name string) *firestore.CollectionRef {
	return b.client.Collection(CollectionName(b.collectionPrefix, name))
}

// CollectionName returns the stored name of a collection under prefix.
func CollectionName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// getDoc decodes a single document into T, mapping a missing document to
// interfaces.ErrNotFound.
func getDoc[T any](ctx context.Context, ref *firestore.DocumentRef, what string) (*T, error) {
	snap, err := ref.Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, what+" not found", goerr.V("id", ref.ID))
		}
		return nil, goerr.Wrap(err, "failed to get "+what, goerr.V("id", ref.ID))
	}

	var v T
	if err := snap.DataTo(&v); err != nil {
		return nil, goerr.Wrap(err, "failed to decode "+what, goerr.V("id", ref.ID))
	}
	return &v, nil
}

// txGetDoc is getDoc inside a transaction.
func txGetDoc[T any](tx *firestore.Transaction, ref *firestore.DocumentRef, what string) (*T, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return nil, goerr.Wrap(interfaces.ErrNotFound, what+" not found", goerr.V("id", ref.ID))
		}
		return nil, goerr.Wrap(err, "failed to get "+what, goerr.V("id", ref.ID))
	}

	var v T
	if err := snap.DataTo(&v); err != nil {
		return nil, goerr.Wrap(err, "failed to decode "+what, goerr.V("id", ref.ID))
	}
	return &v, nil
}

// collect drains iter and decodes every document into T.
func collect[T any](iter *firestore.DocumentIterator, what string) ([]*T, error) {
	defer iter.Stop()

	result := []*T{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate "+what)
		}

		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, goerr.Wrap(err, "failed to decode "+what, goerr.V("doc_id", snap.Ref.ID))
		}
		result = append(result, &v)
	}
	return result, nil
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

// isNotFoundErr reports whether err is a domain not-found error produced by
// getDoc or txGetDoc.
func isNotFoundErr(err error) bool {
	return errors.Is(err, interfaces.ErrNotFound)
}
