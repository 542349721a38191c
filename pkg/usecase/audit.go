package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/errutil"
)

// auditor fills the common audit fields and records events. A failing sink is
// logged and reported; it never fails the calling operation.
type auditor struct {
	sink  interfaces.AuditSink
	clock func() time.Time
}

func (a *auditor) record(ctx context.Context, ev *model.AuditEvent) {
	if a == nil || a.sink == nil {
		return
	}

	if ev.ActorType == "" {
		ev.ActorType = types.ActorTypeSystem
	}
	if ev.SchemaVersion == 0 {
		ev.SchemaVersion = model.AuditSchemaVersion
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.clock()
	}

	if _, err := a.sink.Record(ctx, ev); err != nil {
		_ = errutil.Handle(ctx, goerr.Wrap(err, "failed to record audit event",
			goerr.V("event_type", ev.EventType), goerr.V(OrgIDKey, ev.OrgID)), "audit sink failure")
	}
}

// toPayload converts v into the JSON-shaped map stored in audit payloads, so
// every sink stores and returns the same representation.
func toPayload(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

// fromPayload decodes a value previously stored with toPayload.
func fromPayload(v any, dst any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to encode audit payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return goerr.Wrap(err, "failed to decode audit payload")
	}
	return nil
}
