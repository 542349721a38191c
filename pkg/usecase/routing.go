package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

var routingRules = []model.RoutingRule{
	{Name: model.RuleThreadValidation, Priority: 1, Description: "Route to the owner inbox when the thread does not exist in the org"},
	{Name: model.RuleRoutingOverride, Priority: 2, Description: "Apply the most recently created override in effect at the evaluated time"},
	{Name: model.RuleAssignmentWindow, Priority: 3, Description: "Route to the sitter of the single assignment window covering the evaluated time"},
	{Name: model.RuleDefault, Priority: 4, Description: "Route to the owner inbox"},
}

type RoutingUseCase struct {
	repo   interfaces.Repository
	audit  *auditor
	reader interfaces.AuditReader
	clock  func() time.Time
}

func newRoutingUseCase(repo interfaces.Repository, audit *auditor, reader interfaces.AuditReader, clock func() time.Time) *RoutingUseCase {
	return &RoutingUseCase{
		repo:   repo,
		audit:  audit,
		reader: reader,
		clock:  clock,
	}
}

// Evaluate computes the routing decision at ts and records it in the audit
// log.
func (uc *RoutingUseCase) Evaluate(ctx context.Context, orgID, threadID string, ts time.Time, direction types.Direction) (*model.RoutingDecision, error) {
	decision, err := uc.Simulate(ctx, orgID, threadID, ts, direction)
	if err != nil {
		return nil, err
	}

	uc.audit.record(ctx, &model.AuditEvent{
		OrgID:      orgID,
		ActorType:  types.ActorTypeSystem,
		EntityType: model.EntityThread,
		EntityID:   threadID,
		EventType:  model.EventRoutingEvaluated,
		CorrelationIDs: map[string]string{
			"threadId":   threadID,
			"overrideId": decision.MatchedOverrideID,
			"windowId":   decision.MatchedWindowID,
		},
		Payload: map[string]any{
			"decision": toPayload(decision),
		},
	})

	return decision, nil
}

// Simulate computes the routing decision at ts without side effects.
func (uc *RoutingUseCase) Simulate(ctx context.Context, orgID, threadID string, ts time.Time, direction types.Direction) (*model.RoutingDecision, error) {
	if !direction.IsValid() {
		return nil, goerr.Wrap(ErrValidation, "invalid direction", goerr.V("direction", direction))
	}

	state := routingState{
		orgID:     orgID,
		threadID:  threadID,
		ts:        ts,
		direction: direction,
	}

	thread, err := uc.repo.Thread().Get(ctx, orgID, threadID)
	switch {
	case err == nil:
		state.thread = thread
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, interfaces.ErrOrgMismatch):
		return evaluateRouting(state), nil
	default:
		return nil, goerr.Wrap(err, "failed to get thread", goerr.V(ThreadIDKey, threadID))
	}

	state.overrides, err = uc.repo.Override().List(ctx, orgID, interfaces.OverrideQuery{ThreadID: threadID})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list overrides", goerr.V(ThreadIDKey, threadID))
	}

	state.windows, err = uc.repo.Window().List(ctx, orgID, interfaces.WindowQuery{ThreadID: threadID})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list windows", goerr.V(ThreadIDKey, threadID))
	}

	return evaluateRouting(state), nil
}

// Rules returns the ruleset in evaluation order.
func (uc *RoutingUseCase) Rules() []model.RoutingRule {
	rules := make([]model.RoutingRule, len(routingRules))
	copy(rules, routingRules)
	return rules
}

// History returns past recorded decisions of a thread, newest first.
func (uc *RoutingUseCase) History(ctx context.Context, orgID, threadID string, limit int) ([]*model.RoutingDecision, error) {
	if uc.reader == nil {
		return nil, goerr.New("audit reader is not configured")
	}

	events, err := uc.reader.Query(ctx, orgID, interfaces.AuditQuery{
		EventType:  model.EventRoutingEvaluated,
		EntityType: model.EntityThread,
		EntityID:   threadID,
		Limit:      limit,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query routing history", goerr.V(ThreadIDKey, threadID))
	}

	decisions := make([]*model.RoutingDecision, 0, len(events))
	for _, ev := range events {
		var d model.RoutingDecision
		if err := fromPayload(ev.Payload["decision"], &d); err != nil {
			return nil, goerr.Wrap(err, "broken routing audit event", goerr.V("event_id", ev.ID))
		}
		decisions = append(decisions, &d)
	}
	return decisions, nil
}

// routingState is everything a decision depends on. thread is nil when the
// thread is missing from the org.
type routingState struct {
	orgID     string
	threadID  string
	thread    *model.Thread
	overrides []*model.RoutingOverride
	windows   []*model.AssignmentWindow
	ts        time.Time
	direction types.Direction
}

// evaluateRouting is the pure ruleset. The same state always yields the same
// decision.
func evaluateRouting(s routingState) *model.RoutingDecision {
	d := &model.RoutingDecision{
		RulesetVersion: model.RulesetVersion,
		EvaluatedAt:    s.ts,
		Trace:          []model.RoutingStep{},
		InputsSnapshot: model.RoutingInputs{
			OrgID:       s.orgID,
			ThreadID:    s.threadID,
			Timestamp:   s.ts,
			Direction:   s.direction,
			ThreadFound: s.thread != nil,
			OverrideIDs: []string{},
			WindowIDs:   []string{},
		},
	}
	step := func(rule, condition string, result bool, explanation string) {
		d.Trace = append(d.Trace, model.RoutingStep{
			Step:        len(d.Trace) + 1,
			Rule:        rule,
			Condition:   condition,
			Result:      result,
			Explanation: explanation,
		})
	}
	at := s.ts.UTC().Format(time.RFC3339)

	if s.thread == nil {
		step(model.RuleThreadValidation, "thread exists in org", false, "thread "+s.threadID+" not found")
		d.Target = types.RoutingTargetOwnerInbox
		d.Reason = model.ReasonThreadNotFound
		return d
	}
	step(model.RuleThreadValidation, "thread exists in org", true, "thread "+s.threadID+" found")

	overrides := make([]*model.RoutingOverride, 0, len(s.overrides))
	for _, o := range s.overrides {
		if o.State() == model.OverrideRemoved {
			continue
		}
		d.InputsSnapshot.OverrideIDs = append(d.InputsSnapshot.OverrideIDs, o.ID)
		if o.IsEffectiveAt(s.ts) {
			overrides = append(overrides, o)
		}
	}
	sort.Strings(d.InputsSnapshot.OverrideIDs)
	sort.Slice(overrides, func(i, j int) bool {
		return model.OverrideBefore(overrides[i], overrides[j])
	})

	if len(overrides) > 0 {
		o := overrides[0]
		step(model.RuleRoutingOverride, "override in effect at "+at, true,
			fmt.Sprintf("override %s routes to %s", o.ID, describeTarget(o.TargetType, o.TargetID)))
		d.Target = o.TargetType
		d.TargetID = o.TargetID
		d.Reason = model.ReasonOverrideActive
		d.MatchedOverrideID = o.ID
		return d
	}
	step(model.RuleRoutingOverride, "override in effect at "+at, false, "no override in effect")

	windows := make([]*model.AssignmentWindow, 0, len(s.windows))
	for _, w := range s.windows {
		d.InputsSnapshot.WindowIDs = append(d.InputsSnapshot.WindowIDs, w.ID)
		if w.Covers(s.ts) {
			windows = append(windows, w)
		}
	}
	sort.Strings(d.InputsSnapshot.WindowIDs)
	sort.Slice(windows, func(i, j int) bool {
		return model.WindowBefore(windows[i], windows[j])
	})

	switch len(windows) {
	case 0:
		step(model.RuleAssignmentWindow, "assignment window covers "+at, false, "no window covers the time")
	case 1:
		w := windows[0]
		step(model.RuleAssignmentWindow, "assignment window covers "+at, true,
			fmt.Sprintf("window %s assigns sitter %s", w.ID, w.SitterID))
		d.Target = types.RoutingTargetSitter
		d.TargetID = w.SitterID
		d.Reason = model.ReasonWindowActive
		d.MatchedWindowID = w.ID
		return d
	default:
		step(model.RuleAssignmentWindow, "assignment window covers "+at, true,
			fmt.Sprintf("%d windows cover the time", len(windows)))
		d.Target = types.RoutingTargetOwnerInbox
		d.Reason = model.ReasonMultipleWindows
		return d
	}

	step(model.RuleDefault, "always", true, "route to owner inbox")
	d.Target = types.RoutingTargetOwnerInbox
	d.Reason = model.ReasonNoActiveWindow
	return d
}

func describeTarget(target types.RoutingTarget, targetID string) string {
	if targetID == "" {
		return string(target)
	}
	return string(target) + " " + targetID
}
