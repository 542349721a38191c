package usecase_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/usecase"
)

func TestRoutingWindowBoundaries(t *testing.T) {
	f := newFixture(t)
	w := f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	testCases := []struct {
		name     string
		ts       time.Time
		target   types.RoutingTarget
		targetID string
		reason   string
	}{
		{name: "before window", ts: at(13, 59), target: types.RoutingTargetOwnerInbox, reason: model.ReasonNoActiveWindow},
		{name: "window start is inclusive", ts: at(14, 0), target: types.RoutingTargetSitter, targetID: f.sitterOne.ID, reason: model.ReasonWindowActive},
		{name: "inside window", ts: at(15, 0), target: types.RoutingTargetSitter, targetID: f.sitterOne.ID, reason: model.ReasonWindowActive},
		{name: "window end is exclusive", ts: at(18, 0), target: types.RoutingTargetOwnerInbox, reason: model.ReasonNoActiveWindow},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, tc.ts, types.DirectionInbound)
			gt.NoError(t, err).Required()
			gt.Value(t, d.Target).Equal(tc.target)
			gt.Value(t, d.TargetID).Equal(tc.targetID)
			gt.Value(t, d.Reason).Equal(tc.reason)
			gt.Value(t, d.EvaluatedAt).Equal(tc.ts)
			gt.Value(t, d.RulesetVersion).Equal(model.RulesetVersion)
			gt.Value(t, d.InputsSnapshot.WindowIDs).Equal([]string{w.ID})
			if tc.target == types.RoutingTargetSitter {
				gt.Value(t, d.MatchedWindowID).Equal(w.ID)
				gt.Array(t, d.Trace).Length(3)
			} else {
				gt.Array(t, d.Trace).Length(4)
				gt.Value(t, d.Trace[3].Rule).Equal(model.RuleDefault)
			}
		})
	}
}

func TestRoutingIsDeterministic(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	first, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, at(16, 0), types.DirectionOutbound)
	gt.NoError(t, err).Required()

	// The wall clock must not leak into the decision.
	f.now = at(23, 0)
	second, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, at(16, 0), types.DirectionOutbound)
	gt.NoError(t, err).Required()

	gt.Value(t, second).Equal(first)
}

func TestRoutingThreadNotFound(t *testing.T) {
	f := newFixture(t)

	d, err := f.uc.Routing.Simulate(f.ctx, testOrg, "missing-thread", f.now, types.DirectionInbound)
	gt.NoError(t, err).Required()
	gt.Value(t, d.Target).Equal(types.RoutingTargetOwnerInbox)
	gt.Value(t, d.Reason).Equal(model.ReasonThreadNotFound)
	gt.Bool(t, d.InputsSnapshot.ThreadFound).False()
	gt.Array(t, d.Trace).Length(1)
	gt.Bool(t, d.Trace[0].Result).False()

	t.Run("thread of another org is not found", func(t *testing.T) {
		d, err := f.uc.Routing.Simulate(f.ctx, "org-2", f.thread.ID, f.now, types.DirectionInbound)
		gt.NoError(t, err).Required()
		gt.Value(t, d.Reason).Equal(model.ReasonThreadNotFound)
	})
}

func TestRoutingRejectsInvalidDirection(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, f.now, types.Direction("sideways"))
	gt.Error(t, err).Is(usecase.ErrValidation)
}

func TestRoutingMultipleWindows(t *testing.T) {
	f := newFixture(t)

	// CreateWindow rejects overlaps, so store the overlapping pair directly.
	for _, s := range []*model.Sitter{f.sitterOne, f.sitterTwo} {
		_, err := f.repo.Window().Create(f.ctx, testOrg, &model.AssignmentWindow{
			ThreadID: f.thread.ID,
			SitterID: s.ID,
			StartsAt: at(14, 0),
			EndsAt:   at(18, 0),
		})
		gt.NoError(t, err).Required()
	}

	d, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, at(15, 0), types.DirectionInbound)
	gt.NoError(t, err).Required()
	gt.Value(t, d.Target).Equal(types.RoutingTargetOwnerInbox)
	gt.Value(t, d.Reason).Equal(model.ReasonMultipleWindows)
	gt.Value(t, d.TargetID).Equal("")
	gt.Array(t, d.Trace).Length(3)
}

func TestRoutingOverridePrecedence(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	o, err := f.uc.Routing.CreateOverride(f.ctx, testOrg, ownerUser, usecase.OverrideInput{
		ThreadID:      f.thread.ID,
		TargetType:    types.RoutingTargetSitter,
		TargetID:      f.sitterTwo.ID,
		DurationHours: 2,
		Reason:        "covering",
	})
	gt.NoError(t, err).Required()
	gt.Value(t, o.StartsAt).Equal(f.now)
	gt.Value(t, *o.EndsAt).Equal(f.now.Add(2 * time.Hour))

	d, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, at(16, 0), types.DirectionInbound)
	gt.NoError(t, err).Required()
	gt.Value(t, d.Target).Equal(types.RoutingTargetSitter)
	gt.Value(t, d.TargetID).Equal(f.sitterTwo.ID)
	gt.Value(t, d.Reason).Equal(model.ReasonOverrideActive)
	gt.Value(t, d.MatchedOverrideID).Equal(o.ID)
	gt.Array(t, d.Trace).Length(2)

	t.Run("override expires", func(t *testing.T) {
		d, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, at(17, 1), types.DirectionInbound)
		gt.NoError(t, err).Required()
		gt.Value(t, d.TargetID).Equal(f.sitterOne.ID)
		gt.Value(t, d.Reason).Equal(model.ReasonWindowActive)
	})

	t.Run("second active override is rejected", func(t *testing.T) {
		_, err := f.uc.Routing.CreateOverride(f.ctx, testOrg, ownerUser, usecase.OverrideInput{
			ThreadID:   f.thread.ID,
			TargetType: types.RoutingTargetOwnerInbox,
		})
		gt.Error(t, err).Is(usecase.ErrConflict)
	})

	t.Run("removed override no longer applies", func(t *testing.T) {
		removed, err := f.uc.Routing.RemoveOverride(f.ctx, testOrg, ownerUser, o.ID)
		gt.NoError(t, err).Required()
		gt.Value(t, removed.RemovedAt).NotNil()

		d, err := f.uc.Routing.Simulate(f.ctx, testOrg, f.thread.ID, at(16, 0), types.DirectionInbound)
		gt.NoError(t, err).Required()
		gt.Value(t, d.TargetID).Equal(f.sitterOne.ID)
		gt.Value(t, d.InputsSnapshot.OverrideIDs).Equal([]string{})

		_, err = f.uc.Routing.RemoveOverride(f.ctx, testOrg, ownerUser, o.ID)
		gt.Error(t, err).Is(usecase.ErrValidation)

		active, err := f.uc.Routing.ListOverrides(f.ctx, testOrg, f.thread.ID, true)
		gt.NoError(t, err).Required()
		gt.Array(t, active).Length(0)

		all, err := f.uc.Routing.ListOverrides(f.ctx, testOrg, f.thread.ID, false)
		gt.NoError(t, err).Required()
		gt.Array(t, all).Length(1)
	})
}

func TestCreateOverrideValidation(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name  string
		input usecase.OverrideInput
		err   error
	}{
		{
			name:  "invalid target",
			input: usecase.OverrideInput{ThreadID: f.thread.ID, TargetType: "nobody"},
			err:   usecase.ErrValidation,
		},
		{
			name:  "sitter target without sitter",
			input: usecase.OverrideInput{ThreadID: f.thread.ID, TargetType: types.RoutingTargetSitter},
			err:   usecase.ErrValidation,
		},
		{
			name:  "unknown sitter",
			input: usecase.OverrideInput{ThreadID: f.thread.ID, TargetType: types.RoutingTargetSitter, TargetID: "ghost"},
			err:   usecase.ErrNotFound,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.uc.Routing.CreateOverride(f.ctx, testOrg, ownerUser, tc.input)
			gt.Error(t, err).Is(tc.err)
		})
	}
}

func TestEvaluateRoutingLatestOverrideWins(t *testing.T) {
	thread := &model.Thread{ID: "thread-1", OrgID: testOrg, Status: types.ThreadStatusActive}
	older := &model.RoutingOverride{
		ID:         "ov-a",
		ThreadID:   thread.ID,
		TargetType: types.RoutingTargetSitter,
		TargetID:   "sitter-a",
		StartsAt:   at(10, 0),
		CreatedAt:  at(10, 0),
	}
	newer := &model.RoutingOverride{
		ID:         "ov-b",
		ThreadID:   thread.ID,
		TargetType: types.RoutingTargetOwnerInbox,
		StartsAt:   at(11, 0),
		CreatedAt:  at(11, 0),
	}
	removedAt := at(12, 0)
	removed := &model.RoutingOverride{
		ID:         "ov-c",
		ThreadID:   thread.ID,
		TargetType: types.RoutingTargetSitter,
		TargetID:   "sitter-c",
		StartsAt:   at(11, 30),
		CreatedAt:  at(11, 30),
		RemovedAt:  &removedAt,
	}

	d := usecase.EvaluateRouting(testOrg, thread.ID, thread,
		[]*model.RoutingOverride{older, removed, newer}, nil, at(13, 0), types.DirectionInbound)

	gt.Value(t, d.Target).Equal(types.RoutingTargetOwnerInbox)
	gt.Value(t, d.MatchedOverrideID).Equal(newer.ID)
	gt.Value(t, d.InputsSnapshot.OverrideIDs).Equal([]string{"ov-a", "ov-b"})

	again := usecase.EvaluateRouting(testOrg, thread.ID, thread,
		[]*model.RoutingOverride{newer, older, removed}, nil, at(13, 0), types.DirectionInbound)
	gt.Value(t, again).Equal(d)
}

func TestRoutingEvaluateRecordsHistory(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, f.thread.ID, f.sitterOne, at(14, 0), at(18, 0))

	first, err := f.uc.Routing.Evaluate(f.ctx, testOrg, f.thread.ID, at(15, 0), types.DirectionInbound)
	gt.NoError(t, err).Required()

	f.now = f.now.Add(time.Minute)
	second, err := f.uc.Routing.Evaluate(f.ctx, testOrg, f.thread.ID, at(19, 0), types.DirectionInbound)
	gt.NoError(t, err).Required()

	history, err := f.uc.Routing.History(f.ctx, testOrg, f.thread.ID, 10)
	gt.NoError(t, err).Required()
	gt.Array(t, history).Length(2)

	gt.Value(t, history[0].Target).Equal(second.Target)
	gt.Value(t, history[0].Reason).Equal(second.Reason)
	gt.Value(t, history[1].TargetID).Equal(first.TargetID)
	gt.Value(t, history[1].MatchedWindowID).Equal(first.MatchedWindowID)
	gt.Array(t, history[1].Trace).Length(len(first.Trace))

	limited, err := f.uc.Routing.History(f.ctx, testOrg, f.thread.ID, 1)
	gt.NoError(t, err).Required()
	gt.Array(t, limited).Length(1)
}

func TestRoutingRules(t *testing.T) {
	f := newFixture(t)

	rules := f.uc.Routing.Rules()
	gt.Array(t, rules).Length(4)
	for i, r := range rules {
		gt.Value(t, r.Priority).Equal(i + 1)
	}
	gt.Value(t, rules[0].Name).Equal(model.RuleThreadValidation)
	gt.Value(t, rules[3].Name).Equal(model.RuleDefault)
}
