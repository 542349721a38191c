package usecase

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

// EvaluateRouting runs the pure ruleset on explicit state.
func EvaluateRouting(orgID, threadID string, thread *model.Thread, overrides []*model.RoutingOverride, windows []*model.AssignmentWindow, ts time.Time, direction types.Direction) *model.RoutingDecision {
	return evaluateRouting(routingState{
		orgID:     orgID,
		threadID:  threadID,
		thread:    thread,
		overrides: overrides,
		windows:   windows,
		ts:        ts,
		direction: direction,
	})
}
