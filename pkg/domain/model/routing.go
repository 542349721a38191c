package model

import (
	"time"

	"github.com/snoutos/switchboard/pkg/domain/types"
)

const RulesetVersion = "1.0.0"

// Rule names, in evaluation order.
const (
	RuleThreadValidation = "Thread Validation"
	RuleRoutingOverride  = "Routing Override"
	RuleAssignmentWindow = "Assignment Window Routing"
	RuleDefault          = "Default Routing"
)

const (
	ReasonThreadNotFound  = "thread not found"
	ReasonOverrideActive  = "routing override active"
	ReasonWindowActive    = "active assignment window"
	ReasonMultipleWindows = "multiple overlapping windows - owner intervention required"
	ReasonNoActiveWindow  = "no active assignment window"
)

// RoutingStep is one evaluated rule in a decision trace.
type RoutingStep struct {
	Step        int    `json:"step"`
	Rule        string `json:"rule"`
	Condition   string `json:"condition"`
	Result      bool   `json:"result"`
	Explanation string `json:"explanation"`
}

// RoutingInputs captures the state the decision was computed from.
type RoutingInputs struct {
	OrgID       string          `json:"orgId"`
	ThreadID    string          `json:"threadId"`
	Timestamp   time.Time       `json:"timestamp"`
	Direction   types.Direction `json:"direction"`
	ThreadFound bool            `json:"threadFound"`
	OverrideIDs []string        `json:"overrideIds"`
	WindowIDs   []string        `json:"windowIds"`
}

// RoutingDecision is the deterministic output of routing evaluation.
// EvaluatedAt equals the evaluated timestamp, not the wall clock.
type RoutingDecision struct {
	Target            types.RoutingTarget `json:"target"`
	TargetID          string              `json:"targetId,omitempty"`
	Reason            string              `json:"reason"`
	Trace             []RoutingStep       `json:"trace"`
	RulesetVersion    string              `json:"rulesetVersion"`
	EvaluatedAt       time.Time           `json:"evaluatedAt"`
	InputsSnapshot    RoutingInputs       `json:"inputsSnapshot"`
	MatchedOverrideID string              `json:"matchedOverrideId,omitempty"`
	MatchedWindowID   string              `json:"matchedWindowId,omitempty"`
}

// RoutingRule describes one rule of the ruleset for introspection.
type RoutingRule struct {
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
}
