package types

import "github.com/m-mizutani/goerr/v2"

// RoutingTarget is where a routing decision sends a message.
type RoutingTarget string

const (
	RoutingTargetOwnerInbox RoutingTarget = "owner_inbox"
	RoutingTargetSitter     RoutingTarget = "sitter"
)

func (t RoutingTarget) IsValid() bool {
	return t == RoutingTargetOwnerInbox || t == RoutingTargetSitter
}

func (t RoutingTarget) String() string {
	return string(t)
}

func ParseRoutingTarget(s string) (RoutingTarget, error) {
	t := RoutingTarget(s)
	if !t.IsValid() {
		return "", goerr.New("invalid routing target", goerr.V("value", s))
	}
	return t, nil
}
