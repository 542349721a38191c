package types

import "github.com/m-mizutani/goerr/v2"

// ConflictStrategy selects how two overlapping assignment windows are
// reconciled.
type ConflictStrategy string

const (
	ConflictStrategyKeepA ConflictStrategy = "keepA"
	ConflictStrategyKeepB ConflictStrategy = "keepB"
	ConflictStrategySplit ConflictStrategy = "split"
)

func AllConflictStrategies() []ConflictStrategy {
	return []ConflictStrategy{
		ConflictStrategyKeepA,
		ConflictStrategyKeepB,
		ConflictStrategySplit,
	}
}

func (s ConflictStrategy) IsValid() bool {
	switch s {
	case ConflictStrategyKeepA,
		ConflictStrategyKeepB,
		ConflictStrategySplit:
		return true
	default:
		return false
	}
}

func (s ConflictStrategy) String() string {
	return string(s)
}

func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	st := ConflictStrategy(s)
	if !st.IsValid() {
		return "", goerr.New("invalid conflict strategy", goerr.V("value", s))
	}
	return st, nil
}

// WindowStatus is derived from a window's bounds and the current time.
type WindowStatus string

const (
	WindowStatusActive WindowStatus = "active"
	WindowStatusFuture WindowStatus = "future"
	WindowStatusPast   WindowStatus = "past"
)

func (s WindowStatus) IsValid() bool {
	switch s {
	case WindowStatusActive, WindowStatusFuture, WindowStatusPast:
		return true
	default:
		return false
	}
}

func (s WindowStatus) String() string {
	return string(s)
}

func ParseWindowStatus(s string) (WindowStatus, error) {
	st := WindowStatus(s)
	if !st.IsValid() {
		return "", goerr.New("invalid window status", goerr.V("value", s))
	}
	return st, nil
}
