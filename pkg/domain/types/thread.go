package types

import "github.com/m-mizutani/goerr/v2"

// ThreadType classifies how a thread came to exist and who may see it.
type ThreadType string

const (
	ThreadTypeFrontDesk  ThreadType = "front_desk"
	ThreadTypeAssignment ThreadType = "assignment"
	ThreadTypePool       ThreadType = "pool"
	ThreadTypeOther      ThreadType = "other"
)

func AllThreadTypes() []ThreadType {
	return []ThreadType{
		ThreadTypeFrontDesk,
		ThreadTypeAssignment,
		ThreadTypePool,
		ThreadTypeOther,
	}
}

func (t ThreadType) IsValid() bool {
	switch t {
	case ThreadTypeFrontDesk,
		ThreadTypeAssignment,
		ThreadTypePool,
		ThreadTypeOther:
		return true
	default:
		return false
	}
}

func (t ThreadType) String() string {
	return string(t)
}

func ParseThreadType(s string) (ThreadType, error) {
	t := ThreadType(s)
	if !t.IsValid() {
		return "", goerr.New("invalid thread type", goerr.V("value", s))
	}
	return t, nil
}

// ThreadStatus is the lifecycle state of a thread. Threads are closed, never
// deleted.
type ThreadStatus string

const (
	ThreadStatusActive ThreadStatus = "active"
	ThreadStatusClosed ThreadStatus = "closed"
)

func (s ThreadStatus) IsValid() bool {
	return s == ThreadStatusActive || s == ThreadStatusClosed
}

// Normalize treats an empty status as active.
func (s ThreadStatus) Normalize() ThreadStatus {
	if s == "" {
		return ThreadStatusActive
	}
	return s
}

func (s ThreadStatus) String() string {
	return string(s)
}
