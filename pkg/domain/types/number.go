package types

import "github.com/m-mizutani/goerr/v2"

// NumberClass decides how inbound traffic on a number is resolved to a
// thread.
type NumberClass string

const (
	NumberClassFrontDesk NumberClass = "front_desk"
	NumberClassSitter    NumberClass = "sitter"
	NumberClassPool      NumberClass = "pool"
)

func AllNumberClasses() []NumberClass {
	return []NumberClass{
		NumberClassFrontDesk,
		NumberClassSitter,
		NumberClassPool,
	}
}

func (c NumberClass) IsValid() bool {
	switch c {
	case NumberClassFrontDesk,
		NumberClassSitter,
		NumberClassPool:
		return true
	default:
		return false
	}
}

func (c NumberClass) String() string {
	return string(c)
}

func ParseNumberClass(s string) (NumberClass, error) {
	c := NumberClass(s)
	if !c.IsValid() {
		return "", goerr.New("invalid number class", goerr.V("value", s))
	}
	return c, nil
}

type NumberStatus string

const (
	NumberStatusActive   NumberStatus = "active"
	NumberStatusInactive NumberStatus = "inactive"
)

func (s NumberStatus) String() string {
	return string(s)
}
