// Package policy detects contact information in message text.
package policy

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
)

type rule struct {
	kind    types.ViolationType
	pattern *regexp.Regexp
	reason  string
}

var builtinRules = []rule{
	{types.ViolationTypePhone, regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`), "Phone number detected"},
	{types.ViolationTypePhone, regexp.MustCompile(`\+?1?[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), "Phone number detected"},
	{types.ViolationTypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "Email address detected"},
	{types.ViolationTypeURL, regexp.MustCompile(`(?i)https?://[^\s]+`), "URL detected"},
}

// Pattern is an additional detection rule.
type Pattern struct {
	Type    string `toml:"type"`
	Pattern string `toml:"pattern"`
	Reason  string `toml:"reason"`
}

// Detector reports at most one violation per type: the first match of the
// first matching rule.
type Detector struct {
	rules []rule
}

var _ interfaces.PolicyDetector = &Detector{}

// NewDetector returns a detector with the built-in rules followed by extra.
func NewDetector(extra ...Pattern) (*Detector, error) {
	rules := append([]rule(nil), builtinRules...)

	for _, p := range extra {
		kind, err := types.ParseViolationType(p.Type)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid policy pattern type", goerr.V("pattern", p.Pattern))
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid policy pattern", goerr.V("pattern", p.Pattern))
		}
		reason := p.Reason
		if reason == "" {
			reason = defaultReason(kind)
		}
		rules = append(rules, rule{kind: kind, pattern: re, reason: reason})
	}

	return &Detector{rules: rules}, nil
}

func (d *Detector) Detect(text string) []model.Violation {
	var found []model.Violation
	seen := make(map[types.ViolationType]bool, 3)

	for _, r := range d.rules {
		if seen[r.kind] {
			continue
		}
		m := r.pattern.FindString(text)
		if m == "" {
			continue
		}
		seen[r.kind] = true
		found = append(found, model.Violation{Type: r.kind, Content: m, Reason: r.reason})
	}
	return found
}

func defaultReason(kind types.ViolationType) string {
	switch kind {
	case types.ViolationTypePhone:
		return "Phone number detected"
	case types.ViolationTypeEmail:
		return "Email address detected"
	default:
		return "URL detected"
	}
}
