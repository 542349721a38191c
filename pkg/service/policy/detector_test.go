package policy_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/service/policy"
)

func TestDetector_Detect(t *testing.T) {
	d, err := policy.NewDetector()
	gt.NoError(t, err).Required()

	tests := []struct {
		name    string
		text    string
		want    []types.ViolationType
		content []string
	}{
		{"clean", "Fed the cat, all good!", nil, nil},
		{"dashed phone", "call me at 555-123-4567 tonight", []types.ViolationType{types.ViolationTypePhone}, []string{"555-123-4567"}},
		{"dotted phone", "555.123.4567", []types.ViolationType{types.ViolationTypePhone}, []string{"555.123.4567"}},
		{"email", "write to jane.doe@example.com", []types.ViolationType{types.ViolationTypeEmail}, []string{"jane.doe@example.com"}},
		{"url", "see https://example.com/pics?id=1 for photos", []types.ViolationType{types.ViolationTypeURL}, []string{"https://example.com/pics?id=1"}},
		{"upper case url", "HTTP://EXAMPLE.COM", []types.ViolationType{types.ViolationTypeURL}, []string{"HTTP://EXAMPLE.COM"}},
		{
			"all kinds",
			"text 555 123 4567 or bob@mail.io or http://x.io",
			[]types.ViolationType{types.ViolationTypePhone, types.ViolationTypeEmail, types.ViolationTypeURL},
			[]string{"555 123 4567", "bob@mail.io", "http://x.io"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.text)
			gt.Array(t, got).Length(len(tt.want))
			for i := range tt.want {
				gt.Value(t, got[i].Type).Equal(tt.want[i])
				gt.Value(t, got[i].Content).Equal(tt.content[i])
			}
		})
	}
}

func TestDetector_OneViolationPerType(t *testing.T) {
	d, err := policy.NewDetector()
	gt.NoError(t, err).Required()

	got := d.Detect("555-123-4567 and 555-987-6543")
	gt.Array(t, got).Length(1)
	gt.Value(t, got[0].Content).Equal("555-123-4567")
	gt.Value(t, got[0].Reason).Equal("Phone number detected")
}

func TestNewDetector_ExtraPatterns(t *testing.T) {
	d, err := policy.NewDetector(policy.Pattern{
		Type:    "url",
		Pattern: `(?i)\b[a-z0-9-]+\s*dot\s*com\b`,
	})
	gt.NoError(t, err).Required()

	got := d.Detect("find me on catsitter dot com")
	gt.Array(t, got).Length(1)
	gt.Value(t, got[0].Type).Equal(types.ViolationTypeURL)
	gt.Value(t, got[0].Reason).Equal("URL detected")

	_, err = policy.NewDetector(policy.Pattern{Type: "fax", Pattern: `x`})
	gt.Error(t, err)

	_, err = policy.NewDetector(policy.Pattern{Type: "phone", Pattern: `(`})
	gt.Error(t, err)
}
