package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/m-mizutani/gt"
	"github.com/snoutos/switchboard/pkg/cli/config"
	"github.com/snoutos/switchboard/pkg/repository/memory"
	"github.com/snoutos/switchboard/pkg/service/provider"
	"github.com/snoutos/switchboard/pkg/service/queue"
)

const validConfig = `
[[policy.pattern]]
type = "url"
pattern = '(?i)\bwww\.[a-z0-9-]+\.[a-z]{2,}'
reason = "Bare web address detected"

[seed]
org_id = "org-pawsome"

[[seed.number]]
e164 = "+15550000001"
class = "front_desk"

[[seed.number]]
e164 = "+15550000002"
class = "sitter"

[[seed.contact]]
client_id = "client-1"
e164 = "+15551230001"
primary = true

[[seed.sitter]]
user_id = "user-s1"
name = "Sam Sitter"

[[seed.thread]]
key = "client-1-desk"
number = "+15550000001"
client_id = "client-1"
type = "front_desk"

[[seed.window]]
thread = "client-1-desk"
sitter = "user-s1"
starts_at = 2025-03-14T09:00:00Z
ends_at = 2025-03-14T17:00:00Z
booking_ref = "BK-1"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "switchboard.toml")
	gt.NoError(t, os.WriteFile(path, []byte(content), 0o600)).Required()
	return path
}

func TestLoadAppConfiguration(t *testing.T) {
	t.Run("valid configuration", func(t *testing.T) {
		cfg, err := config.LoadAppConfiguration(writeConfig(t, validConfig))
		gt.NoError(t, err).Required()

		gt.Array(t, cfg.Policy.Patterns).Length(1).Required()
		gt.Value(t, cfg.Policy.Patterns[0].Type).Equal("url")

		gt.Value(t, cfg.Seed).NotNil().Required()
		gt.Value(t, cfg.Seed.OrgID).Equal("org-pawsome")
		gt.Array(t, cfg.Seed.Numbers).Length(2)
		gt.Array(t, cfg.Seed.Contacts).Length(1)
		gt.Bool(t, cfg.Seed.Contacts[0].Primary).True()
		gt.Array(t, cfg.Seed.Windows).Length(1).Required()
		gt.Value(t, cfg.Seed.Windows[0].StartsAt.Hour()).Equal(9)
		gt.Value(t, cfg.Seed.Windows[0].BookingRef).Equal("BK-1")
	})

	t.Run("empty configuration", func(t *testing.T) {
		cfg, err := config.LoadAppConfiguration(writeConfig(t, ""))
		gt.NoError(t, err).Required()
		gt.Value(t, cfg.Seed).Nil()
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadAppConfiguration(filepath.Join(t.TempDir(), "nope.toml"))
		gt.Error(t, err).Is(config.ErrConfigNotFound)
	})

	t.Run("broken TOML", func(t *testing.T) {
		_, err := config.LoadAppConfiguration(writeConfig(t, "[seed\norg_id = "))
		gt.Value(t, err).NotNil()
	})
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name: "invalid policy regex",
			content: `
[[policy.pattern]]
type = "phone"
pattern = "(["
`,
			wantErr: config.ErrInvalidPattern,
		},
		{
			name: "unknown policy type",
			content: `
[[policy.pattern]]
type = "fax"
pattern = "fax"
`,
			wantErr: config.ErrInvalidPattern,
		},
		{
			name: "missing org",
			content: `
[seed]
[[seed.number]]
e164 = "+15550000001"
class = "front_desk"
`,
			wantErr: config.ErrInvalidConfig,
		},
		{
			name: "number not in E.164",
			content: `
[seed]
org_id = "org-1"
[[seed.number]]
e164 = "555-0001"
class = "front_desk"
`,
			wantErr: config.ErrInvalidE164,
		},
		{
			name: "invalid number class",
			content: `
[seed]
org_id = "org-1"
[[seed.number]]
e164 = "+15550000001"
class = "landline"
`,
			wantErr: config.ErrInvalidConfig,
		},
		{
			name: "duplicate number",
			content: `
[seed]
org_id = "org-1"
[[seed.number]]
e164 = "+15550000001"
class = "front_desk"
[[seed.number]]
e164 = "+15550000001"
class = "pool"
`,
			wantErr: config.ErrDuplicateEntry,
		},
		{
			name: "duplicate sitter",
			content: `
[seed]
org_id = "org-1"
[[seed.sitter]]
user_id = "u1"
name = "A"
[[seed.sitter]]
user_id = "u1"
name = "B"
`,
			wantErr: config.ErrDuplicateEntry,
		},
		{
			name: "thread on unseeded number",
			content: `
[seed]
org_id = "org-1"
[[seed.thread]]
key = "t1"
number = "+15550000009"
client_id = "c1"
type = "front_desk"
`,
			wantErr: config.ErrUnknownReference,
		},
		{
			name: "window on unknown thread",
			content: `
[seed]
org_id = "org-1"
[[seed.sitter]]
user_id = "u1"
name = "A"
[[seed.window]]
thread = "missing"
sitter = "u1"
starts_at = 2025-03-14T09:00:00Z
ends_at = 2025-03-14T17:00:00Z
`,
			wantErr: config.ErrUnknownReference,
		},
		{
			name: "window ending before it starts",
			content: `
[seed]
org_id = "org-1"
[[seed.number]]
e164 = "+15550000001"
class = "front_desk"
[[seed.sitter]]
user_id = "u1"
name = "A"
[[seed.thread]]
key = "t1"
number = "+15550000001"
client_id = "c1"
type = "assignment"
[[seed.window]]
thread = "t1"
sitter = "u1"
starts_at = 2025-03-14T17:00:00Z
ends_at = 2025-03-14T09:00:00Z
`,
			wantErr: config.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadAppConfiguration(writeConfig(t, tt.content))
			gt.Value(t, err).NotNil().Required()
			gt.Error(t, err).Is(tt.wantErr)
		})
	}
}

func TestProviderConfigure(t *testing.T) {
	t.Run("mock provider", func(t *testing.T) {
		p, err := config.NewProviderForTest("mock", "", "secret", "+15550000001").Configure()
		gt.NoError(t, err).Required()
		_, ok := p.(*provider.Mock)
		gt.Bool(t, ok).True()
	})

	t.Run("twilio requires credentials", func(t *testing.T) {
		_, err := config.NewProviderForTest("twilio", "", "").Configure()
		gt.Value(t, err).NotNil()
	})

	t.Run("twilio provider", func(t *testing.T) {
		p, err := config.NewProviderForTest("twilio", "AC123", "token").Configure()
		gt.NoError(t, err).Required()
		_, ok := p.(*provider.Twilio)
		gt.Bool(t, ok).True()
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := config.NewProviderForTest("carrier-pigeon", "", "").Configure()
		gt.Value(t, err).NotNil()
	})
}

func TestQueueConfigure(t *testing.T) {
	ctx := context.Background()

	t.Run("memory queue", func(t *testing.T) {
		q, closer, err := config.NewQueueForTest("memory", "").Configure(ctx)
		gt.NoError(t, err).Required()
		defer closer()
		_, ok := q.(*queue.Memory)
		gt.Bool(t, ok).True()
	})

	t.Run("redis queue", func(t *testing.T) {
		mr := miniredis.RunT(t)
		q, closer, err := config.NewQueueForTest("redis", mr.Addr()).Configure(ctx)
		gt.NoError(t, err).Required()
		defer closer()
		_, ok := q.(*queue.Redis)
		gt.Bool(t, ok).True()
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		_, _, err := config.NewQueueForTest("redis", addr).Configure(ctx)
		gt.Value(t, err).NotNil()
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, _, err := config.NewQueueForTest("kafka", "").Configure(ctx)
		gt.Value(t, err).NotNil()
	})
}

func TestAuditConfigure(t *testing.T) {
	repo := memory.New()

	t.Run("repository sink", func(t *testing.T) {
		sink, closer, err := config.NewAuditForTest("repository", "").Configure(repo)
		gt.NoError(t, err).Required()
		defer closer()
		gt.Value(t, sink).NotNil()
	})

	t.Run("postgres requires DSN", func(t *testing.T) {
		_, _, err := config.NewAuditForTest("postgres", "").Configure(repo)
		gt.Value(t, err).NotNil()
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, _, err := config.NewAuditForTest("s3", "").Configure(repo)
		gt.Value(t, err).NotNil()
	})
}

func TestSlackConfigure(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		n, err := config.NewSlackForTest("", "").Configure()
		gt.NoError(t, err)
		gt.Value(t, n).Nil()
	})

	t.Run("channel without token", func(t *testing.T) {
		_, err := config.NewSlackForTest("", "C123").Configure()
		gt.Value(t, err).NotNil()
	})

	t.Run("configured", func(t *testing.T) {
		n, err := config.NewSlackForTest("xoxb-test", "C123").Configure()
		gt.NoError(t, err)
		gt.Value(t, n).NotNil()
	})
}

func TestRepositoryConfigure(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		repo, err := config.NewRepositoryForTest("memory", "").Configure(ctx)
		gt.NoError(t, err).Required()
		defer func() { _ = repo.Close() }()
	})

	t.Run("firestore requires project", func(t *testing.T) {
		_, err := config.NewRepositoryForTest("firestore", "").Configure(ctx)
		gt.Value(t, err).NotNil()
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := config.NewRepositoryForTest("mysql", "").Configure(ctx)
		gt.Value(t, err).NotNil()
	})
}
