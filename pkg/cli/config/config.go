package config

import (
	"os"
	"regexp"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/service/policy"
	"github.com/urfave/cli/v3"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// AppConfig represents the application configuration file
type AppConfig struct {
	Policy PolicyConfig `toml:"policy"`
	Seed   *SeedConfig  `toml:"seed"`
}

type PolicyConfig struct {
	Patterns []policy.Pattern `toml:"pattern"`
}

// Validate compiles every pattern once so a bad regex fails at load time.
func (p *PolicyConfig) Validate() error {
	if _, err := policy.NewDetector(p.Patterns...); err != nil {
		return goerr.Wrap(ErrInvalidPattern, "failed to compile policy patterns", goerr.V("cause", err.Error()))
	}
	return nil
}

// SeedConfig describes the directory of one org: its numbers, client
// contacts, sitters, threads and assignment windows.
type SeedConfig struct {
	OrgID    string        `toml:"org_id"`
	Numbers  []SeedNumber  `toml:"number"`
	Contacts []SeedContact `toml:"contact"`
	Sitters  []SeedSitter  `toml:"sitter"`
	Threads  []SeedThread  `toml:"thread"`
	Windows  []SeedWindow  `toml:"window"`
}

type SeedNumber struct {
	E164  string `toml:"e164"`
	Class string `toml:"class"`
}

func (n *SeedNumber) Validate() error {
	if !e164Pattern.MatchString(n.E164) {
		return goerr.Wrap(ErrInvalidE164, "invalid number", goerr.V(E164Key, n.E164))
	}
	if _, err := types.ParseNumberClass(n.Class); err != nil {
		return goerr.Wrap(ErrInvalidConfig, "invalid number class", goerr.V(E164Key, n.E164), goerr.V("class", n.Class))
	}
	return nil
}

type SeedContact struct {
	ClientID string `toml:"client_id"`
	E164     string `toml:"e164"`
	Primary  bool   `toml:"primary"`
}

func (c *SeedContact) Validate() error {
	if c.ClientID == "" {
		return goerr.Wrap(ErrInvalidConfig, "contact client_id is required", goerr.V(E164Key, c.E164))
	}
	if !e164Pattern.MatchString(c.E164) {
		return goerr.Wrap(ErrInvalidE164, "invalid contact number", goerr.V(E164Key, c.E164))
	}
	return nil
}

type SeedSitter struct {
	UserID string `toml:"user_id"`
	Name   string `toml:"name"`
}

func (s *SeedSitter) Validate() error {
	if s.UserID == "" {
		return goerr.Wrap(ErrInvalidConfig, "sitter user_id is required")
	}
	if s.Name == "" {
		return goerr.Wrap(ErrInvalidConfig, "sitter name is required", goerr.V(UserIDKey, s.UserID))
	}
	return nil
}

// SeedThread references its number by E.164 and its sitter by user ID. Key
// names the thread for windows in the same file.
type SeedThread struct {
	Key      string `toml:"key"`
	Number   string `toml:"number"`
	ClientID string `toml:"client_id"`
	Type     string `toml:"type"`
	Sitter   string `toml:"sitter"`
}

type SeedWindow struct {
	Thread     string    `toml:"thread"`
	Sitter     string    `toml:"sitter"`
	StartsAt   time.Time `toml:"starts_at"`
	EndsAt     time.Time `toml:"ends_at"`
	BookingRef string    `toml:"booking_ref"`
}

// Validate checks field formats and that every reference points at an
// entry of the same file.
func (s *SeedConfig) Validate() error {
	if s.OrgID == "" {
		return goerr.Wrap(ErrInvalidConfig, "seed org_id is required")
	}

	numbers := make(map[string]bool)
	for _, n := range s.Numbers {
		if err := n.Validate(); err != nil {
			return err
		}
		if numbers[n.E164] {
			return goerr.Wrap(ErrDuplicateEntry, "duplicate number", goerr.V(E164Key, n.E164))
		}
		numbers[n.E164] = true
	}

	for _, c := range s.Contacts {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	sitters := make(map[string]bool)
	for _, st := range s.Sitters {
		if err := st.Validate(); err != nil {
			return err
		}
		if sitters[st.UserID] {
			return goerr.Wrap(ErrDuplicateEntry, "duplicate sitter", goerr.V(UserIDKey, st.UserID))
		}
		sitters[st.UserID] = true
	}

	threads := make(map[string]bool)
	for _, t := range s.Threads {
		if t.Key == "" {
			return goerr.Wrap(ErrInvalidConfig, "thread key is required")
		}
		if threads[t.Key] {
			return goerr.Wrap(ErrDuplicateEntry, "duplicate thread key", goerr.V(ThreadKeyKey, t.Key))
		}
		threads[t.Key] = true

		if !numbers[t.Number] {
			return goerr.Wrap(ErrUnknownReference, "thread number is not seeded", goerr.V(ThreadKeyKey, t.Key), goerr.V(E164Key, t.Number))
		}
		if t.ClientID == "" {
			return goerr.Wrap(ErrInvalidConfig, "thread client_id is required", goerr.V(ThreadKeyKey, t.Key))
		}
		if _, err := types.ParseThreadType(t.Type); err != nil {
			return goerr.Wrap(ErrInvalidConfig, "invalid thread type", goerr.V(ThreadKeyKey, t.Key), goerr.V("type", t.Type))
		}
		if t.Sitter != "" && !sitters[t.Sitter] {
			return goerr.Wrap(ErrUnknownReference, "thread sitter is not seeded", goerr.V(ThreadKeyKey, t.Key), goerr.V(UserIDKey, t.Sitter))
		}
	}

	for i, w := range s.Windows {
		if !threads[w.Thread] {
			return goerr.Wrap(ErrUnknownReference, "window thread is not seeded", goerr.V("window_index", i), goerr.V(ThreadKeyKey, w.Thread))
		}
		if !sitters[w.Sitter] {
			return goerr.Wrap(ErrUnknownReference, "window sitter is not seeded", goerr.V("window_index", i), goerr.V(UserIDKey, w.Sitter))
		}
		if w.StartsAt.IsZero() || w.EndsAt.IsZero() {
			return goerr.Wrap(ErrInvalidConfig, "window starts_at and ends_at are required", goerr.V("window_index", i))
		}
		if !w.EndsAt.After(w.StartsAt) {
			return goerr.Wrap(ErrInvalidConfig, "window must end after it starts", goerr.V("window_index", i))
		}
	}

	return nil
}

// Validate checks if the AppConfig is valid
func (a *AppConfig) Validate() error {
	if err := a.Policy.Validate(); err != nil {
		return goerr.Wrap(err, "invalid policy configuration")
	}
	if a.Seed != nil {
		if err := a.Seed.Validate(); err != nil {
			return goerr.Wrap(err, "invalid seed configuration")
		}
	}
	return nil
}

// LoadAppConfiguration loads the application configuration from a TOML file
func LoadAppConfiguration(path string) (*AppConfig, error) {
	// #nosec G304 - path is expected to be provided by CLI argument
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrConfigNotFound, "failed to read config file", goerr.V(ConfigPathKey, path))
		}
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V(ConfigPathKey, path))
	}

	var config AppConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, goerr.Wrap(err, "failed to parse TOML config", goerr.V(ConfigPathKey, path))
	}

	if err := config.Validate(); err != nil {
		return nil, goerr.Wrap(err, "config validation failed", goerr.V(ConfigPathKey, path))
	}

	return &config, nil
}

// File holds the --config flag
type File struct {
	path string
}

func (x *File) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the TOML configuration file (policy patterns and seed data)",
			Sources:     cli.EnvVars("SWITCHBOARD_CONFIG"),
			Destination: &x.path,
		},
	}
}

func (x *File) Path() string {
	return x.path
}

// Load reads the configuration file. Without --config it returns an empty
// configuration.
func (x *File) Load() (*AppConfig, error) {
	if x.path == "" {
		return &AppConfig{}, nil
	}
	return LoadAppConfiguration(x.path)
}
