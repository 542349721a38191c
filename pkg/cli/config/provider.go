package config

import (
	"log/slog"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/service/provider"
	"github.com/snoutos/switchboard/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Provider holds CLI flags for the SMS provider
type Provider struct {
	backend        string
	accountSID     string
	authToken      string
	statusCallback string
	mockNumbers    []string
}

func (x *Provider) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "SMS provider (twilio or mock)",
			Category:    "Provider",
			Value:       "twilio",
			Sources:     cli.EnvVars("SWITCHBOARD_PROVIDER"),
			Destination: &x.backend,
		},
		&cli.StringFlag{
			Name:        "twilio-account-sid",
			Usage:       "Twilio account SID",
			Category:    "Provider",
			Sources:     cli.EnvVars("SWITCHBOARD_TWILIO_ACCOUNT_SID"),
			Destination: &x.accountSID,
		},
		&cli.StringFlag{
			Name:        "twilio-auth-token",
			Usage:       "Twilio auth token (also used to verify webhook signatures)",
			Category:    "Provider",
			Sources:     cli.EnvVars("SWITCHBOARD_TWILIO_AUTH_TOKEN"),
			Destination: &x.authToken,
		},
		&cli.StringFlag{
			Name:        "twilio-status-callback",
			Usage:       "URL Twilio posts delivery status callbacks to",
			Category:    "Provider",
			Sources:     cli.EnvVars("SWITCHBOARD_TWILIO_STATUS_CALLBACK"),
			Destination: &x.statusCallback,
		},
		&cli.StringSliceFlag{
			Name:        "mock-number",
			Usage:       "Number the mock provider accepts as a sender (repeatable)",
			Category:    "Provider",
			Sources:     cli.EnvVars("SWITCHBOARD_MOCK_NUMBERS"),
			Destination: &x.mockNumbers,
		},
	}
}

func (x Provider) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("backend", x.backend),
		slog.String("account_sid", x.accountSID),
		slog.Int("auth_token.len", len(x.authToken)),
		slog.String("status_callback", x.statusCallback),
	)
}

// SetStatusCallback sets the callback URL when none was given explicitly.
func (x *Provider) SetStatusCallback(url string) {
	if x.statusCallback == "" {
		x.statusCallback = url
	}
}

func (x *Provider) Configure() (interfaces.Provider, error) {
	switch strings.ToLower(x.backend) {
	case "twilio":
		var opts []provider.TwilioOption
		if x.statusCallback != "" {
			opts = append(opts, provider.WithStatusCallback(x.statusCallback))
		}
		p, err := provider.NewTwilio(x.accountSID, x.authToken, opts...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to configure Twilio provider")
		}
		logging.Default().Info("Using Twilio provider", "account_sid", x.accountSID)
		return p, nil

	case "mock":
		opts := []provider.MockOption{provider.WithNumbers(x.mockNumbers...)}
		if x.authToken != "" {
			opts = append(opts, provider.WithMockAuthToken(x.authToken))
		}
		logging.Default().Warn("Using mock provider, messages are not delivered")
		return provider.NewMock(opts...), nil

	default:
		return nil, goerr.New("invalid provider", goerr.V("provider", x.backend))
	}
}
