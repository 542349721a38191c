package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/snoutos/switchboard/pkg/service/slack"
	"github.com/urfave/cli/v3"
)

// Slack holds CLI flags for alert notifications
type Slack struct {
	botToken     string
	channelID    string
	dashboardURL string
}

func (x *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-bot-token",
			Usage:       "Slack Bot User OAuth Token for alert notifications",
			Category:    "Slack",
			Destination: &x.botToken,
			Sources:     cli.EnvVars("SWITCHBOARD_SLACK_BOT_TOKEN"),
		},
		&cli.StringFlag{
			Name:        "slack-alert-channel",
			Usage:       "Slack channel ID alerts are posted to",
			Category:    "Slack",
			Destination: &x.channelID,
			Sources:     cli.EnvVars("SWITCHBOARD_SLACK_ALERT_CHANNEL"),
		},
		&cli.StringFlag{
			Name:        "dashboard-url",
			Usage:       "Base URL of the operator dashboard, linked from alert notifications",
			Category:    "Slack",
			Destination: &x.dashboardURL,
			Sources:     cli.EnvVars("SWITCHBOARD_DASHBOARD_URL"),
		},
	}
}

func (x Slack) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("bot-token.len", len(x.botToken)),
		slog.String("channel", x.channelID),
	)
}

// IsConfigured reports whether alert notifications are enabled.
func (x *Slack) IsConfigured() bool {
	return x.botToken != "" && x.channelID != ""
}

// Configure returns the alert notifier, or nil when Slack is not configured.
func (x *Slack) Configure() (*slack.Notifier, error) {
	if !x.IsConfigured() {
		if x.botToken != "" || x.channelID != "" {
			return nil, goerr.New("both --slack-bot-token and --slack-alert-channel are required for alert notifications")
		}
		return nil, nil
	}

	var opts []slack.Option
	if x.dashboardURL != "" {
		opts = append(opts, slack.WithDashboardURL(x.dashboardURL))
	}
	notifier, err := slack.New(x.botToken, x.channelID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to configure slack notifier")
	}
	return notifier, nil
}
