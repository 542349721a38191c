// Package slack posts alert notifications to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/slack-go/slack"
	"github.com/snoutos/switchboard/pkg/domain/interfaces"
	"github.com/snoutos/switchboard/pkg/domain/model"
	"github.com/snoutos/switchboard/pkg/domain/types"
	"github.com/snoutos/switchboard/pkg/utils/logging"
)

// maxSectionBytes is the Slack limit of a section block text.
const maxSectionBytes = 3000

// Notifier implements interfaces.AlertNotifier on chat.postMessage.
type Notifier struct {
	api       *slack.Client
	channelID string
	baseURL   string
}

var _ interfaces.AlertNotifier = &Notifier{}

// Option is a functional option for Notifier configuration
type Option func(*notifierConfig)

type notifierConfig struct {
	apiURL  string
	baseURL string
}

// WithAPIURL points the client at another Slack API endpoint.
func WithAPIURL(url string) Option {
	return func(c *notifierConfig) {
		c.apiURL = url
	}
}

// WithDashboardURL adds a link to the alert in the dashboard served at url.
func WithDashboardURL(url string) Option {
	return func(c *notifierConfig) {
		c.baseURL = url
	}
}

// New creates a notifier posting to channelID with the provided bot token
func New(token, channelID string, opts ...Option) (*Notifier, error) {
	if token == "" {
		return nil, goerr.New("Slack bot token is required")
	}
	if channelID == "" {
		return nil, goerr.New("Slack channel ID is required")
	}

	var cfg notifierConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var apiOpts []slack.Option
	if cfg.apiURL != "" {
		apiOpts = append(apiOpts, slack.OptionAPIURL(cfg.apiURL))
	}

	return &Notifier{
		api:       slack.New(token, apiOpts...),
		channelID: channelID,
		baseURL:   cfg.baseURL,
	}, nil
}

func (n *Notifier) NotifyAlert(ctx context.Context, alert *model.Alert) error {
	text := fmt.Sprintf("[%s] %s", alert.Severity, alert.Title)

	_, ts, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionBlocks(n.alertBlocks(alert)...),
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return goerr.Wrap(err, "failed to post alert to Slack",
			goerr.V("alert_id", alert.ID), goerr.V("channel_id", n.channelID))
	}

	logging.From(ctx).Info("alert posted to Slack", "alert_id", alert.ID, "ts", ts)
	return nil
}

func (n *Notifier) alertBlocks(alert *model.Alert) []slack.Block {
	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType,
		severityEmoji(alert.Severity)+" "+truncateToMaxBytes(alert.Title, 140), true, false))

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*Type*\n"+alert.Type, false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Severity*\n"+alert.Severity.String(), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Entity*\n"+alert.EntityType+" `"+alert.EntityID+"`", false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Org*\n`"+alert.OrgID+"`", false, false),
	}

	blocks := []slack.Block{header, slack.NewSectionBlock(nil, fields, nil)}

	if alert.Description != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, truncateToMaxBytes(alert.Description, maxSectionBytes), false, false),
			nil, nil))
	}

	if n.baseURL != "" {
		link := fmt.Sprintf("<%s/orgs/%s/alerts/%s|Open alert>", n.baseURL, alert.OrgID, alert.ID)
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, link, false, false)))
	}

	return blocks
}

func severityEmoji(s types.AlertSeverity) string {
	switch s {
	case types.AlertSeverityCritical:
		return ":rotating_light:"
	case types.AlertSeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// truncateToMaxBytes cuts s to at most maxBytes without splitting a UTF-8
// sequence, marking the cut with an ellipsis.
func truncateToMaxBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const ellipsis = "…"
	cut := maxBytes - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
