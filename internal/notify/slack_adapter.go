package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/d0labs/aof/internal/logging"
)

// SlackAdapter posts notifications to a Slack channel via a bot token.
type SlackAdapter struct {
	client  *slack.Client
	channel string
	logger  logging.Logger
}

// NewSlackAdapter returns a SlackAdapter posting to channel using token.
func NewSlackAdapter(token, channel string, logger logging.Logger) *SlackAdapter {
	return &SlackAdapter{
		client:  slack.New(token),
		channel: channel,
		logger:  logging.OrNop(logger),
	}
}

func (a *SlackAdapter) Name() string { return "slack" }

func (a *SlackAdapter) Send(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("*%s*\n%s", n.Title, n.Body)
	_, _, err := a.client.PostMessageContext(ctx, a.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	a.logger.Debug("notify: posted %s to slack channel %s", n.EventType, a.channel)
	return nil
}
