package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// slackPoster is the slice of the Slack API the notifier needs.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifierConfig configures signup notifications to a Slack
// channel.
type SlackNotifierConfig struct {
	Logger   *slog.Logger
	BotToken string
	Channel  string
}

func (cfg *SlackNotifierConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BotToken == "" {
		return errors.New("bot token is required")
	}
	if cfg.Channel == "" {
		return errors.New("channel is required")
	}
	return nil
}

// SlackNotifier posts signup events to an admin channel.
type SlackNotifier struct {
	log     *slog.Logger
	client  slackPoster
	channel string
}

func NewSlackNotifier(cfg SlackNotifierConfig) (*SlackNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackNotifier{
		log:     cfg.Logger,
		client:  slack.New(cfg.BotToken),
		channel: cfg.Channel,
	}, nil
}

// NotifySignup posts a UUID reminder notice. Failures are logged and
// swallowed; Slack being down must not break signups.
func (n *SlackNotifier) NotifySignup(ctx context.Context, login, recipient string) {
	text := fmt.Sprintf("UUID reminder requested for `%s` (%s)", login, recipient)
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		n.log.Warn("notify: failed to post to slack", "login", login, "error", err)
		return
	}
	n.log.Debug("notify: posted signup notice", "login", login)
}
