// Package slack posts run summaries to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/datayard/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// client is the part of the Slack API used here, so tests can fake it.
type client interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier posts notes as message attachments.
type Notifier struct {
	client    client
	channelID string
}

// Opts configures a Notifier.
type Opts struct {
	BotToken  string // xoxb-... bot token
	ChannelID string
	// Client replaces the real API, for tests.
	Client client
}

// New returns a Notifier posting to opts.ChannelID.
func New(opts Opts) (*Notifier, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	c := opts.Client
	if c == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("slack: bot token is required")
		}
		c = slackapi.New(opts.BotToken)
	}
	return &Notifier{client: c, channelID: opts.ChannelID}, nil
}

// Notify posts n to the channel.
func (s *Notifier) Notify(ctx context.Context, n notify.Note) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(n.Title, false),
		slackapi.MsgOptionAttachments(toAttachment(n)),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, err := s.client.PostMessage(s.channelID, options...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func toAttachment(n notify.Note) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    n.Title,
		Text:     "```" + n.Body + "```",
		Color:    n.Color,
		Fallback: n.Title,
	}
	if n.Body == "" {
		att.Text = ""
	}
	for _, f := range n.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors, waiting
// the RetryAfter Slack asks for.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
