package slackapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// PostMessage posts text to a channel. A non-empty messageType is attached as
// an invisible attachment whose fallback lets later runs recognise the post.
func (c *Client) PostMessage(ctx context.Context, channelID, text, messageType string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if c.botName != "" {
		opts = append(opts, slack.MsgOptionUsername(c.botName))
	}
	if c.botIcon != "" {
		opts = append(opts, slack.MsgOptionIconURL(c.botIcon))
	}
	if messageType != "" {
		opts = append(opts, slack.MsgOptionAttachments(slack.Attachment{Fallback: messageType}))
	}

	if _, _, err := c.api.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("post message to %s: %w", channelID, apiError("chat.postMessage", err))
	}
	return nil
}

// Archive archives a channel.
func (c *Client) Archive(ctx context.Context, channelID string) error {
	if err := c.api.ArchiveConversationContext(ctx, channelID); err != nil {
		return fmt.Errorf("archive %s: %w", channelID, apiError("conversations.archive", err))
	}
	return nil
}

// Emoji returns the workspace's custom emoji table. Aliases have values of
// the form "alias:<target>".
func (c *Client) Emoji(ctx context.Context) (map[string]string, error) {
	emoji, err := c.api.GetEmojiContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list emoji: %w", apiError("emoji.list", err))
	}
	return emoji, nil
}

// apiError maps slack-go's error response type onto *APIError so callers
// only need to know about this package's errors.
func apiError(method string, err error) error {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return &APIError{Method: method, Code: resp.Err}
	}
	return err
}
