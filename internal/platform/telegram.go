package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// telegramClient implements Client on top of the go-telegram/bot SDK.
type telegramClient struct {
	bot *tgbot.Bot
}

// NewTelegramClient creates a Client for one bot token. GetMe is skipped so
// construction stays a pure local operation; tokens are only exercised on
// the first real call.
func NewTelegramClient(token string) (Client, error) {
	b, err := tgbot.New(token, tgbot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return &telegramClient{bot: b}, nil
}

func (c *telegramClient) SendMessage(ctx context.Context, opts SendOptions) (int64, error) {
	params := &tgbot.SendMessageParams{
		ChatID:          opts.ChatID,
		MessageThreadID: int(opts.TopicID),
		Text:            opts.Text,
	}
	if opts.HTML {
		params.ParseMode = models.ParseModeHTML
	}
	if opts.NoLinkPreview {
		disabled := true
		params.LinkPreviewOptions = &models.LinkPreviewOptions{IsDisabled: &disabled}
	}
	if opts.ReplyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                int(opts.ReplyTo),
			AllowSendingWithoutReply: true,
		}
	}

	msg, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, classify(err)
	}
	return int64(msg.ID), nil
}

func (c *telegramClient) ForwardMessage(ctx context.Context, chatID, fromChatID, messageID, topicID int64) (int64, error) {
	msg, err := c.bot.ForwardMessage(ctx, &tgbot.ForwardMessageParams{
		ChatID:          chatID,
		MessageThreadID: int(topicID),
		FromChatID:      fromChatID,
		MessageID:       int(messageID),
	})
	if err != nil {
		return 0, classify(err)
	}
	return int64(msg.ID), nil
}

func (c *telegramClient) CopyMessage(ctx context.Context, opts CopyOptions) (int64, error) {
	params := &tgbot.CopyMessageParams{
		ChatID:          opts.ChatID,
		MessageThreadID: int(opts.TopicID),
		FromChatID:      opts.FromChatID,
		MessageID:       int(opts.MessageID),
	}
	if opts.ReplyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                int(opts.ReplyTo),
			AllowSendingWithoutReply: true,
		}
	}

	copied, err := c.bot.CopyMessage(ctx, params)
	if err != nil {
		return 0, classify(err)
	}
	return int64(copied.ID), nil
}

func (c *telegramClient) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := c.bot.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: int(messageID),
		Text:      text,
	})
	return classify(err)
}

func (c *telegramClient) EditMessageCaption(ctx context.Context, chatID, messageID int64, caption string) error {
	_, err := c.bot.EditMessageCaption(ctx, &tgbot.EditMessageCaptionParams{
		ChatID:    chatID,
		MessageID: int(messageID),
		Caption:   caption,
	})
	return classify(err)
}

func (c *telegramClient) EditMessageMedia(ctx context.Context, chatID, messageID int64, media Media) error {
	input, err := inputMedia(media)
	if err != nil {
		return err
	}
	_, err = c.bot.EditMessageMedia(ctx, &tgbot.EditMessageMediaParams{
		ChatID:    chatID,
		MessageID: int(messageID),
		Media:     input,
	})
	return classify(err)
}

func inputMedia(media Media) (models.InputMedia, error) {
	switch media.Kind {
	case MediaPhoto:
		return &models.InputMediaPhoto{Media: media.FileID, Caption: media.Caption}, nil
	case MediaVideo:
		return &models.InputMediaVideo{Media: media.FileID, Caption: media.Caption}, nil
	case MediaVoice, MediaAudio:
		return &models.InputMediaAudio{Media: media.FileID, Caption: media.Caption}, nil
	case MediaDocument:
		return &models.InputMediaDocument{Media: media.FileID, Caption: media.Caption}, nil
	default:
		return nil, fmt.Errorf("media kind %q cannot be edited in place", media.Kind)
	}
}

func (c *telegramClient) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	_, err := c.bot.DeleteMessage(ctx, &tgbot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: int(messageID),
	})
	return classify(err)
}

func (c *telegramClient) CreateForumTopic(ctx context.Context, chatID int64, name string) (int64, error) {
	topic, err := c.bot.CreateForumTopic(ctx, &tgbot.CreateForumTopicParams{
		ChatID: chatID,
		Name:   name,
	})
	if err != nil {
		return 0, classify(err)
	}
	return int64(topic.MessageThreadID), nil
}

func (c *telegramClient) SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error {
	_, err := c.bot.SetMessageReaction(ctx, &tgbot.SetMessageReactionParams{
		ChatID:    chatID,
		MessageID: int(messageID),
		Reaction: []models.ReactionType{
			{
				Type:              models.ReactionTypeTypeEmoji,
				ReactionTypeEmoji: &models.ReactionTypeEmoji{Type: "emoji", Emoji: emoji},
			},
		},
	})
	return classify(err)
}

func (c *telegramClient) SetWebhook(ctx context.Context, url, secretToken string) error {
	_, err := c.bot.SetWebhook(ctx, &tgbot.SetWebhookParams{
		URL:         url,
		SecretToken: secretToken,
	})
	return classify(err)
}

func (c *telegramClient) DeleteWebhook(ctx context.Context) error {
	_, err := c.bot.DeleteWebhook(ctx, &tgbot.DeleteWebhookParams{})
	return classify(err)
}

// classify maps SDK errors onto the platform error taxonomy. The Telegram
// Bot API communicates the interesting cases through the error description,
// so classification inspects it the same way clients of the HTTP API do.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var tooMany *tgbot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &Error{
			Kind:       KindRateLimited,
			RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	desc := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, tgbot.ErrorForbidden):
		// Blocked, kicked, or deactivated: this chat is gone for good.
		return &Error{Kind: KindPermanentChat, Err: err}

	case errors.Is(err, tgbot.ErrorTooManyRequests):
		return &Error{Kind: KindRateLimited, RetryAfter: time.Second, Err: err}

	case errors.Is(err, tgbot.ErrorBadRequest), errors.Is(err, tgbot.ErrorNotFound):
		switch {
		case strings.Contains(desc, "thread not found"),
			strings.Contains(desc, "thread") && strings.Contains(desc, "deleted"):
			return &Error{Kind: KindTopicMissing, Err: err}
		case strings.Contains(desc, "message to delete not found"),
			strings.Contains(desc, "message to edit not found"),
			strings.Contains(desc, "message not found"),
			strings.Contains(desc, "message can't be edited"):
			return &Error{Kind: KindMessageGone, Err: err}
		case strings.Contains(desc, "chat not found"),
			strings.Contains(desc, "user is deactivated"):
			return &Error{Kind: KindPermanentChat, Err: err}
		default:
			return &Error{Kind: KindRejected, Err: err}
		}

	default:
		return &Error{Kind: KindTransient, Err: err}
	}
}
