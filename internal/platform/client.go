// Package platform abstracts the messaging platform behind a Client
// interface plus an error taxonomy, so the relay engine never touches the
// SDK directly.
package platform

import "context"

// MediaKind identifies the media attached to a message, used for edit
// re-delivery and media policy checks.
type MediaKind string

const (
	MediaNone     MediaKind = ""
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaVoice    MediaKind = "voice"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// Media references an uploaded file for in-place media edits.
type Media struct {
	Kind    MediaKind
	FileID  string
	Caption string
}

// SendOptions configures a plain text send.
type SendOptions struct {
	ChatID        int64
	Text          string
	TopicID       int64 // discussion thread, 0 for none
	ReplyTo       int64 // message id to reply to, 0 for none
	HTML          bool
	NoLinkPreview bool
}

// CopyOptions configures copying a message without its sender header.
type CopyOptions struct {
	ChatID     int64
	FromChatID int64
	MessageID  int64
	TopicID    int64
	ReplyTo    int64 // best effort, sending proceeds if the target is gone
}

// Client is the messaging platform surface the relay engine depends on.
// All calls are synchronous request/response; errors carry a Kind (see
// errors.go) so callers can branch on transient vs permanent failures.
type Client interface {
	// SendMessage sends a text message and returns the new message id.
	SendMessage(ctx context.Context, opts SendOptions) (int64, error)

	// ForwardMessage forwards a message natively, keeping its sender
	// header, and returns the forwarded copy's id.
	ForwardMessage(ctx context.Context, chatID, fromChatID, messageID, topicID int64) (int64, error)

	// CopyMessage re-sends a message's content without any sender header
	// and returns the copy's id.
	CopyMessage(ctx context.Context, opts CopyOptions) (int64, error)

	// EditMessageText replaces the text of an already sent message.
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error

	// EditMessageCaption replaces the caption of an already sent message.
	EditMessageCaption(ctx context.Context, chatID, messageID int64, caption string) error

	// EditMessageMedia replaces the media of an already sent message.
	EditMessageMedia(ctx context.Context, chatID, messageID int64, media Media) error

	// DeleteMessage deletes a message. Deleting an already removed message
	// fails with a message-gone error the caller may treat as success.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// CreateForumTopic creates a discussion thread in a group and returns
	// its thread id.
	CreateForumTopic(ctx context.Context, chatID int64, name string) (int64, error)

	// SetMessageReaction puts a single emoji reaction on a message.
	SetMessageReaction(ctx context.Context, chatID, messageID int64, emoji string) error

	// SetWebhook points the bot's webhook at url, protected by secretToken.
	SetWebhook(ctx context.Context, url, secretToken string) error

	// DeleteWebhook removes the bot's webhook.
	DeleteWebhook(ctx context.Context) error
}
