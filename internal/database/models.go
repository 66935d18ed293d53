package database

import (
	"database/sql"
	"time"
)

// CommunicationMode controls how much of an end user's identity is exposed
// to the bot owner when feedback is relayed.
type CommunicationMode string

const (
	// ModeStandard forwards messages natively, keeping the sender header.
	ModeStandard CommunicationMode = "standard"
	// ModePrivate copies messages and only shows the sender's personal name.
	ModePrivate CommunicationMode = "private"
	// ModeAnonymous copies messages and identifies users by an opaque number.
	ModeAnonymous CommunicationMode = "anonymous"
)

// Bot is one owner-configured feedback bot (a tenant). Many bots are
// multiplexed behind the shared webhook endpoint; each carries its own
// relay policy.
//
// Token holds the sealed (encrypted) bot token. Callers that need the
// plaintext must open it explicitly through secrets.Box.
type Bot struct {
	ID         int64  `db:"id"`
	UUID       string `db:"uuid"`
	TelegramID int64  `db:"telegram_id"`
	Username   string `db:"username"`
	Name       string `db:"name"`
	OwnerID    int64  `db:"owner_id"`
	Token      string `db:"token"`

	ForwardChatID sql.NullInt64 `db:"forward_chat_id"`

	StartMessage            string `db:"start_message"`
	FeedbackReceivedMessage string `db:"feedback_received_message"`

	AllowPhotoMessages    bool `db:"allow_photo_messages"`
	AllowVideoMessages    bool `db:"allow_video_messages"`
	AllowVoiceMessages    bool `db:"allow_voice_messages"`
	AllowDocumentMessages bool `db:"allow_document_messages"`
	AllowStickerMessages  bool `db:"allow_sticker_messages"`

	AntifloodEnabled bool `db:"antiflood_enabled"`
	AntifloodSeconds int  `db:"antiflood_seconds"`

	CommunicationMode CommunicationMode `db:"communication_mode"`
	Enabled           bool              `db:"enabled"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DestinationChatID returns the chat feedback is relayed to: the configured
// group when one is linked, otherwise the owner's private chat.
func (b *Bot) DestinationChatID() int64 {
	if b.ForwardChatID.Valid {
		return b.ForwardChatID.Int64
	}
	return b.OwnerID
}

// HasGroupDestination reports whether feedback lands in a linked group
// rather than the owner's private chat.
func (b *Bot) HasGroupDestination() bool {
	return b.ForwardChatID.Valid
}

// CooldownSeconds returns the antiflood window, coerced to at least one
// second so a zero value can never disable the throttle.
func (b *Bot) CooldownSeconds() int {
	if b.AntifloodSeconds < 1 {
		return 1
	}
	return b.AntifloodSeconds
}

// FeedbackChat tracks one end user's conversation with one bot.
type FeedbackChat struct {
	ID             int64  `db:"id"`
	BotID          int64  `db:"bot_id"`
	UserTelegramID int64  `db:"user_telegram_id"`
	Username       string `db:"username"`

	TopicID        sql.NullInt64 `db:"topic_id"`
	LastFeedbackAt sql.NullTime  `db:"last_feedback_at"`
	LastWarningAt  sql.NullTime  `db:"last_warning_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// MessageMapping links a message in the end user's private chat to its
// relayed copy on the owner's side. Outgoing marks owner->user replies;
// incoming relays leave it false.
type MessageMapping struct {
	ID             int64     `db:"id"`
	BotID          int64     `db:"bot_id"`
	ChatID         int64     `db:"chat_id"`
	UserMessageID  int64     `db:"user_message_id"`
	OwnerMessageID int64     `db:"owner_message_id"`
	Outgoing       bool      `db:"outgoing"`
	CreatedAt      time.Time `db:"created_at"`
}

// MappingWithChat is a mapping joined with its feedback chat, used where a
// resolved mapping must also identify the end user.
type MappingWithChat struct {
	MessageMapping
	Chat FeedbackChat `db:"chat"`
}

// BannedUser is an end user banned from one bot.
type BannedUser struct {
	ID             int64     `db:"id"`
	BotID          int64     `db:"bot_id"`
	UserTelegramID int64     `db:"user_telegram_id"`
	Reason         string    `db:"reason"`
	CreatedAt      time.Time `db:"created_at"`
}

// BotStats keeps per-bot relay counters.
type BotStats struct {
	BotID            int64 `db:"bot_id"`
	IncomingMessages int64 `db:"incoming_messages"`
	OutgoingMessages int64 `db:"outgoing_messages"`
}

// BroadcastMessage is the audit record of one delivered broadcast copy.
type BroadcastMessage struct {
	ID        int64         `db:"id"`
	BotID     sql.NullInt64 `db:"bot_id"`
	ChatID    int64         `db:"chat_id"`
	MessageID int64         `db:"message_id"`
	CreatedAt time.Time     `db:"created_at"`
}

// TargetFilter narrows the set of feedback chats a broadcast goes to.
// Nil pointer fields are unset; the zero value applies no restriction.
type TargetFilter struct {
	JoinedAfter  *time.Time
	JoinedBefore *time.Time
	ActiveAfter  *time.Time
	UsernameOnly bool
	SampleEvery  int
}
