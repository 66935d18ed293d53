package relay

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

const (
	defaultStartMessage    = "Hello! Send me a message and I will forward it to my owner."
	defaultAckMessage      = "Thanks for your feedback!"
	supergroupIDOffset     = int64(1_000_000_000_000)
	maxTopicTitleLength    = 64
	receiptReactionEmoji   = "\U0001F44D"
	editedNoticeWithLink   = "User updated their message. New copy: %s"
	editedNoticeGeneric    = "User updated their message."
	missingTargetMessage   = "Reply to a forwarded message or pass a numeric user ID."
	antifloodWarningFormat = "Too many messages. Please wait %d seconds before sending again."
)

// mediaOf returns the media attached to msg, or MediaNone for plain text.
// Only the kinds relevant to relay policy and edits are distinguished.
func mediaOf(msg *models.Message) platform.Media {
	switch {
	case len(msg.Photo) > 0:
		// largest size last
		return platform.Media{Kind: platform.MediaPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID, Caption: msg.Caption}
	case msg.Video != nil:
		return platform.Media{Kind: platform.MediaVideo, FileID: msg.Video.FileID, Caption: msg.Caption}
	case msg.Voice != nil:
		return platform.Media{Kind: platform.MediaVoice, FileID: msg.Voice.FileID, Caption: msg.Caption}
	case msg.Audio != nil:
		return platform.Media{Kind: platform.MediaAudio, FileID: msg.Audio.FileID, Caption: msg.Caption}
	case msg.Document != nil:
		return platform.Media{Kind: platform.MediaDocument, FileID: msg.Document.FileID, Caption: msg.Caption}
	case msg.Sticker != nil:
		return platform.Media{Kind: platform.MediaSticker, FileID: msg.Sticker.FileID, Caption: msg.Caption}
	default:
		return platform.Media{}
	}
}

// blockedMediaText returns the policy rejection text when the message
// carries media the bot does not accept, empty otherwise.
func blockedMediaText(bot *database.Bot, msg *models.Message) string {
	switch mediaOf(msg).Kind {
	case platform.MediaPhoto:
		if !bot.AllowPhotoMessages {
			return "This bot does not accept photos."
		}
	case platform.MediaVideo:
		if !bot.AllowVideoMessages {
			return "This bot does not accept videos."
		}
	case platform.MediaVoice:
		if !bot.AllowVoiceMessages {
			return "This bot does not accept voice messages."
		}
	case platform.MediaDocument:
		if !bot.AllowDocumentMessages {
			return "This bot does not accept documents."
		}
	case platform.MediaSticker:
		if !bot.AllowStickerMessages {
			return "This bot does not accept stickers."
		}
	}
	return ""
}

func userFullName(u *models.User) string {
	if u == nil {
		return ""
	}
	if u.LastName != "" {
		return strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return u.FirstName
}

func chatFullName(c models.Chat) string {
	if c.LastName != "" {
		return strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	return c.FirstName
}

func standardDisplayName(msg *models.Message) string {
	candidates := []string{
		chatFullName(msg.Chat),
		msg.Chat.Title,
		msg.Chat.Username,
		userFullName(msg.From),
	}
	if msg.From != nil {
		candidates = append(candidates, msg.From.Username, fmt.Sprintf("%d", msg.From.ID))
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return "User"
}

func privateDisplayName(msg *models.Message) string {
	candidates := []string{
		userFullName(msg.From),
		chatFullName(msg.Chat),
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return "User"
}

// topicTitle names the discussion thread for one end user, revealing only
// what the bot's communication mode allows.
func topicTitle(bot *database.Bot, msg *models.Message, chat *database.FeedbackChat) string {
	var title string
	switch bot.CommunicationMode {
	case database.ModeAnonymous:
		title = fmt.Sprintf("#%d", chat.ID)
	case database.ModePrivate:
		title = privateDisplayName(msg)
	default:
		title = standardDisplayName(msg)
	}
	if title == "" {
		title = fmt.Sprintf("#%d", chat.ID)
	}
	if runes := []rune(title); len(runes) > maxTopicTitleLength {
		title = string(runes[:maxTopicTitleLength])
	}
	return title
}

// introLines builds the HTML lines of the message opening a user's thread.
func introLines(bot *database.Bot, msg *models.Message, chat *database.FeedbackChat) []string {
	if bot.CommunicationMode == database.ModeAnonymous {
		return []string{html.EscapeString(fmt.Sprintf("#%d", chat.ID))}
	}

	lines := []string{html.EscapeString(topicTitle(bot, msg, chat))}
	if bot.CommunicationMode == database.ModePrivate {
		return lines
	}

	if msg.From != nil {
		if msg.From.Username != "" {
			lines = append(lines, "@"+html.EscapeString(msg.From.Username))
		}
		lines = append(lines, fmt.Sprintf(`<a href="tg://user?id=%d">%d</a>`, msg.From.ID, msg.From.ID))
	}
	return lines
}

// anonymizeSender reports whether relayed messages must hide the sender
// header: private and anonymous bots copy instead of forwarding.
func anonymizeSender(bot *database.Bot) bool {
	return bot.CommunicationMode == database.ModePrivate || bot.CommunicationMode == database.ModeAnonymous
}

// messageTime is the antiflood clock: the message's own timestamp, so
// out-of-order webhook delivery is judged consistently.
func messageTime(msg *models.Message, fallback time.Time) time.Time {
	if msg.Date == 0 {
		return fallback.UTC()
	}
	return time.Unix(int64(msg.Date), 0).UTC()
}

// messageLink returns the t.me link of a message in a supergroup, or the
// empty string when the chat has no public message links.
func messageLink(chatID, messageID int64) string {
	if chatID >= -supergroupIDOffset {
		return ""
	}
	internal := -chatID - supergroupIDOffset
	return fmt.Sprintf("https://t.me/c/%d/%d", internal, messageID)
}
