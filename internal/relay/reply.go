package relay

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

// handleReply relays an owner message back to the end user it concerns.
// Returns handled=false when the message is not an owner reply, letting
// the caller fall through to the forward path.
func (e *Engine) handleReply(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) (bool, error) {
	if !e.shouldProcessReply(bot, msg) {
		return false, nil
	}

	var (
		chat    *database.FeedbackChat
		replyTo int64
	)

	if msg.ReplyToMessage != nil {
		mapping, err := e.store.MappingByOwnerMessage(ctx, bot.ID, int64(msg.ReplyToMessage.ID), false)
		if err != nil {
			return false, fmt.Errorf("failed to resolve cited message: %w", err)
		}
		if mapping != nil {
			chat = &mapping.Chat
			replyTo = mapping.UserMessageID
		}
	}

	if chat == nil {
		if !threadReplyCandidate(bot, msg) {
			return false, nil
		}
		resolved, err := e.store.GetChatByTopic(ctx, bot.ID, int64(msg.MessageThreadID))
		if err != nil {
			return false, fmt.Errorf("failed to resolve topic chat: %w", err)
		}
		if resolved == nil {
			return false, nil
		}
		chat = resolved
	}

	// copy, never forward: forwarding would leak the owner's identity
	copyID, err := client.CopyMessage(ctx, platform.CopyOptions{
		ChatID:     chat.UserTelegramID,
		FromChatID: msg.Chat.ID,
		MessageID:  int64(msg.ID),
		ReplyTo:    replyTo,
	})
	if err != nil {
		return true, err
	}

	if err := e.store.UpsertMapping(ctx, bot.ID, chat.ID, copyID, int64(msg.ID), true); err != nil {
		return true, fmt.Errorf("failed to record reply mapping: %w", err)
	}
	if err := e.store.BumpOutgoing(ctx, bot.ID); err != nil {
		e.logger.WarnContext(ctx, "Failed to bump outgoing counter", "bot_id", bot.ID, "error", err)
	}

	if err := client.SetMessageReaction(ctx, msg.Chat.ID, int64(msg.ID), receiptReactionEmoji); err != nil {
		e.logger.WarnContext(ctx, "Failed to set receipt reaction", "bot_id", bot.ID, "error", err)
	}
	return true, nil
}

// shouldProcessReply filters out messages that cannot be owner replies:
// private-chat messages from non-owners, and citations of ordinary
// messages that were never relayed by this bot.
func (e *Engine) shouldProcessReply(bot *database.Bot, msg *models.Message) bool {
	if msg.Chat.Type == models.ChatTypePrivate && msg.From != nil && msg.From.ID != bot.OwnerID {
		return false
	}

	replied := msg.ReplyToMessage
	if replied == nil {
		return threadReplyCandidate(bot, msg)
	}
	if replied.ForwardOrigin != nil {
		return true
	}
	return replied.From != nil && replied.From.ID == bot.TelegramID
}
