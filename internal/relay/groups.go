package relay

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

// handleMembershipChange links the bot's feedback destination to a group
// it was added to, and unlinks when it is removed.
func (e *Engine) handleMembershipChange(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if msg.Chat.Type != models.ChatTypeGroup && msg.Chat.Type != models.ChatTypeSupergroup {
		return nil
	}

	for _, member := range msg.NewChatMembers {
		if member.ID == bot.TelegramID {
			return e.linkGroup(ctx, bot, client, msg)
		}
	}
	if msg.LeftChatMember != nil && msg.LeftChatMember.ID == bot.TelegramID {
		return e.unlinkGroup(ctx, bot, client, msg)
	}
	return nil
}

func (e *Engine) linkGroup(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if bot.ForwardChatID.Valid && bot.ForwardChatID.Int64 == msg.Chat.ID {
		return nil
	}

	chatID := msg.Chat.ID
	changed, err := e.store.SetForwardChat(ctx, bot.TelegramID, &chatID)
	if err != nil {
		return fmt.Errorf("failed to link group: %w", err)
	}
	if !changed {
		return nil
	}
	bot.ForwardChatID.Int64 = chatID
	bot.ForwardChatID.Valid = true

	e.logger.InfoContext(ctx, "Linked feedback group", "bot_id", bot.ID, "chat_id", chatID)

	text := fmt.Sprintf("%s will forward feedback to %s.", botDisplayName(bot), groupDisplayName(msg.Chat))
	if _, err := client.SendMessage(ctx, platform.SendOptions{ChatID: chatID, Text: text}); err != nil {
		e.logger.WarnContext(ctx, "Failed to announce group link", "bot_id", bot.ID, "error", err)
	}
	return nil
}

func (e *Engine) unlinkGroup(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if !bot.ForwardChatID.Valid || bot.ForwardChatID.Int64 != msg.Chat.ID {
		return nil
	}

	changed, err := e.store.SetForwardChat(ctx, bot.TelegramID, nil)
	if err != nil {
		return fmt.Errorf("failed to unlink group: %w", err)
	}
	if !changed {
		return nil
	}
	bot.ForwardChatID.Valid = false

	e.logger.InfoContext(ctx, "Unlinked feedback group", "bot_id", bot.ID, "chat_id", msg.Chat.ID)

	text := fmt.Sprintf("%s has been unlinked from %s.", botDisplayName(bot), groupDisplayName(msg.Chat))
	if _, err := client.SendMessage(ctx, platform.SendOptions{ChatID: bot.OwnerID, Text: text}); err != nil {
		e.logger.WarnContext(ctx, "Failed to notify owner about unlink", "bot_id", bot.ID, "error", err)
	}
	return nil
}

func botDisplayName(bot *database.Bot) string {
	if bot.Name != "" {
		return bot.Name
	}
	if bot.Username != "" {
		return bot.Username
	}
	return "bot"
}

func groupDisplayName(chat models.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.Username != "" {
		return chat.Username
	}
	return strconv.FormatInt(chat.ID, 10)
}
