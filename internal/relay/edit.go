package relay

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

// handleEditedForward re-relays an edited end-user message. Messages that
// were never relayed (filtered, throttled, pre-dating the bot) are ignored.
func (e *Engine) handleEditedForward(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	banned, err := e.store.IsBanned(ctx, bot.ID, msg.From.ID)
	if err != nil {
		return fmt.Errorf("failed to check ban: %w", err)
	}
	if banned {
		return nil
	}

	mapping, err := e.store.MappingByUserMessage(ctx, bot.ID, msg.From.ID, int64(msg.ID))
	if err != nil {
		return fmt.Errorf("failed to look up mapping: %w", err)
	}
	if mapping == nil {
		return nil
	}

	if text := blockedMediaText(bot, msg); text != "" {
		_, err := client.SendMessage(ctx, platform.SendOptions{
			ChatID:  msg.Chat.ID,
			Text:    text,
			ReplyTo: int64(msg.ID),
		})
		return err
	}

	chat := mapping.Chat
	var topicID int64
	if chat.TopicID.Valid {
		topicID = chat.TopicID.Int64
	}

	relayedID, topicID, err := e.deliverWithRecovery(ctx, bot, client, msg, &chat, topicID)
	if err != nil {
		return err
	}

	if err := e.store.UpsertMapping(ctx, bot.ID, chat.ID, int64(msg.ID), relayedID, false); err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}

	destination := bot.DestinationChatID()
	notice := editedNoticeGeneric
	noPreview := false
	if link := messageLink(destination, relayedID); link != "" {
		notice = fmt.Sprintf(editedNoticeWithLink, link)
		noPreview = true
	}
	if _, err := client.SendMessage(ctx, platform.SendOptions{
		ChatID:        destination,
		Text:          notice,
		TopicID:       topicID,
		ReplyTo:       relayedID,
		NoLinkPreview: noPreview,
	}); err != nil {
		e.logger.WarnContext(ctx, "Failed to send edited notice", "bot_id", bot.ID, "error", err)
	}
	return nil
}

// handleEditedReply pushes an owner's edit into the copy the end user
// already received. Returns handled=false when the edited message is not
// a relayed reply at all.
func (e *Engine) handleEditedReply(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) (bool, error) {
	mapping, err := e.store.MappingByOwnerMessage(ctx, bot.ID, int64(msg.ID), true)
	if err != nil {
		return false, fmt.Errorf("failed to look up reply mapping: %w", err)
	}
	if mapping == nil {
		return false, nil
	}

	applied, err := e.applyEdit(ctx, client, mapping, msg)
	if err != nil {
		if platform.IsMessageGone(err) {
			return true, nil
		}
		return true, err
	}
	if applied {
		if _, err := client.SendMessage(ctx, platform.SendOptions{
			ChatID:  msg.Chat.ID,
			Text:    "Sent message updated",
			TopicID: int64(msg.MessageThreadID),
			ReplyTo: int64(msg.ID),
		}); err != nil {
			e.logger.WarnContext(ctx, "Failed to confirm reply edit", "bot_id", bot.ID, "error", err)
		}
	}
	return true, nil
}

// applyEdit tries text, then caption, then media replacement. Content the
// platform cannot edit in place is a no-op.
func (e *Engine) applyEdit(ctx context.Context, client platform.Client, mapping *database.MappingWithChat, msg *models.Message) (bool, error) {
	chatID := mapping.Chat.UserTelegramID
	targetID := mapping.UserMessageID
	if targetID == 0 {
		return false, nil
	}

	if msg.Text != "" {
		return true, client.EditMessageText(ctx, chatID, targetID, msg.Text)
	}
	if msg.Caption != "" {
		return true, client.EditMessageCaption(ctx, chatID, targetID, msg.Caption)
	}

	media := mediaOf(msg)
	if media.Kind == platform.MediaNone || media.Kind == platform.MediaSticker {
		return false, nil
	}
	if media.Caption == "" {
		media.Caption = e.now().UTC().Format("2006-01-02 15:04:05")
	}
	return true, client.EditMessageMedia(ctx, chatID, targetID, media)
}
