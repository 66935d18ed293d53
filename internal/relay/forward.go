package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

// handleForward relays one end-user message to the owner side.
func (e *Engine) handleForward(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	log := e.logger.With("bot_id", bot.ID, "user_id", msg.From.ID)

	banned, err := e.store.IsBanned(ctx, bot.ID, msg.From.ID)
	if err != nil {
		return fmt.Errorf("failed to check ban: %w", err)
	}
	if banned {
		return nil
	}

	destination := bot.DestinationChatID()
	if msg.Chat.ID == destination && msg.From.ID == bot.OwnerID {
		// owner talking inside the destination chat, not feedback
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

	chat, created, err := e.store.EnsureFeedbackChat(ctx, bot.ID, msg.From.ID, msg.From.Username)
	if err != nil {
		return fmt.Errorf("failed to resolve feedback chat: %w", err)
	}
	if created && !bot.HasGroupDestination() {
		// flat forwarding has no topic intro, announce the user once here
		if lines := introLines(bot, msg, chat); len(lines) > 0 {
			if _, err := client.SendMessage(ctx, platform.SendOptions{
				ChatID:        destination,
				Text:          strings.Join(lines, "\n"),
				HTML:          true,
				NoLinkPreview: true,
			}); err != nil {
				log.WarnContext(ctx, "Failed to send first-contact intro", "error", err)
			}
		}
	}

	now := messageTime(msg, e.now())
	admitted, err := e.admit(ctx, bot, client, msg, chat, now)
	if err != nil || !admitted {
		return err
	}

	topicID, err := e.ensureTopic(ctx, bot, client, msg, chat)
	if err != nil {
		return err
	}

	relayedID, _, err := e.deliverWithRecovery(ctx, bot, client, msg, chat, topicID)
	if err != nil {
		return err
	}

	if err := e.store.UpsertMapping(ctx, bot.ID, chat.ID, int64(msg.ID), relayedID, false); err != nil {
		return fmt.Errorf("failed to record mapping: %w", err)
	}
	if err := e.store.StampFeedback(ctx, chat.ID, now); err != nil {
		return fmt.Errorf("failed to stamp feedback time: %w", err)
	}
	if chat.LastWarningAt.Valid {
		if err := e.store.StampWarning(ctx, chat.ID, nil); err != nil {
			return fmt.Errorf("failed to clear warning: %w", err)
		}
	}
	if err := e.store.BumpIncoming(ctx, bot.ID); err != nil {
		log.WarnContext(ctx, "Failed to bump incoming counter", "error", err)
	}

	ack := bot.FeedbackReceivedMessage
	if ack == "" {
		ack = defaultAckMessage
	}
	if _, err := client.SendMessage(ctx, platform.SendOptions{
		ChatID:  msg.Chat.ID,
		Text:    ack,
		ReplyTo: int64(msg.ID),
	}); err != nil {
		log.WarnContext(ctx, "Failed to send acknowledgement", "error", err)
	}
	return nil
}

// admit applies the antiflood gate. Throttled messages get at most one
// warning per cooldown window; the clock is the message timestamp.
func (e *Engine) admit(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, chat *database.FeedbackChat, now time.Time) (bool, error) {
	if !bot.AntifloodEnabled || !chat.LastFeedbackAt.Valid {
		return true, nil
	}

	cooldown := time.Duration(bot.CooldownSeconds()) * time.Second
	if now.Sub(chat.LastFeedbackAt.Time) >= cooldown {
		return true, nil
	}

	if !chat.LastWarningAt.Valid || now.Sub(chat.LastWarningAt.Time) >= cooldown {
		warning := fmt.Sprintf(antifloodWarningFormat, bot.CooldownSeconds())
		if _, err := client.SendMessage(ctx, platform.SendOptions{
			ChatID:  msg.Chat.ID,
			Text:    warning,
			ReplyTo: int64(msg.ID),
		}); err != nil {
			return false, err
		}
		if err := e.store.StampWarning(ctx, chat.ID, &now); err != nil {
			return false, fmt.Errorf("failed to stamp warning: %w", err)
		}
		chat.LastWarningAt.Time = now
		chat.LastWarningAt.Valid = true
	}
	return false, nil
}
