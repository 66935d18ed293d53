package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

// ensureTopic resolves the discussion thread an end user's messages land
// in. Bots without a linked group forward flat and get no topic. The
// thread is created lazily on the first relayed message.
func (e *Engine) ensureTopic(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, chat *database.FeedbackChat) (int64, error) {
	if !bot.HasGroupDestination() {
		return 0, nil
	}
	if chat.TopicID.Valid {
		return chat.TopicID.Int64, nil
	}
	return e.createTopic(ctx, bot, client, msg, chat)
}

func (e *Engine) createTopic(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, chat *database.FeedbackChat) (int64, error) {
	topicID, err := client.CreateForumTopic(ctx, bot.ForwardChatID.Int64, topicTitle(bot, msg, chat))
	if err != nil {
		return 0, fmt.Errorf("failed to create topic: %w", err)
	}

	if err := e.sendIntro(ctx, bot, client, msg, chat, topicID); err != nil {
		e.logger.WarnContext(ctx, "Failed to send topic intro", "bot_id", bot.ID, "topic_id", topicID, "error", err)
	}

	if err := e.store.SetChatTopic(ctx, chat.ID, &topicID); err != nil {
		return 0, fmt.Errorf("failed to persist topic: %w", err)
	}
	chat.TopicID.Int64 = topicID
	chat.TopicID.Valid = true
	return topicID, nil
}

func (e *Engine) sendIntro(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, chat *database.FeedbackChat, topicID int64) error {
	lines := introLines(bot, msg, chat)
	if len(lines) == 0 {
		return nil
	}
	_, err := client.SendMessage(ctx, platform.SendOptions{
		ChatID:        bot.DestinationChatID(),
		Text:          strings.Join(lines, "\n"),
		TopicID:       topicID,
		HTML:          true,
		NoLinkPreview: true,
	})
	return err
}

// deliverWithRecovery relays msg into the destination, recreating the
// user's topic once if the stored thread was deleted out from under us.
// Recovery wipes the chat's mappings first since their topic-scoped copies
// are gone with the thread. A second delivery failure propagates.
func (e *Engine) deliverWithRecovery(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, chat *database.FeedbackChat, topicID int64) (int64, int64, error) {
	relayedID, err := e.deliver(ctx, bot, client, msg, topicID)
	if err == nil {
		return relayedID, topicID, nil
	}
	if !bot.HasGroupDestination() || !platform.IsTopicMissing(err) {
		return 0, 0, err
	}

	e.logger.InfoContext(ctx, "Topic gone, recreating", "bot_id", bot.ID, "chat_id", chat.ID, "topic_id", topicID)

	if err := e.store.DeleteChatMappings(ctx, chat.ID); err != nil {
		return 0, 0, fmt.Errorf("failed to clear stale mappings: %w", err)
	}
	if err := e.store.SetChatTopic(ctx, chat.ID, nil); err != nil {
		return 0, 0, fmt.Errorf("failed to clear stale topic: %w", err)
	}
	chat.TopicID.Valid = false

	newTopicID, err := e.createTopic(ctx, bot, client, msg, chat)
	if err != nil {
		return 0, 0, err
	}

	relayedID, err = e.deliver(ctx, bot, client, msg, newTopicID)
	if err != nil {
		return 0, 0, fmt.Errorf("relay failed after topic recreation: %w", err)
	}
	return relayedID, newTopicID, nil
}

// deliver sends one end-user message to the owner side. Anonymizing modes
// copy the content; standard mode keeps the native forward header.
func (e *Engine) deliver(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, topicID int64) (int64, error) {
	if anonymizeSender(bot) {
		return client.CopyMessage(ctx, platform.CopyOptions{
			ChatID:     bot.DestinationChatID(),
			FromChatID: msg.Chat.ID,
			MessageID:  int64(msg.ID),
			TopicID:    topicID,
		})
	}
	return client.ForwardMessage(ctx, bot.DestinationChatID(), msg.Chat.ID, int64(msg.ID), topicID)
}
