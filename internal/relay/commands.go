package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/broadcast"
	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

// handleCommand dispatches one slash command. /start answers everyone;
// every other command is owner only and ignored silently for other
// senders, before any store access.
func (e *Engine) handleCommand(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	command, args := splitCommand(msg.Text)

	if command == "start" {
		return e.cmdStart(ctx, bot, client, msg)
	}

	if msg.From == nil || msg.From.ID != bot.OwnerID {
		return nil
	}

	switch command {
	case "ban":
		return e.cmdBan(ctx, bot, client, msg, args)
	case "unban":
		return e.cmdUnban(ctx, bot, client, msg, args)
	case "banned":
		return e.cmdBanned(ctx, bot, client, msg)
	case "delete":
		return e.cmdDelete(ctx, bot, client, msg)
	case "clear":
		return e.cmdClear(ctx, bot, client, msg)
	case "stats":
		return e.cmdStats(ctx, bot, client, msg)
	case "broadcast":
		return e.cmdBroadcast(ctx, bot, client, msg)
	default:
		return nil
	}
}

// splitCommand separates "/cmd@botname arg1 arg2" into name and args.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	return name, fields[1:]
}

func (e *Engine) reply(ctx context.Context, client platform.Client, msg *models.Message, text string) error {
	_, err := client.SendMessage(ctx, platform.SendOptions{
		ChatID:  msg.Chat.ID,
		Text:    text,
		TopicID: int64(msg.MessageThreadID),
		ReplyTo: int64(msg.ID),
	})
	return err
}

func (e *Engine) cmdStart(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	text := bot.StartMessage
	if text == "" {
		text = defaultStartMessage
	}
	_, err := client.SendMessage(ctx, platform.SendOptions{ChatID: msg.Chat.ID, Text: text})
	return err
}

// resolveTargetUser finds the end user a ban command refers to: a cited
// forwarded message first, then a numeric id argument.
func (e *Engine) resolveTargetUser(ctx context.Context, bot *database.Bot, msg *models.Message, args []string) (int64, error) {
	if msg.ReplyToMessage != nil {
		mapping, err := e.store.MappingByOwnerMessage(ctx, bot.ID, int64(msg.ReplyToMessage.ID), false)
		if err != nil {
			return 0, err
		}
		if mapping != nil {
			return mapping.Chat.UserTelegramID, nil
		}
	}
	if len(args) > 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			return id, nil
		}
	}
	return 0, nil
}

func (e *Engine) cmdBan(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, args []string) error {
	target, err := e.resolveTargetUser(ctx, bot, msg, args)
	if err != nil {
		return fmt.Errorf("failed to resolve ban target: %w", err)
	}
	if target == 0 {
		return e.reply(ctx, client, msg, missingTargetMessage)
	}

	reason := banReason(msg, args)
	banned, created, err := e.store.Ban(ctx, bot.ID, target, reason)
	if err != nil {
		return fmt.Errorf("failed to ban user: %w", err)
	}

	text := fmt.Sprintf("User %d was already banned.", banned.UserTelegramID)
	if created {
		text = fmt.Sprintf("User %d banned.", banned.UserTelegramID)
	}
	return e.reply(ctx, client, msg, text)
}

// banReason collects the free-text reason: everything after the id when
// one was passed, the full argument list when the target came from a
// citation.
func banReason(msg *models.Message, args []string) string {
	if msg.ReplyToMessage != nil {
		return strings.Join(args, " ")
	}
	if len(args) > 1 {
		return strings.Join(args[1:], " ")
	}
	return ""
}

func (e *Engine) cmdUnban(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message, args []string) error {
	target, err := e.resolveTargetUser(ctx, bot, msg, args)
	if err != nil {
		return fmt.Errorf("failed to resolve unban target: %w", err)
	}
	if target == 0 {
		return e.reply(ctx, client, msg, missingTargetMessage)
	}

	removed, err := e.store.Unban(ctx, bot.ID, target)
	if err != nil {
		return fmt.Errorf("failed to unban user: %w", err)
	}

	text := fmt.Sprintf("User %d was not banned.", target)
	if removed {
		text = fmt.Sprintf("User %d unbanned.", target)
	}
	return e.reply(ctx, client, msg, text)
}

func (e *Engine) cmdBanned(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	bans, err := e.store.ListBans(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("failed to list bans: %w", err)
	}
	if len(bans) == 0 {
		return e.reply(ctx, client, msg, "No banned users.")
	}

	var b strings.Builder
	b.WriteString("Banned users:")
	for _, ban := range bans {
		b.WriteString("\n")
		b.WriteString(strconv.FormatInt(ban.UserTelegramID, 10))
	}
	return e.reply(ctx, client, msg, b.String())
}

// deleteRelayedMessage deletes one side of a relayed pair. A message the
// platform already lost counts as deleted.
func (e *Engine) deleteRelayedMessage(ctx context.Context, client platform.Client, chatID, messageID int64) bool {
	if chatID == 0 || messageID == 0 {
		return false
	}
	err := client.DeleteMessage(ctx, chatID, messageID)
	if err == nil || platform.IsMessageGone(err) {
		return true
	}
	return false
}

func (e *Engine) cmdDelete(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if msg.ReplyToMessage == nil {
		return nil
	}

	mapping, err := e.store.MappingByOwnerMessage(ctx, bot.ID, int64(msg.ReplyToMessage.ID), false)
	if err != nil {
		return fmt.Errorf("failed to resolve mapping: %w", err)
	}
	if mapping == nil {
		return e.reply(ctx, client, msg, "Nothing to delete.")
	}

	ownerDeleted := e.deleteRelayedMessage(ctx, client, bot.DestinationChatID(), mapping.OwnerMessageID)
	userDeleted := e.deleteRelayedMessage(ctx, client, mapping.Chat.UserTelegramID, mapping.UserMessageID)

	if !ownerDeleted && !userDeleted {
		return e.reply(ctx, client, msg, "Could not delete the message.")
	}

	// remove the row only once at least one visible copy is gone, so a
	// surviving copy stays addressable
	if err := e.store.DeleteMapping(ctx, mapping.ID); err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	e.deleteRelayedMessage(ctx, client, msg.Chat.ID, int64(msg.ID))
	return nil
}

func (e *Engine) cmdClear(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if msg.ReplyToMessage == nil {
		return nil
	}

	cited, err := e.store.MappingByOwnerMessage(ctx, bot.ID, int64(msg.ReplyToMessage.ID), false)
	if err != nil {
		return fmt.Errorf("failed to resolve mapping: %w", err)
	}
	if cited == nil {
		return e.reply(ctx, client, msg, "Nothing to clear.")
	}

	all, err := e.store.ListChatMappings(ctx, bot.ID, cited.ChatID)
	if err != nil {
		return fmt.Errorf("failed to list mappings: %w", err)
	}
	var mappings []database.MessageMapping
	for _, m := range all {
		if m.OwnerMessageID >= cited.OwnerMessageID {
			mappings = append(mappings, m)
		}
	}

	destination := bot.DestinationChatID()
	userChatID := cited.Chat.UserTelegramID

	ownerDeleted := make([]bool, len(mappings))
	for i, m := range mappings {
		ownerDeleted[i] = e.deleteRelayedMessage(ctx, client, destination, m.OwnerMessageID)
	}
	userDeleted := make([]bool, len(mappings))
	for i, m := range mappings {
		userDeleted[i] = e.deleteRelayedMessage(ctx, client, userChatID, m.UserMessageID)
	}

	removed := 0
	for i, m := range mappings {
		if !ownerDeleted[i] && !userDeleted[i] {
			continue
		}
		if err := e.store.DeleteMapping(ctx, m.ID); err != nil {
			return fmt.Errorf("failed to delete mapping: %w", err)
		}
		removed++
	}

	if removed == 0 {
		return e.reply(ctx, client, msg, "Could not clear messages.")
	}
	e.deleteRelayedMessage(ctx, client, msg.Chat.ID, int64(msg.ID))
	return nil
}

func (e *Engine) cmdStats(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	subscribers, err := e.store.CountChats(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("failed to count chats: %w", err)
	}
	stats, err := e.store.GetStats(ctx, bot.ID)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}

	text := fmt.Sprintf(
		"\U0001F4C8 <b>Bot statistics</b>\n\n"+
			"\U0001F465 <b>Users</b>\n"+
			"• %d subscribers\n\n"+
			"✍️ <b>Messages</b>\n"+
			"• %d inbound messages\n"+
			"• %d replies sent\n",
		subscribers, stats.IncomingMessages, stats.OutgoingMessages,
	)
	_, err = client.SendMessage(ctx, platform.SendOptions{
		ChatID:  msg.Chat.ID,
		Text:    text,
		TopicID: int64(msg.MessageThreadID),
		ReplyTo: int64(msg.ID),
		HTML:    true,
	})
	return err
}

func (e *Engine) cmdBroadcast(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if msg.ReplyToMessage == nil {
		return nil
	}

	// filter lines follow the command token, on the same line or below
	rest := ""
	if i := strings.IndexAny(msg.Text, " \n"); i >= 0 {
		rest = msg.Text[i+1:]
	}
	filter, err := broadcast.ParseFilters(rest, e.now())
	if err != nil {
		return e.reply(ctx, client, msg, err.Error()+"\n"+broadcast.HelpText())
	}

	var targetFilter database.TargetFilter
	if filter != nil {
		targetFilter = *filter
	}
	targets, err := e.store.BroadcastTargets(ctx, bot.ID, targetFilter)
	if err != nil {
		return fmt.Errorf("failed to resolve broadcast targets: %w", err)
	}
	if len(targets) == 0 {
		return e.reply(ctx, client, msg, "No subscribers to broadcast to.")
	}

	botID := bot.ID
	sent, failed := e.broadcaster.Run(ctx, client,
		broadcast.Source{FromChatID: msg.Chat.ID, MessageID: int64(msg.ReplyToMessage.ID)},
		targets,
		func(ctx context.Context, chatID, messageID int64) error {
			return e.store.RecordBroadcast(ctx, &botID, chatID, messageID)
		},
	)

	status := fmt.Sprintf("Broadcast completed: sent to %d chats.", sent)
	if failed > 0 {
		status += fmt.Sprintf(" Failed for %d chats.", failed)
	}
	return e.reply(ctx, client, msg, status)
}
