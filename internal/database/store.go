package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations used by the relay
// engine. Methods accept context.Context for cancellation and timeouts.
// Lookup methods return nil, nil when no row matches.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetBotByUUID retrieves an enabled bot by its webhook UUID.
	GetBotByUUID(ctx context.Context, uuid string) (*Bot, error)

	// GetBotByTelegramID retrieves a bot by its platform account id,
	// enabled or not.
	GetBotByTelegramID(ctx context.Context, telegramID int64) (*Bot, error)

	// CreateBot inserts a new bot record, assigning a webhook UUID when
	// none is set. The Token field must already be sealed.
	CreateBot(ctx context.Context, bot *Bot) error

	// ListEnabledBots returns every enabled bot, for webhook registration.
	ListEnabledBots(ctx context.Context) ([]Bot, error)

	// SetForwardChat updates the relay destination of the bot identified by
	// its platform account id. A nil chatID clears the destination. Returns
	// false when the destination was already set to the requested value or
	// the bot does not exist.
	SetForwardChat(ctx context.Context, botTelegramID int64, chatID *int64) (bool, error)

	// DeleteBot removes a bot and, via cascade, all of its chats, mappings,
	// bans, stats, and broadcast records.
	DeleteBot(ctx context.Context, uuid string) (bool, error)

	// EnsureFeedbackChat finds or creates the chat record for (bot, user),
	// refreshing the stored username when a non-empty one is supplied.
	// The second return value reports whether the chat was created.
	EnsureFeedbackChat(ctx context.Context, botID, userTelegramID int64, username string) (*FeedbackChat, bool, error)

	// GetFeedbackChat retrieves the chat record for (bot, user).
	GetFeedbackChat(ctx context.Context, botID, userTelegramID int64) (*FeedbackChat, error)

	// GetChatByTopic resolves a feedback chat from its discussion topic id.
	GetChatByTopic(ctx context.Context, botID, topicID int64) (*FeedbackChat, error)

	// SetChatTopic stores (or clears, when nil) the chat's topic id.
	SetChatTopic(ctx context.Context, chatID int64, topicID *int64) error

	// StampFeedback records the admission time of the chat's latest relayed
	// message.
	StampFeedback(ctx context.Context, chatID int64, at time.Time) error

	// StampWarning records when the antiflood warning was last sent; nil
	// clears it.
	StampWarning(ctx context.Context, chatID int64, at *time.Time) error

	// CountChats returns the number of feedback chats for a bot.
	CountChats(ctx context.Context, botID int64) (int64, error)

	// UpsertMapping creates the mapping for (bot, userMessageID) or replaces
	// its owner-side message id in place.
	UpsertMapping(ctx context.Context, botID, chatID, userMessageID, ownerMessageID int64, outgoing bool) error

	// MappingByUserMessage resolves a mapping from the end-user side.
	MappingByUserMessage(ctx context.Context, botID, userTelegramID, userMessageID int64) (*MappingWithChat, error)

	// MappingByOwnerMessage resolves a mapping from the owner side within
	// one relay direction.
	MappingByOwnerMessage(ctx context.Context, botID, ownerMessageID int64, outgoing bool) (*MappingWithChat, error)

	// ListChatMappings returns all mappings of a chat ordered by owner
	// message id, for bulk delete operations.
	ListChatMappings(ctx context.Context, botID, chatID int64) ([]MessageMapping, error)

	// DeleteMapping removes a single mapping row.
	DeleteMapping(ctx context.Context, id int64) error

	// DeleteChatMappings removes every mapping of a chat.
	DeleteChatMappings(ctx context.Context, chatID int64) error

	// IsBanned reports whether the user is banned from the bot.
	IsBanned(ctx context.Context, botID, userTelegramID int64) (bool, error)

	// Ban bans a user. Banning an already banned user updates the reason
	// (when non-empty) without creating a duplicate and reports false.
	Ban(ctx context.Context, botID, userTelegramID int64, reason string) (*BannedUser, bool, error)

	// Unban lifts a ban, reporting whether a ban existed.
	Unban(ctx context.Context, botID, userTelegramID int64) (bool, error)

	// ListBans returns the bot's banned users ordered by user id.
	ListBans(ctx context.Context, botID int64) ([]BannedUser, error)

	// BumpIncoming increments the bot's incoming message counter.
	BumpIncoming(ctx context.Context, botID int64) error

	// BumpOutgoing increments the bot's outgoing message counter.
	BumpOutgoing(ctx context.Context, botID int64) error

	// GetStats returns the bot's counters, creating the row if absent.
	GetStats(ctx context.Context, botID int64) (*BotStats, error)

	// BroadcastTargets resolves the distinct end-user chat ids a broadcast
	// goes to, after applying the filter.
	BroadcastTargets(ctx context.Context, botID int64, filter TargetFilter) ([]int64, error)

	// RecordBroadcast appends the audit record of one delivered broadcast
	// copy.
	RecordBroadcast(ctx context.Context, botID *int64, chatID, messageID int64) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx. It requires a
// connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const botColumns = `id, uuid, telegram_id, username, name, owner_id, token, forward_chat_id,
	start_message, feedback_received_message,
	allow_photo_messages, allow_video_messages, allow_voice_messages,
	allow_document_messages, allow_sticker_messages,
	antiflood_enabled, antiflood_seconds, communication_mode, enabled,
	created_at, updated_at`

func (s *sqlxStore) GetBotByUUID(ctx context.Context, uuid string) (*Bot, error) {
	var bot Bot
	query := `SELECT ` + botColumns + ` FROM bots WHERE uuid = ? AND enabled = 1;`
	err := s.db.GetContext(ctx, &bot, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot by uuid: %w", err)
	}
	return &bot, nil
}

func (s *sqlxStore) GetBotByTelegramID(ctx context.Context, telegramID int64) (*Bot, error) {
	var bot Bot
	query := `SELECT ` + botColumns + ` FROM bots WHERE telegram_id = ?;`
	err := s.db.GetContext(ctx, &bot, query, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot by telegram id %d: %w", telegramID, err)
	}
	return &bot, nil
}

func (s *sqlxStore) CreateBot(ctx context.Context, bot *Bot) error {
	if bot == nil {
		return errors.New("cannot create nil bot")
	}
	if bot.UUID == "" {
		bot.UUID = uuid.NewString()
	}
	if bot.CommunicationMode == "" {
		bot.CommunicationMode = ModeStandard
	}
	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	query := `
        INSERT INTO bots (uuid, telegram_id, username, name, owner_id, token, forward_chat_id,
            start_message, feedback_received_message,
            allow_photo_messages, allow_video_messages, allow_voice_messages,
            allow_document_messages, allow_sticker_messages,
            antiflood_enabled, antiflood_seconds, communication_mode, enabled,
            created_at, updated_at)
        VALUES (:uuid, :telegram_id, :username, :name, :owner_id, :token, :forward_chat_id,
            :start_message, :feedback_received_message,
            :allow_photo_messages, :allow_video_messages, :allow_voice_messages,
            :allow_document_messages, :allow_sticker_messages,
            :antiflood_enabled, :antiflood_seconds, :communication_mode, :enabled,
            :created_at, :updated_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, bot)
	if err != nil {
		return fmt.Errorf("failed to create bot @%s: %w", bot.Username, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		bot.ID = id
	}
	s.logger.DebugContext(ctx, "Bot created", "bot_id", bot.ID, "uuid", bot.UUID)
	return nil
}

func (s *sqlxStore) ListEnabledBots(ctx context.Context) ([]Bot, error) {
	var bots []Bot
	query := `SELECT ` + botColumns + ` FROM bots WHERE enabled = 1 ORDER BY id;`
	if err := s.db.SelectContext(ctx, &bots, query); err != nil {
		return nil, fmt.Errorf("failed to list enabled bots: %w", err)
	}
	return bots, nil
}

func (s *sqlxStore) SetForwardChat(ctx context.Context, botTelegramID int64, chatID *int64) (bool, error) {
	// IS NOT treats NULL as a comparable value, so a redundant write
	// (including clearing an already NULL destination) affects zero rows.
	query := `
        UPDATE bots SET forward_chat_id = ?, updated_at = ?
        WHERE telegram_id = ? AND forward_chat_id IS NOT ?;
    `
	var value any
	if chatID != nil {
		value = *chatID
	}
	result, err := s.db.ExecContext(ctx, query, value, time.Now().UTC(), botTelegramID, value)
	if err != nil {
		return false, fmt.Errorf("failed to set forward chat for bot %d: %w", botTelegramID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *sqlxStore) DeleteBot(ctx context.Context, uuid string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE uuid = ?;`, uuid)
	if err != nil {
		return false, fmt.Errorf("failed to delete bot %s: %w", uuid, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

const chatColumns = `id, bot_id, user_telegram_id, username, topic_id,
	last_feedback_at, last_warning_at, created_at, updated_at`

func (s *sqlxStore) EnsureFeedbackChat(ctx context.Context, botID, userTelegramID int64, username string) (*FeedbackChat, bool, error) {
	username = strings.TrimSpace(username)

	existing, err := s.GetFeedbackChat(ctx, botID, userTelegramID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if username != "" && existing.Username != username {
			_, err := s.db.ExecContext(ctx,
				`UPDATE feedback_chats SET username = ?, updated_at = ? WHERE id = ?;`,
				username, time.Now().UTC(), existing.ID)
			if err != nil {
				return nil, false, fmt.Errorf("failed to refresh chat username: %w", err)
			}
			existing.Username = username
		}
		return existing, false, nil
	}

	now := time.Now().UTC()
	// DO NOTHING converts a concurrent create into a no-op the re-select
	// below resolves.
	result, err := s.db.ExecContext(ctx, `
        INSERT INTO feedback_chats (bot_id, user_telegram_id, username, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (bot_id, user_telegram_id) DO NOTHING;
    `, botID, userTelegramID, username, now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create feedback chat (bot %d, user %d): %w", botID, userTelegramID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	chat, err := s.GetFeedbackChat(ctx, botID, userTelegramID)
	if err != nil {
		return nil, false, err
	}
	if chat == nil {
		return nil, false, fmt.Errorf("feedback chat vanished after insert (bot %d, user %d)", botID, userTelegramID)
	}
	return chat, affected > 0, nil
}

func (s *sqlxStore) GetFeedbackChat(ctx context.Context, botID, userTelegramID int64) (*FeedbackChat, error) {
	var chat FeedbackChat
	query := `SELECT ` + chatColumns + ` FROM feedback_chats WHERE bot_id = ? AND user_telegram_id = ?;`
	err := s.db.GetContext(ctx, &chat, query, botID, userTelegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback chat (bot %d, user %d): %w", botID, userTelegramID, err)
	}
	return &chat, nil
}

func (s *sqlxStore) GetChatByTopic(ctx context.Context, botID, topicID int64) (*FeedbackChat, error) {
	var chat FeedbackChat
	query := `SELECT ` + chatColumns + ` FROM feedback_chats WHERE bot_id = ? AND topic_id = ?;`
	err := s.db.GetContext(ctx, &chat, query, botID, topicID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback chat by topic (bot %d, topic %d): %w", botID, topicID, err)
	}
	return &chat, nil
}

func (s *sqlxStore) SetChatTopic(ctx context.Context, chatID int64, topicID *int64) error {
	var value any
	if topicID != nil {
		value = *topicID
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE feedback_chats SET topic_id = ?, updated_at = ? WHERE id = ?;`,
		value, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("failed to set topic for chat %d: %w", chatID, err)
	}
	return nil
}

func (s *sqlxStore) StampFeedback(ctx context.Context, chatID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feedback_chats SET last_feedback_at = ?, updated_at = ? WHERE id = ?;`,
		at.UTC(), time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("failed to stamp feedback time for chat %d: %w", chatID, err)
	}
	return nil
}

func (s *sqlxStore) StampWarning(ctx context.Context, chatID int64, at *time.Time) error {
	var value any
	if at != nil {
		value = at.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE feedback_chats SET last_warning_at = ?, updated_at = ? WHERE id = ?;`,
		value, time.Now().UTC(), chatID)
	if err != nil {
		return fmt.Errorf("failed to stamp warning time for chat %d: %w", chatID, err)
	}
	return nil
}

func (s *sqlxStore) CountChats(ctx context.Context, botID int64) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM feedback_chats WHERE bot_id = ?;`, botID)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback chats for bot %d: %w", botID, err)
	}
	return count, nil
}

func (s *sqlxStore) UpsertMapping(ctx context.Context, botID, chatID, userMessageID, ownerMessageID int64, outgoing bool) error {
	// Create-or-replace keyed by (bot, user message id): re-relaying an
	// edited source message must update the destination id in place, never
	// duplicate the row.
	query := `
        INSERT INTO message_mappings (bot_id, chat_id, user_message_id, owner_message_id, outgoing, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (bot_id, user_message_id) DO UPDATE SET
            chat_id = excluded.chat_id,
            owner_message_id = excluded.owner_message_id,
            outgoing = excluded.outgoing;
    `
	_, err := s.db.ExecContext(ctx, query, botID, chatID, userMessageID, ownerMessageID, outgoing, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert mapping (bot %d, user message %d): %w", botID, userMessageID, err)
	}
	return nil
}

const mappingJoinColumns = `m.id, m.bot_id, m.chat_id, m.user_message_id, m.owner_message_id, m.outgoing, m.created_at,
	c.id AS "chat.id", c.bot_id AS "chat.bot_id",
	c.user_telegram_id AS "chat.user_telegram_id", c.username AS "chat.username",
	c.topic_id AS "chat.topic_id",
	c.last_feedback_at AS "chat.last_feedback_at", c.last_warning_at AS "chat.last_warning_at",
	c.created_at AS "chat.created_at", c.updated_at AS "chat.updated_at"`

func (s *sqlxStore) MappingByUserMessage(ctx context.Context, botID, userTelegramID, userMessageID int64) (*MappingWithChat, error) {
	var mapping MappingWithChat
	query := `
        SELECT ` + mappingJoinColumns + `
        FROM message_mappings m
        JOIN feedback_chats c ON c.id = m.chat_id
        WHERE m.bot_id = ? AND c.user_telegram_id = ? AND m.user_message_id = ?;
    `
	err := s.db.GetContext(ctx, &mapping, query, botID, userTelegramID, userMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mapping by user message %d: %w", userMessageID, err)
	}
	return &mapping, nil
}

func (s *sqlxStore) MappingByOwnerMessage(ctx context.Context, botID, ownerMessageID int64, outgoing bool) (*MappingWithChat, error) {
	var mapping MappingWithChat
	query := `
        SELECT ` + mappingJoinColumns + `
        FROM message_mappings m
        JOIN feedback_chats c ON c.id = m.chat_id
        WHERE m.bot_id = ? AND m.owner_message_id = ? AND m.outgoing = ?;
    `
	err := s.db.GetContext(ctx, &mapping, query, botID, ownerMessageID, outgoing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mapping by owner message %d: %w", ownerMessageID, err)
	}
	return &mapping, nil
}

func (s *sqlxStore) ListChatMappings(ctx context.Context, botID, chatID int64) ([]MessageMapping, error) {
	var mappings []MessageMapping
	query := `
        SELECT id, bot_id, chat_id, user_message_id, owner_message_id, outgoing, created_at
        FROM message_mappings
        WHERE bot_id = ? AND chat_id = ?
        ORDER BY owner_message_id, id;
    `
	if err := s.db.SelectContext(ctx, &mappings, query, botID, chatID); err != nil {
		return nil, fmt.Errorf("failed to list mappings for chat %d: %w", chatID, err)
	}
	return mappings, nil
}

func (s *sqlxStore) DeleteMapping(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_mappings WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("failed to delete mapping %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) DeleteChatMappings(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_mappings WHERE chat_id = ?;`, chatID); err != nil {
		return fmt.Errorf("failed to delete mappings for chat %d: %w", chatID, err)
	}
	return nil
}

func (s *sqlxStore) IsBanned(ctx context.Context, botID, userTelegramID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM banned_users WHERE bot_id = ? AND user_telegram_id = ?);`
	if err := s.db.GetContext(ctx, &exists, query, botID, userTelegramID); err != nil {
		return false, fmt.Errorf("failed to check ban (bot %d, user %d): %w", botID, userTelegramID, err)
	}
	return exists, nil
}

func (s *sqlxStore) Ban(ctx context.Context, botID, userTelegramID int64, reason string) (*BannedUser, bool, error) {
	reason = strings.TrimSpace(reason)

	result, err := s.db.ExecContext(ctx, `
        INSERT INTO banned_users (bot_id, user_telegram_id, reason, created_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (bot_id, user_telegram_id) DO NOTHING;
    `, botID, userTelegramID, reason, time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to ban user %d on bot %d: %w", userTelegramID, botID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	created := affected > 0

	if !created && reason != "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE banned_users SET reason = ? WHERE bot_id = ? AND user_telegram_id = ?;`,
			reason, botID, userTelegramID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update ban reason: %w", err)
		}
	}

	var banned BannedUser
	err = s.db.GetContext(ctx, &banned,
		`SELECT id, bot_id, user_telegram_id, reason, created_at FROM banned_users WHERE bot_id = ? AND user_telegram_id = ?;`,
		botID, userTelegramID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read ban record: %w", err)
	}
	return &banned, created, nil
}

func (s *sqlxStore) Unban(ctx context.Context, botID, userTelegramID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM banned_users WHERE bot_id = ? AND user_telegram_id = ?;`,
		botID, userTelegramID)
	if err != nil {
		return false, fmt.Errorf("failed to unban user %d on bot %d: %w", userTelegramID, botID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *sqlxStore) ListBans(ctx context.Context, botID int64) ([]BannedUser, error) {
	var banned []BannedUser
	query := `
        SELECT id, bot_id, user_telegram_id, reason, created_at
        FROM banned_users
        WHERE bot_id = ?
        ORDER BY user_telegram_id;
    `
	if err := s.db.SelectContext(ctx, &banned, query, botID); err != nil {
		return nil, fmt.Errorf("failed to list banned users for bot %d: %w", botID, err)
	}
	return banned, nil
}

func (s *sqlxStore) BumpIncoming(ctx context.Context, botID int64) error {
	return s.bumpStat(ctx, botID, "incoming_messages")
}

func (s *sqlxStore) BumpOutgoing(ctx context.Context, botID int64) error {
	return s.bumpStat(ctx, botID, "outgoing_messages")
}

func (s *sqlxStore) bumpStat(ctx context.Context, botID int64, column string) error {
	// column is one of two compile-time constants, never user input.
	query := fmt.Sprintf(`
        INSERT INTO bot_stats (bot_id, %[1]s) VALUES (?, 1)
        ON CONFLICT (bot_id) DO UPDATE SET %[1]s = %[1]s + 1;
    `, column)
	if _, err := s.db.ExecContext(ctx, query, botID); err != nil {
		return fmt.Errorf("failed to bump %s for bot %d: %w", column, botID, err)
	}
	return nil
}

func (s *sqlxStore) GetStats(ctx context.Context, botID int64) (*BotStats, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_stats (bot_id) VALUES (?) ON CONFLICT (bot_id) DO NOTHING;`, botID); err != nil {
		return nil, fmt.Errorf("failed to ensure stats row for bot %d: %w", botID, err)
	}
	var stats BotStats
	err := s.db.GetContext(ctx, &stats,
		`SELECT bot_id, incoming_messages, outgoing_messages FROM bot_stats WHERE bot_id = ?;`, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for bot %d: %w", botID, err)
	}
	return &stats, nil
}

func (s *sqlxStore) BroadcastTargets(ctx context.Context, botID int64, filter TargetFilter) ([]int64, error) {
	query := `SELECT DISTINCT user_telegram_id FROM feedback_chats WHERE bot_id = ?`
	args := []any{botID}

	if filter.JoinedAfter != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.JoinedAfter.UTC())
	}
	if filter.JoinedBefore != nil {
		query += ` AND created_at <= ?`
		args = append(args, filter.JoinedBefore.UTC())
	}
	if filter.ActiveAfter != nil {
		query += ` AND last_feedback_at IS NOT NULL AND last_feedback_at >= ?`
		args = append(args, filter.ActiveAfter.UTC())
	}
	if filter.UsernameOnly {
		query += ` AND username != ''`
	}
	query += ` ORDER BY user_telegram_id;`

	var targets []int64
	if err := s.db.SelectContext(ctx, &targets, query, args...); err != nil {
		return nil, fmt.Errorf("failed to resolve broadcast targets for bot %d: %w", botID, err)
	}

	if filter.SampleEvery > 1 {
		sampled := make([]int64, 0, (len(targets)+filter.SampleEvery-1)/filter.SampleEvery)
		for i := 0; i < len(targets); i += filter.SampleEvery {
			sampled = append(sampled, targets[i])
		}
		targets = sampled
	}
	return targets, nil
}

func (s *sqlxStore) RecordBroadcast(ctx context.Context, botID *int64, chatID, messageID int64) error {
	var bot any
	if botID != nil {
		bot = *botID
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO broadcast_messages (bot_id, chat_id, message_id, created_at)
        VALUES (?, ?, ?, ?);
    `, bot, chatID, messageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record broadcast message for chat %d: %w", chatID, err)
	}
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")
	start := time.Now()

	// VACUUM must run outside a transaction in SQLite.
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
			return err
		}
		return fmt.Errorf("failed to run VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
