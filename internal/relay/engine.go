// Package relay implements the per-bot feedback relay: classifying inbound
// updates, forwarding end-user messages to the owner side, relaying owner
// replies back, and the owner command surface.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/feedrelay/feedrelay/internal/broadcast"
	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

// Engine processes updates for every bot behind the shared webhook.
// Updates for the same bot are serialized so topic creation and the
// antiflood read-then-write stay race free; different bots proceed in
// parallel.
type Engine struct {
	store       database.Store
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewEngine(store database.Store, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *Engine {
	return &Engine{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger.With("component", "relay"),
		now:         time.Now,
		locks:       make(map[int64]*sync.Mutex),
	}
}

func (e *Engine) lockBot(botID int64) func() {
	e.mu.Lock()
	l, ok := e.locks[botID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[botID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Process handles one update for one bot. Policy rejections (bans, media
// rules, antiflood) are absorbed here; only delivery failures worth a
// transport-level retry surface as errors.
func (e *Engine) Process(ctx context.Context, bot *database.Bot, client platform.Client, update *models.Update) error {
	unlock := e.lockBot(bot.ID)
	defer unlock()

	switch {
	case update.Message != nil:
		return e.processMessage(ctx, bot, client, update.Message)
	case update.EditedMessage != nil:
		return e.processEditedMessage(ctx, bot, client, update.EditedMessage)
	default:
		return nil
	}
}

func (e *Engine) processMessage(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil {
		return e.handleMembershipChange(ctx, bot, client, msg)
	}

	if isCommand(msg) {
		return e.handleCommand(ctx, bot, client, msg)
	}

	if msg.From == nil {
		return nil
	}

	if msg.ReplyToMessage != nil || threadReplyCandidate(bot, msg) {
		handled, err := e.handleReply(ctx, bot, client, msg)
		if handled || err != nil {
			return err
		}
	}

	if msg.Chat.Type == models.ChatTypePrivate {
		return e.handleForward(ctx, bot, client, msg)
	}
	return nil
}

func (e *Engine) processEditedMessage(ctx context.Context, bot *database.Bot, client platform.Client, msg *models.Message) error {
	if msg.From == nil || isCommand(msg) {
		return nil
	}

	if msg.From.ID == bot.OwnerID && (msg.ReplyToMessage != nil || threadReplyCandidate(bot, msg)) {
		handled, err := e.handleEditedReply(ctx, bot, client, msg)
		if handled || err != nil {
			return err
		}
	}

	if msg.Chat.Type == models.ChatTypePrivate {
		return e.handleEditedForward(ctx, bot, client, msg)
	}
	return nil
}

// threadReplyCandidate reports whether a message without an explicit
// citation can still be an owner reply: private and anonymous mode bots
// address replies by the group topic the owner wrote into.
func threadReplyCandidate(bot *database.Bot, msg *models.Message) bool {
	if bot.CommunicationMode != database.ModePrivate && bot.CommunicationMode != database.ModeAnonymous {
		return false
	}
	return bot.HasGroupDestination() &&
		msg.Chat.ID == bot.ForwardChatID.Int64 &&
		msg.MessageThreadID != 0
}

func isCommand(msg *models.Message) bool {
	return strings.HasPrefix(msg.Text, "/")
}
