package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/feedrelay/feedrelay/internal/platform"
)

// sendPace keeps the fan-out under the platform's ~30 messages/second
// bulk limit (core.telegram.org/bots/faq).
const sendPace = 35 * time.Millisecond

// Source identifies the message being broadcast, copied into each target
// chat without a forward header.
type Source struct {
	FromChatID int64
	MessageID  int64
}

// RecordFunc is called after each successful delivery with the target chat
// and the id of the copy placed there. May be nil.
type RecordFunc func(ctx context.Context, chatID, messageID int64) error

// Broadcaster fans a single message out to many chats sequentially.
type Broadcaster struct {
	logger *slog.Logger
	pace   time.Duration
	sleep  func(ctx context.Context, d time.Duration)
}

func New(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		logger: logger.With("component", "broadcast"),
		pace:   sendPace,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run copies src into every target chat in order. A rate limit pauses for
// the requested delay plus one second and retries that chat exactly once;
// any other failure counts the chat as failed and moves on. Returns how
// many chats were sent to and how many failed.
func (b *Broadcaster) Run(ctx context.Context, client platform.Client, src Source, targets []int64, record RecordFunc) (sent, failed int) {
	for _, chatID := range targets {
		if ctx.Err() != nil {
			break
		}

		messageID, err := b.copyOnce(ctx, client, src, chatID)
		if err != nil {
			if delay, ok := platform.RetryDelay(err); ok {
				b.sleep(ctx, delay+time.Second)
				messageID, err = b.copyOnce(ctx, client, src, chatID)
			}
		}
		if err != nil {
			failed++
			b.logger.WarnContext(ctx, "Failed to broadcast", "chat_id", chatID, "error", err)
			continue
		}

		sent++
		if record != nil {
			if err := record(ctx, chatID, messageID); err != nil {
				b.logger.WarnContext(ctx, "Failed to record broadcast", "chat_id", chatID, "error", err)
			}
		}
		b.sleep(ctx, b.pace)
	}
	return sent, failed
}

func (b *Broadcaster) copyOnce(ctx context.Context, client platform.Client, src Source, chatID int64) (int64, error) {
	return client.CopyMessage(ctx, platform.CopyOptions{
		ChatID:     chatID,
		FromChatID: src.FromChatID,
		MessageID:  src.MessageID,
	})
}
