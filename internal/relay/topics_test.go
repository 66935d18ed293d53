package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
)

func groupBot(t *testing.T, store database.Store, mode database.CommunicationMode) *database.Bot {
	t.Helper()
	return newTestBot(t, store, func(b *database.Bot) {
		b.CommunicationMode = mode
		b.ForwardChatID.Int64 = testGroupID
		b.ForwardChatID.Valid = true
	})
}

func TestTopicCreatedOnFirstRelay(t *testing.T) {
	engine, store := newTestEngine(t)
	bot := groupBot(t, store, database.ModeStandard)
	client := newFakeClient()
	ctx := context.Background()

	if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 101, "hi"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(client.topics) != 1 {
		t.Fatalf("topics created = %d, want 1", len(client.topics))
	}
	if client.topics[0].ChatID != testGroupID {
		t.Errorf("topic created in chat %d, want the linked group", client.topics[0].ChatID)
	}
	if client.topics[0].Name != "Ada" {
		t.Errorf("topic title = %q, want the user's display name", client.topics[0].Name)
	}

	chat, err := store.GetFeedbackChat(ctx, bot.ID, testUserID)
	if err != nil || chat == nil {
		t.Fatalf("feedback chat missing: %v", err)
	}
	if !chat.TopicID.Valid {
		t.Fatal("topic id not persisted")
	}
	if client.forwards[0].TopicID != chat.TopicID.Int64 {
		t.Error("relay did not use the created topic")
	}

	// second message reuses the stored topic
	if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 102, "again"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(client.topics) != 1 {
		t.Errorf("topics created = %d, want still 1", len(client.topics))
	}
}

func TestTopicTitleByMode(t *testing.T) {
	tests := []struct {
		mode database.CommunicationMode
		want func(chatID int64) string
	}{
		{database.ModeStandard, func(int64) string { return "Ada" }},
		{database.ModePrivate, func(int64) string { return "Ada" }},
		{database.ModeAnonymous, func(chatID int64) string { return fmt.Sprintf("#%d", chatID) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			engine, store := newTestEngine(t)
			bot := groupBot(t, store, tt.mode)
			client := newFakeClient()
			ctx := context.Background()

			if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 111, "hi"))); err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			chat, _ := store.GetFeedbackChat(ctx, bot.ID, testUserID)
			if len(client.topics) != 1 {
				t.Fatalf("topics created = %d, want 1", len(client.topics))
			}
			if got, want := client.topics[0].Name, tt.want(chat.ID); got != want {
				t.Errorf("topic title = %q, want %q", got, want)
			}
		})
	}
}

func TestAnonymousIntroHidesIdentity(t *testing.T) {
	engine, store := newTestEngine(t)
	bot := groupBot(t, store, database.ModeAnonymous)
	client := newFakeClient()
	ctx := context.Background()

	if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 115, "hello"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if client.sentContaining("Ada") != 0 || client.sentContaining("@ada") != 0 || client.sentContaining("tg://user") != 0 {
		t.Errorf("anonymous intro leaked identity: %v", client.sentTexts())
	}
	if len(client.copies) != 1 {
		t.Errorf("anonymous mode must copy, got %d copies and %d forwards", len(client.copies), len(client.forwards))
	}
}

func TestTopicRecreatedAfterDeletion(t *testing.T) {
	engine, store := newTestEngine(t)
	bot := groupBot(t, store, database.ModeStandard)
	client := newFakeClient()
	ctx := context.Background()

	if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 121, "first"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	chat, _ := store.GetFeedbackChat(ctx, bot.ID, testUserID)
	oldTopic := chat.TopicID.Int64

	// the thread is deleted out from under us: next delivery fails once
	client.forwardErrs = []error{
		&platform.Error{Kind: platform.KindTopicMissing, Err: errors.New("thread not found")},
	}

	if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 122, "second"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	chat, _ = store.GetFeedbackChat(ctx, bot.ID, testUserID)
	if !chat.TopicID.Valid || chat.TopicID.Int64 == oldTopic {
		t.Errorf("topic id = %v, want a fresh topic", chat.TopicID)
	}
	if len(client.topics) != 2 {
		t.Errorf("topics created = %d, want 2", len(client.topics))
	}

	// mappings for the dead thread are gone, the retried message is mapped
	if m, _ := store.MappingByUserMessage(ctx, bot.ID, testUserID, 121); m != nil {
		t.Error("stale mapping for the deleted thread must be cleared")
	}
	m, err := store.MappingByUserMessage(ctx, bot.ID, testUserID, 122)
	if err != nil || m == nil {
		t.Fatalf("retried message not mapped: %v", err)
	}

	// the new topic sticks for the next message
	client.forwardErrs = nil
	if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 123, "third"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(client.topics) != 2 {
		t.Errorf("topics created = %d, want still 2", len(client.topics))
	}
	last := client.forwards[len(client.forwards)-1]
	if last.TopicID != chat.TopicID.Int64 {
		t.Error("subsequent relay did not reuse the recreated topic")
	}
}

func TestSecondTopicFailurePropagates(t *testing.T) {
	engine, store := newTestEngine(t)
	bot := groupBot(t, store, database.ModeStandard)
	client := newFakeClient()
	ctx := context.Background()

	if err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 131, "first"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	missing := &platform.Error{Kind: platform.KindTopicMissing, Err: errors.New("thread not found")}
	client.forwardErrs = []error{missing, missing}

	err := engine.Process(ctx, bot, client, updateWithMessage(privateMessage(testUser(), 132, "second")))
	if err == nil {
		t.Fatal("second delivery failure must propagate")
	}
}
