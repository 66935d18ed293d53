package database

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedBot(t *testing.T, store Store, uuid string, telegramID int64) *Bot {
	t.Helper()

	bot := &Bot{
		UUID:                  uuid,
		TelegramID:            telegramID,
		Username:              "testbot",
		Name:                  "Test Bot",
		OwnerID:               9000,
		Token:                 "sealed",
		AllowPhotoMessages:    true,
		AllowVideoMessages:    true,
		AllowVoiceMessages:    true,
		AllowDocumentMessages: true,
		AllowStickerMessages:  true,
		AntifloodSeconds:      60,
		CommunicationMode:     ModeStandard,
		Enabled:               true,
	}
	if err := store.CreateBot(context.Background(), bot); err != nil {
		t.Fatalf("CreateBot() error = %v", err)
	}
	return bot
}

func TestGetBotByUUID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "aaaa-bbbb", 100)

	got, err := store.GetBotByUUID(ctx, "aaaa-bbbb")
	if err != nil {
		t.Fatalf("GetBotByUUID() error = %v", err)
	}
	if got == nil || got.ID != bot.ID {
		t.Fatalf("GetBotByUUID() = %+v, want bot %d", got, bot.ID)
	}

	missing, err := store.GetBotByUUID(ctx, "no-such-uuid")
	if err != nil {
		t.Fatalf("GetBotByUUID() error = %v", err)
	}
	if missing != nil {
		t.Error("unknown uuid must resolve to nil")
	}
}

func TestCreateBotAssignsUUID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot := &Bot{
		TelegramID: 102, OwnerID: 1, Token: "sealed",
		CommunicationMode: ModeStandard, Enabled: true,
	}
	if err := store.CreateBot(ctx, bot); err != nil {
		t.Fatalf("CreateBot() error = %v", err)
	}
	if bot.UUID == "" {
		t.Fatal("CreateBot() left UUID empty")
	}
	if got, _ := store.GetBotByUUID(ctx, bot.UUID); got == nil {
		t.Error("generated UUID does not resolve the bot")
	}
}

func TestGetBotByUUIDSkipsDisabled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot := &Bot{
		UUID: "cccc-dddd", TelegramID: 101, OwnerID: 1, Token: "sealed",
		CommunicationMode: ModeStandard, Enabled: false,
	}
	if err := store.CreateBot(ctx, bot); err != nil {
		t.Fatalf("CreateBot() error = %v", err)
	}

	got, err := store.GetBotByUUID(ctx, "cccc-dddd")
	if err != nil {
		t.Fatalf("GetBotByUUID() error = %v", err)
	}
	if got != nil {
		t.Error("disabled bot must not resolve through the webhook path")
	}
}

func TestMappingUpsertReplacesInPlace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "m-1", 110)

	chat, created, err := store.EnsureFeedbackChat(ctx, bot.ID, 42, "ada")
	if err != nil || !created {
		t.Fatalf("EnsureFeedbackChat() = (%v, %v, %v)", chat, created, err)
	}

	if err := store.UpsertMapping(ctx, bot.ID, chat.ID, 11, 500, false); err != nil {
		t.Fatalf("UpsertMapping() error = %v", err)
	}
	first, err := store.MappingByUserMessage(ctx, bot.ID, 42, 11)
	if err != nil || first == nil {
		t.Fatalf("MappingByUserMessage() = (%v, %v)", first, err)
	}

	// an edited relay replaces the destination id, never duplicates
	if err := store.UpsertMapping(ctx, bot.ID, chat.ID, 11, 501, false); err != nil {
		t.Fatalf("UpsertMapping() error = %v", err)
	}
	second, err := store.MappingByUserMessage(ctx, bot.ID, 42, 11)
	if err != nil || second == nil {
		t.Fatalf("MappingByUserMessage() = (%v, %v)", second, err)
	}
	if second.ID != first.ID {
		t.Error("upsert created a second row for the same source message")
	}
	if second.OwnerMessageID != 501 {
		t.Errorf("owner message id = %d, want 501", second.OwnerMessageID)
	}

	all, err := store.ListChatMappings(ctx, bot.ID, chat.ID)
	if err != nil {
		t.Fatalf("ListChatMappings() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("mapping rows = %d, want 1", len(all))
	}
}

func TestMappingDirectionAwareLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "m-2", 111)
	chat, _, _ := store.EnsureFeedbackChat(ctx, bot.ID, 42, "ada")

	// incoming relay and an owner reply may share an owner-side id space
	if err := store.UpsertMapping(ctx, bot.ID, chat.ID, 11, 500, false); err != nil {
		t.Fatalf("UpsertMapping() error = %v", err)
	}
	if err := store.UpsertMapping(ctx, bot.ID, chat.ID, 12, 600, true); err != nil {
		t.Fatalf("UpsertMapping() error = %v", err)
	}

	incoming, err := store.MappingByOwnerMessage(ctx, bot.ID, 500, false)
	if err != nil || incoming == nil {
		t.Fatalf("incoming lookup = (%v, %v)", incoming, err)
	}
	if incoming.Chat.UserTelegramID != 42 {
		t.Error("joined chat not populated")
	}

	if m, _ := store.MappingByOwnerMessage(ctx, bot.ID, 600, false); m != nil {
		t.Error("outgoing row must not satisfy an incoming lookup")
	}
	outgoing, err := store.MappingByOwnerMessage(ctx, bot.ID, 600, true)
	if err != nil || outgoing == nil {
		t.Fatalf("outgoing lookup = (%v, %v)", outgoing, err)
	}
}

func TestEnsureFeedbackChatRefreshesUsername(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "c-1", 120)

	first, created, err := store.EnsureFeedbackChat(ctx, bot.ID, 42, "old_name")
	if err != nil || !created {
		t.Fatalf("EnsureFeedbackChat() = (%v, %v, %v)", first, created, err)
	}

	second, created, err := store.EnsureFeedbackChat(ctx, bot.ID, 42, "new_name")
	if err != nil {
		t.Fatalf("EnsureFeedbackChat() error = %v", err)
	}
	if created {
		t.Error("existing chat reported as created")
	}
	if second.ID != first.ID {
		t.Error("duplicate chat row created")
	}
	if second.Username != "new_name" {
		t.Errorf("username = %q, want refreshed", second.Username)
	}

	// empty username does not erase the stored one
	third, _, err := store.EnsureFeedbackChat(ctx, bot.ID, 42, "")
	if err != nil {
		t.Fatalf("EnsureFeedbackChat() error = %v", err)
	}
	if third.Username != "new_name" {
		t.Errorf("username = %q, want kept", third.Username)
	}
}

func TestBanIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "b-1", 130)

	_, created, err := store.Ban(ctx, bot.ID, 42, "spam")
	if err != nil || !created {
		t.Fatalf("first Ban() = (created=%v, err=%v), want created", created, err)
	}

	banned, created, err := store.Ban(ctx, bot.ID, 42, "worse spam")
	if err != nil {
		t.Fatalf("second Ban() error = %v", err)
	}
	if created {
		t.Error("second ban reported wasCreated=true")
	}
	if banned.Reason != "worse spam" {
		t.Errorf("reason = %q, want updated", banned.Reason)
	}

	bans, _ := store.ListBans(ctx, bot.ID)
	if len(bans) != 1 {
		t.Errorf("ban rows = %d, want 1", len(bans))
	}

	removed, err := store.Unban(ctx, bot.ID, 42)
	if err != nil || !removed {
		t.Fatalf("Unban() = (%v, %v), want removed", removed, err)
	}
	removed, err = store.Unban(ctx, bot.ID, 42)
	if err != nil {
		t.Fatalf("Unban() error = %v", err)
	}
	if removed {
		t.Error("unbanning a non-banned user must report removed=false")
	}
}

func TestStatsCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "s-1", 140)

	stats, err := store.GetStats(ctx, bot.ID)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.IncomingMessages != 0 || stats.OutgoingMessages != 0 {
		t.Errorf("fresh stats = %+v, want zeros", stats)
	}

	for range 3 {
		if err := store.BumpIncoming(ctx, bot.ID); err != nil {
			t.Fatalf("BumpIncoming() error = %v", err)
		}
	}
	if err := store.BumpOutgoing(ctx, bot.ID); err != nil {
		t.Fatalf("BumpOutgoing() error = %v", err)
	}

	stats, _ = store.GetStats(ctx, bot.ID)
	if stats.IncomingMessages != 3 || stats.OutgoingMessages != 1 {
		t.Errorf("stats = %+v, want 3 incoming, 1 outgoing", stats)
	}
}

func TestSetForwardChatGuardsRedundantWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "f-1", 150)

	groupID := int64(-1001)
	changed, err := store.SetForwardChat(ctx, bot.TelegramID, &groupID)
	if err != nil || !changed {
		t.Fatalf("SetForwardChat() = (%v, %v), want changed", changed, err)
	}

	changed, err = store.SetForwardChat(ctx, bot.TelegramID, &groupID)
	if err != nil {
		t.Fatalf("SetForwardChat() error = %v", err)
	}
	if changed {
		t.Error("setting the same destination again must report no change")
	}

	changed, err = store.SetForwardChat(ctx, bot.TelegramID, nil)
	if err != nil || !changed {
		t.Fatalf("clearing SetForwardChat() = (%v, %v), want changed", changed, err)
	}

	changed, _ = store.SetForwardChat(ctx, bot.TelegramID, nil)
	if changed {
		t.Error("clearing an empty destination must report no change")
	}
}

func TestBroadcastTargetsFiltering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "t-1", 160)

	users := []struct {
		id       int64
		username string
	}{
		{1, "one"},
		{2, ""},
		{3, "three"},
		{4, "four"},
	}
	for _, u := range users {
		if _, _, err := store.EnsureFeedbackChat(ctx, bot.ID, u.id, u.username); err != nil {
			t.Fatalf("EnsureFeedbackChat() error = %v", err)
		}
	}

	all, err := store.BroadcastTargets(ctx, bot.ID, TargetFilter{})
	if err != nil {
		t.Fatalf("BroadcastTargets() error = %v", err)
	}
	if len(all) != 4 {
		t.Errorf("unfiltered targets = %d, want 4", len(all))
	}

	withUsername, err := store.BroadcastTargets(ctx, bot.ID, TargetFilter{UsernameOnly: true})
	if err != nil {
		t.Fatalf("BroadcastTargets() error = %v", err)
	}
	if len(withUsername) != 3 {
		t.Errorf("username-only targets = %v, want 3 entries", withUsername)
	}
	for _, id := range withUsername {
		if id == 2 {
			t.Error("user without username included in username-only broadcast")
		}
	}

	sampled, err := store.BroadcastTargets(ctx, bot.ID, TargetFilter{SampleEvery: 2})
	if err != nil {
		t.Fatalf("BroadcastTargets() error = %v", err)
	}
	if len(sampled) != 2 {
		t.Errorf("sampled targets = %v, want every 2nd of 4", sampled)
	}

	future := time.Now().UTC().Add(24 * time.Hour)
	none, err := store.BroadcastTargets(ctx, bot.ID, TargetFilter{JoinedAfter: &future})
	if err != nil {
		t.Fatalf("BroadcastTargets() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("future joined_after matched %v", none)
	}
}

func TestBotCascadeDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "d-1", 170)

	chat, _, _ := store.EnsureFeedbackChat(ctx, bot.ID, 42, "ada")
	store.UpsertMapping(ctx, bot.ID, chat.ID, 1, 2, false)
	store.Ban(ctx, bot.ID, 43, "")
	store.BumpIncoming(ctx, bot.ID)

	removed, err := store.DeleteBot(ctx, bot.UUID)
	if err != nil || !removed {
		t.Fatalf("DeleteBot() = (%v, %v), want removed", removed, err)
	}

	if c, _ := store.GetFeedbackChat(ctx, bot.ID, 42); c != nil {
		t.Error("feedback chat survived bot deletion")
	}
	if m, _ := store.MappingByUserMessage(ctx, bot.ID, 42, 1); m != nil {
		t.Error("mapping survived bot deletion")
	}
	if banned, _ := store.IsBanned(ctx, bot.ID, 43); banned {
		t.Error("ban survived bot deletion")
	}
}

func TestStampWarningRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bot := seedBot(t, store, "w-1", 180)
	chat, _, _ := store.EnsureFeedbackChat(ctx, bot.ID, 42, "")

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := store.StampWarning(ctx, chat.ID, &at); err != nil {
		t.Fatalf("StampWarning() error = %v", err)
	}
	got, _ := store.GetFeedbackChat(ctx, bot.ID, 42)
	if !got.LastWarningAt.Valid || !got.LastWarningAt.Time.Equal(at) {
		t.Errorf("last_warning_at = %v, want %v", got.LastWarningAt, at)
	}

	if err := store.StampWarning(ctx, chat.ID, nil); err != nil {
		t.Fatalf("StampWarning(nil) error = %v", err)
	}
	got, _ = store.GetFeedbackChat(ctx, bot.ID, 42)
	if got.LastWarningAt.Valid {
		t.Error("nil stamp must clear last_warning_at")
	}
}
