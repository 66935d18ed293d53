// Package server exposes the webhook ingress that receives platform updates
// for every hosted bot and hands them to the relay engine.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-telegram/bot/models"
	"github.com/goccy/go-json"

	"github.com/feedrelay/feedrelay/internal/database"
	"github.com/feedrelay/feedrelay/internal/platform"
	"github.com/feedrelay/feedrelay/internal/relay"
	"github.com/feedrelay/feedrelay/internal/secrets"
)

// SecretTokenHeader carries the webhook secret set at registration time.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Server routes webhook deliveries to the relay engine. One instance serves
// every hosted bot; tenants are told apart by the UUID path segment.
type Server struct {
	store    database.Store
	clients  *platform.ClientCache
	engine   *relay.Engine
	verifier *secrets.Verifier
	box      *secrets.Box
	logger   *slog.Logger
}

// New creates the webhook server with all required dependencies.
func New(
	store database.Store,
	clients *platform.ClientCache,
	engine *relay.Engine,
	verifier *secrets.Verifier,
	box *secrets.Box,
	logger *slog.Logger,
) *Server {
	return &Server{
		store:    store,
		clients:  clients,
		engine:   engine,
		verifier: verifier,
		box:      box,
		logger:   logger.With("component", "server"),
	}
}

// Routes builds the HTTP handler. The builder path is shared by design; the
// per-bot path carries the tenant UUID.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/builder", s.handleBuilderWebhook)
	r.Post("/webhook/{botUUID}", s.handleBotWebhook)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleBotWebhook processes an update addressed to one hosted bot. The
// secret header is checked before any tenant state is touched.
func (s *Server) handleBotWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	botUUID := chi.URLParam(r, "botUUID")

	secret := r.Header.Get(SecretTokenHeader)
	if !s.verifier.Verify(botUUID, secret) && !s.verifier.VerifyGlobal(secret) {
		s.logger.WarnContext(ctx, "Webhook secret mismatch", "bot_uuid", botUUID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var update models.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.logger.WarnContext(ctx, "Malformed webhook payload", "bot_uuid", botUUID, "error", err)
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	bot, err := s.store.GetBotByUUID(ctx, botUUID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to resolve bot", "bot_uuid", botUUID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if bot == nil {
		// Unknown or disabled tenant. The platform drops the update.
		http.Error(w, "unknown bot", http.StatusNotFound)
		return
	}

	token, err := s.box.Open(bot.Token)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to open bot token", "bot_uuid", botUUID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	client, err := s.clients.Get(token)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build platform client", "bot_uuid", botUUID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.engine.Process(ctx, bot, client, &update); err != nil {
		// A 500 makes the platform redeliver, so only errors worth a retry
		// surface as one.
		if retryable(err) {
			s.logger.WarnContext(ctx, "Update processing failed, requesting redelivery",
				"bot_uuid", botUUID, "update_id", update.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.logger.ErrorContext(ctx, "Update processing failed",
			"bot_uuid", botUUID, "update_id", update.ID, "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

// handleBuilderWebhook accepts deliveries on the shared builder path. Builder
// conversations are not relayed, so a verified update is acknowledged and
// dropped.
func (s *Server) handleBuilderWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.verifier.VerifyGlobal(r.Header.Get(SecretTokenHeader)) {
		s.logger.WarnContext(ctx, "Builder webhook secret mismatch")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var update models.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	s.logger.DebugContext(ctx, "Builder update acknowledged", "update_id", update.ID)
	w.WriteHeader(http.StatusOK)
}

func retryable(err error) bool {
	var perr *platform.Error
	if !errors.As(err, &perr) {
		// Storage and other local failures are worth a redelivery.
		return true
	}
	switch perr.Kind {
	case platform.KindTransient, platform.KindRateLimited:
		return true
	default:
		return false
	}
}
