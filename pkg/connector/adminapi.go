// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-tweetbridge/pkg/store"
	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

// maxRequestBodySize is the maximum allowed admin request body (1 MB).
const maxRequestBodySize = 1 << 20

// Controller is the part of the supervisor driven by the admin API.
type Controller interface {
	ScheduleReload()
	Inject(ctx context.Context, post *twitter.Post, bypass bool, channelID string) (bool, error)
}

// SubscriptionStore persists which channels follow which accounts.
type SubscriptionStore interface {
	Subscribe(ctx context.Context, sub store.Subscription) error
	Unsubscribe(ctx context.Context, accountID, channelID string) (bool, error)
	Subscriptions(ctx context.Context) ([]store.Subscription, error)
}

// AdminAPI serves the operator endpoints.
type AdminAPI struct {
	ctrl     Controller
	subs     SubscriptionStore
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

// NewAdminAPI creates the API. A nil gatherer disables /metrics.
func NewAdminAPI(ctrl Controller, subs SubscriptionStore, gatherer prometheus.Gatherer, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{
		ctrl:     ctrl,
		subs:     subs,
		gatherer: gatherer,
		log:      log.With().Str("component", "admin_api").Logger(),
	}
}

// Handler returns the routed endpoints.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/reload", a.HandleReload)
	mux.HandleFunc("/api/inject", a.HandleInject)
	mux.HandleFunc("/api/subscriptions", a.HandleSubscriptions)
	if a.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (a *AdminAPI) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.log.Info().Str("addr", addr).Msg("Starting bridge admin API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// HandleReload is an HTTP handler for POST /api/reload. The stream is
// reconnected with a fresh account list at the next reload check.
func (a *AdminAPI) HandleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Reload requested")
	a.ctrl.ScheduleReload()
	a.writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": true})
}

type injectRequest struct {
	Post      json.RawMessage `json:"post"`
	Bypass    bool            `json:"bypass"`
	ChannelID string          `json:"channel_id"`
}

// HandleInject is an HTTP handler for POST /api/inject. It relays a post
// supplied by the operator through the normal pipeline.
func (a *AdminAPI) HandleInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req injectRequest
	if !a.readJSON(w, r, &req) {
		return
	}
	if len(req.Post) == 0 {
		http.Error(w, "missing post", http.StatusBadRequest)
		return
	}
	post, err := twitter.ParsePost(req.Post)
	if err != nil {
		http.Error(w, "invalid post", http.StatusBadRequest)
		return
	}
	if post.IDStr == "" || post.User.IDStr == "" {
		http.Error(w, "post needs id_str and user.id_str", http.StatusBadRequest)
		return
	}

	a.log.Info().
		Str("remote_addr", r.RemoteAddr).
		Str("post_id", post.IDStr).
		Bool("bypass", req.Bypass).
		Str("channel_id", req.ChannelID).
		Msg("Manual post injection requested")

	started, err := a.ctrl.Inject(r.Context(), post, req.Bypass, req.ChannelID)
	if err != nil {
		a.log.Warn().Err(err).Str("post_id", post.IDStr).Msg("Failed to inject post")
		http.Error(w, "bridge unavailable", http.StatusServiceUnavailable)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]bool{"started": started})
}

type subscriptionRequest struct {
	AccountID string `json:"account_id"`
	Handle    string `json:"handle"`
	ChannelID string `json:"channel_id"`
}

// HandleSubscriptions is an HTTP handler for /api/subscriptions. GET lists
// subscriptions, POST adds one, DELETE removes one. Changes schedule a
// reload.
func (a *AdminAPI) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		subs, err := a.subs.Subscriptions(ctx)
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to list subscriptions")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if subs == nil {
			subs = []store.Subscription{}
		}
		a.writeJSON(w, http.StatusOK, subs)

	case http.MethodPost:
		var req subscriptionRequest
		if !a.readJSON(w, r, &req) {
			return
		}
		if req.AccountID == "" || req.ChannelID == "" {
			http.Error(w, "account_id and channel_id are required", http.StatusBadRequest)
			return
		}
		sub := store.Subscription{AccountID: req.AccountID, Handle: req.Handle, ChannelID: req.ChannelID}
		if err := a.subs.Subscribe(ctx, sub); err != nil {
			a.log.Error().Err(err).Msg("Failed to add subscription")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		a.log.Info().
			Str("account_id", req.AccountID).
			Str("handle", req.Handle).
			Str("channel_id", req.ChannelID).
			Msg("Subscription added")
		a.ctrl.ScheduleReload()
		a.writeJSON(w, http.StatusCreated, sub)

	case http.MethodDelete:
		var req subscriptionRequest
		if !a.readJSON(w, r, &req) {
			return
		}
		if req.AccountID == "" || req.ChannelID == "" {
			http.Error(w, "account_id and channel_id are required", http.StatusBadRequest)
			return
		}
		removed, err := a.subs.Unsubscribe(ctx, req.AccountID, req.ChannelID)
		if err != nil {
			a.log.Error().Err(err).Msg("Failed to remove subscription")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !removed {
			http.Error(w, "subscription not found", http.StatusNotFound)
			return
		}
		a.log.Info().
			Str("account_id", req.AccountID).
			Str("channel_id", req.ChannelID).
			Msg("Subscription removed")
		a.ctrl.ScheduleReload()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *AdminAPI) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write response")
	}
}
