// Package api exposes the draft engine over HTTP: commands, snapshots,
// arena history and a server-sent event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
	"github.com/okian/draftd/internal/domain/draft"
	"github.com/okian/draftd/internal/engine"
)

// Commands are the state-changing draft operations.
type Commands interface {
	CreateSession(ctx context.Context, arenaID, managerID string, settings draft.Settings) (*draft.View, error)
	AddCaptain(ctx context.Context, arenaID, userID string) (*draft.View, error)
	RemoveCaptain(ctx context.Context, arenaID, userID string) (*draft.View, error)
	PlaceBid(ctx context.Context, sessionID, captainID, playerID string, amount int) (*draft.View, error)
	SkipTurn(ctx context.Context, sessionID, requesterID string) (*draft.View, error)
	CancelSession(ctx context.Context, sessionID, requesterID string) (*draft.View, error)
}

// Queries read sessions without mutating them.
type Queries interface {
	Snapshot(ctx context.Context, sessionID string) (*draft.View, error)
	SnapshotByArena(ctx context.Context, arenaID string) (*draft.View, error)
	History(ctx context.Context, arenaID string) ([]*draft.View, error)
}

// Streamer attaches event stream clients to the bus.
type Streamer interface {
	Subscribe(topics []eventbus.Topic, h eventbus.Handler) (eventbus.Handle, error)
	Unsubscribe(h eventbus.Handle)
}

// Idempotency remembers Idempotency-Key headers.
type Idempotency interface {
	Claim(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Commands
	Queries
	Streamer
	Idempotency
}

// Server wires HTTP routes for the draft API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	sessionsHandler *SessionsHandler
	eventsHandler   *EventsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		sessionsHandler: NewSessionsHandler(deps),
		eventsHandler:   NewEventsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("GET /events", MetricsMiddleware(s.eventsHandler.HandleStream, "events"))

	h := s.sessionsHandler
	mux.HandleFunc("POST /sessions", MetricsMiddleware(h.HandleCreate, "sessions_create"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(h.HandleGet, "sessions_get"))
	mux.HandleFunc("POST /sessions/{id}/bids", MetricsMiddleware(h.HandleBid, "sessions_bid"))
	mux.HandleFunc("POST /sessions/{id}/skip", MetricsMiddleware(h.HandleSkip, "sessions_skip"))
	mux.HandleFunc("POST /sessions/{id}/cancel", MetricsMiddleware(h.HandleCancel, "sessions_cancel"))
	mux.HandleFunc("POST /arenas/{arena}/captains", MetricsMiddleware(h.HandleJoin, "captains_add"))
	mux.HandleFunc("DELETE /arenas/{arena}/captains/{user}", MetricsMiddleware(h.HandleLeave, "captains_remove"))
	mux.HandleFunc("GET /arenas/{arena}/session", MetricsMiddleware(h.HandleGetByArena, "arena_session"))
	mux.HandleFunc("GET /arenas/{arena}/history", MetricsMiddleware(h.HandleHistory, "arena_history"))
}

type ackResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Reasons []draft.Reason `json:"reasons,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure maps engine errors onto HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	if ve, ok := draft.AsValidation(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:    "rejected",
			Message: ve.Error(),
			Reasons: ve.Reasons,
		})
		return
	}
	switch {
	case errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, draft.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, draft.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, draft.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "busy", err)
	case errors.Is(err, engine.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", err)
	case errors.Is(err, draft.ErrInvariant):
		writeError(w, http.StatusInternalServerError, "invariant_violation", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
