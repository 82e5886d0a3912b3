package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/okian/draftd/internal/domain/draft"
)

// IdempotencyHeader carries a client-chosen key for at-most-once commands.
const IdempotencyHeader = "Idempotency-Key"

type createRequest struct {
	ArenaID   string         `json:"arenaId"`
	ManagerID string         `json:"managerId"`
	Settings  draft.Settings `json:"settings"`
}

func (c createRequest) validate() error {
	if strings.TrimSpace(c.ManagerID) == "" {
		return errors.New("missing managerId")
	}
	return nil
}

type captainRequest struct {
	UserID string `json:"userId"`
}

func (c captainRequest) validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("missing userId")
	}
	return nil
}

type bidRequest struct {
	CaptainID string `json:"captainId"`
	PlayerID  string `json:"playerId"`
	Amount    int    `json:"amount"`
}

func (b bidRequest) validate() error {
	switch {
	case strings.TrimSpace(b.CaptainID) == "":
		return errors.New("missing captainId")
	case strings.TrimSpace(b.PlayerID) == "":
		return errors.New("missing playerId")
	}
	return nil
}

type requesterRequest struct {
	RequesterID string `json:"requesterId"`
}

func (r requesterRequest) validate() error {
	if strings.TrimSpace(r.RequesterID) == "" {
		return errors.New("missing requesterId")
	}
	return nil
}

type validator interface{ validate() error }

// errInProgress answers a repeated key whose first request has not returned.
var errInProgress = errors.New("a request with this Idempotency-Key is still running")

// SessionsHandler serves draft commands and snapshots.
type SessionsHandler struct {
	deps Dependencies

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps Dependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps, inflight: make(map[string]struct{})}
}

// HandleCreate handles POST /sessions.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	h.command(w, r, "api.create_session", &req, http.StatusCreated, func(ctx context.Context) (*draft.View, error) {
		return h.deps.CreateSession(ctx, req.ArenaID, req.ManagerID, req.Settings)
	})
}

// HandleJoin handles POST /arenas/{arena}/captains.
func (h *SessionsHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req captainRequest
	arena := r.PathValue("arena")
	h.command(w, r, "api.add_captain", &req, http.StatusOK, func(ctx context.Context) (*draft.View, error) {
		return h.deps.AddCaptain(ctx, arena, req.UserID)
	})
}

// HandleLeave handles DELETE /arenas/{arena}/captains/{user}.
func (h *SessionsHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	arena, user := r.PathValue("arena"), r.PathValue("user")
	h.command(w, r, "api.remove_captain", nil, http.StatusOK, func(ctx context.Context) (*draft.View, error) {
		return h.deps.RemoveCaptain(ctx, arena, user)
	})
}

// HandleBid handles POST /sessions/{id}/bids.
func (h *SessionsHandler) HandleBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	id := r.PathValue("id")
	h.command(w, r, "api.place_bid", &req, http.StatusOK, func(ctx context.Context) (*draft.View, error) {
		return h.deps.PlaceBid(ctx, id, req.CaptainID, req.PlayerID, req.Amount)
	})
}

// HandleSkip handles POST /sessions/{id}/skip.
func (h *SessionsHandler) HandleSkip(w http.ResponseWriter, r *http.Request) {
	var req requesterRequest
	id := r.PathValue("id")
	h.command(w, r, "api.skip_turn", &req, http.StatusOK, func(ctx context.Context) (*draft.View, error) {
		return h.deps.SkipTurn(ctx, id, req.RequesterID)
	})
}

// HandleCancel handles POST /sessions/{id}/cancel.
func (h *SessionsHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req requesterRequest
	id := r.PathValue("id")
	h.command(w, r, "api.cancel_session", &req, http.StatusOK, func(ctx context.Context) (*draft.View, error) {
		return h.deps.CancelSession(ctx, id, req.RequesterID)
	})
}

// HandleGet handles GET /sessions/{id}.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleGetByArena handles GET /arenas/{arena}/session.
func (h *SessionsHandler) HandleGetByArena(w http.ResponseWriter, r *http.Request) {
	v, err := h.deps.SnapshotByArena(r.Context(), r.PathValue("arena"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleHistory handles GET /arenas/{arena}/history.
func (h *SessionsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	views, err := h.deps.History(r.Context(), r.PathValue("arena"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if views == nil {
		views = []*draft.View{}
	}
	writeJSON(w, http.StatusOK, views)
}

// command decodes body into req, applies the Idempotency-Key header and
// runs exec. A rejected or failed command releases its key. A repeat of a key
// still executing gets 409 in_progress, a repeat of a finished one gets 200
// duplicate.
func (h *SessionsHandler) command(w http.ResponseWriter, r *http.Request, op string, req validator, okStatus int, exec func(context.Context) (*draft.View, error)) {
	if req != nil {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			writeFailure(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		if err := req.validate(); err != nil {
			writeFailure(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" {
		key = r.Method + " " + r.URL.Path + " " + key
		claimed, running := h.claim(r.Context(), key)
		switch {
		case running:
			writeError(w, http.StatusConflict, "in_progress", errInProgress)
			return
		case !claimed:
			writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate"})
			return
		}
	}

	v, err := exec(r.Context())
	if key != "" {
		h.done(r.Context(), key, err != nil)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, okStatus, v)
}

// claim records key with the deduper. running reports a repeat whose first
// request is still executing.
func (h *SessionsHandler) claim(ctx context.Context, key string) (claimed, running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deps.Claim(ctx, key) {
		h.inflight[key] = struct{}{}
		return true, false
	}
	_, running = h.inflight[key]
	return false, running
}

// done ends the in-flight window of key. A failed command also releases the
// key so it can be retried.
func (h *SessionsHandler) done(ctx context.Context, key string, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, key)
	if failed {
		h.deps.Release(ctx, key)
	}
}
