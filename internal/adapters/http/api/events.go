package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/draftd/internal/adapters/mq/eventbus"
)

const (
	streamBuffer    = 64
	streamKeepAlive = 15 * time.Second
)

// EventsHandler streams bus events as server-sent events.
type EventsHandler struct {
	deps      Streamer
	keepAlive time.Duration
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Streamer) *EventsHandler {
	return &EventsHandler{deps: deps, keepAlive: streamKeepAlive}
}

// HandleStream handles GET /events. Optional query parameters: session
// restricts to one session id, topics is a comma separated topic list.
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	const op = "api.stream_events"

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", NewKind(op, ErrStreaming))
		return
	}

	topics, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	session := r.URL.Query().Get("session")

	ctx := r.Context()
	events := make(chan eventbus.Event, streamBuffer)
	handle, err := h.deps.Subscribe(topics, func(_ context.Context, ev eventbus.Event) error {
		if session != "" && ev.SessionID != session {
			return nil
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		return
	}
	defer h.deps.Unsubscribe(handle)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseTopics(raw string) ([]eventbus.Topic, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var topics []eventbus.Topic
	for _, name := range strings.Split(raw, ",") {
		t, ok := eventbus.ParseTopic(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("%w: %s", eventbus.ErrUnknownTopic, name)
		}
		topics = append(topics, t)
	}
	return topics, nil
}
