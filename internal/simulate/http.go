package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/okian/draftd/internal/domain/draft"
)

// errNotFound marks a 404 from the service.
var errNotFound = errors.New("not found")

// apiError is a non-2xx response.
type apiError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Reasons []draft.Reason `json:"reasons"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *apiError) Is(target error) bool {
	return target == errNotFound && e.Status == http.StatusNotFound
}

// rejected reports whether the service refused the command on rule grounds.
func rejected(err error) (*apiError, bool) {
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusUnprocessableEntity {
		return ae, true
	}
	return nil, false
}

// client wraps http.Client with JSON helpers for the draft API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{base: base, http: &http.Client{Timeout: timeout}}
}

// do sends body as JSON and decodes a 2xx response into out. Commands carry
// a fresh Idempotency-Key.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		ae := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, ae)
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *client) create(ctx context.Context, arena, manager string, s draft.Settings) (*draft.View, error) {
	var v draft.View
	err := c.do(ctx, http.MethodPost, "/sessions", map[string]any{
		"arenaId": arena, "managerId": manager, "settings": s,
	}, &v)
	return &v, err
}

func (c *client) join(ctx context.Context, arena, user string) error {
	return c.do(ctx, http.MethodPost, "/arenas/"+arena+"/captains", map[string]string{"userId": user}, nil)
}

func (c *client) get(ctx context.Context, id string) (*draft.View, error) {
	var v draft.View
	err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &v)
	return &v, err
}

func (c *client) bid(ctx context.Context, id, captain, player string, amount int) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/bids", map[string]any{
		"captainId": captain, "playerId": player, "amount": amount,
	}, nil)
}

func (c *client) skip(ctx context.Context, id, captain string) error {
	return c.do(ctx, http.MethodPost, "/sessions/"+id+"/skip", map[string]string{"requesterId": captain}, nil)
}

func (c *client) history(ctx context.Context, arena string) ([]*draft.View, error) {
	var views []*draft.View
	err := c.do(ctx, http.MethodGet, "/arenas/"+arena+"/history", nil, &views)
	return views, err
}
