package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"quiz-squad/internal/domain"
)

// Session is an identity plus the relay token issued for it. AccountKey is
// only set when the session registered a new account.
type Session struct {
	Identity   domain.Identity `json:"identity"`
	Token      string          `json:"token"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	AccountKey string          `json:"accountKey,omitempty"`
}

// API calls the relay's HTTP endpoints. After a session is obtained it also
// serves as the coordinator's question generator, code checker and result
// recorder.
type API struct {
	base   string
	client *http.Client
	token  string
}

// NewAPI returns a client for the relay at baseURL (http or https).
func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{base: strings.TrimRight(baseURL, "/"), client: client}
}

// WebSocketURL returns the relay websocket address for the base URL.
func (a *API) WebSocketURL() string {
	u := a.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Token returns the current session token.
func (a *API) Token() string { return a.token }

// GuestSession obtains a guest identity and keeps its token.
func (a *API) GuestSession(ctx context.Context, name, avatar string) (Session, error) {
	return a.session(ctx, "/api/session/guest", map[string]string{"name": name, "avatar": avatar})
}

// AccountSession signs in to id with its account key, or registers name when
// id is empty. With an empty key the current token must belong to id.
func (a *API) AccountSession(ctx context.Context, id, key, name, avatar string) (Session, error) {
	return a.session(ctx, "/api/session/account", map[string]string{"id": id, "key": key, "name": name, "avatar": avatar})
}

func (a *API) session(ctx context.Context, path string, body any) (Session, error) {
	var s Session
	if err := a.do(ctx, http.MethodPost, path, body, &s); err != nil {
		return Session{}, err
	}
	a.token = s.Token
	return s, nil
}

// GenerateQuestion asks the relay's question service for a round question.
func (a *API) GenerateQuestion(ctx context.Context, req domain.QuestionRequest) (domain.StoryNode, error) {
	var node domain.StoryNode
	err := a.do(ctx, http.MethodPost, "/api/questions", req, &node)
	return node, err
}

// RoomLive reports whether anyone is subscribed to the room's channel.
func (a *API) RoomLive(ctx context.Context, code string) (bool, error) {
	var room struct {
		Live bool `json:"live"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(code), nil, &room); err != nil {
		return false, err
	}
	return room.Live, nil
}

// RecordResult posts this session's final score. The relay attributes it to
// the token's identity, so playerID only has to match it.
func (a *API) RecordResult(ctx context.Context, playerID string, score int, won bool) error {
	return a.do(ctx, http.MethodPost, "/api/results", map[string]any{"score": score, "won": won}, nil)
}

// Ranking returns the top entries and whether the store still needs setup.
func (a *API) Ranking(ctx context.Context, limit int) ([]domain.RankingEntry, bool, error) {
	var out struct {
		Items         []domain.RankingEntry `json:"items"`
		SetupRequired bool                  `json:"setupRequired"`
	}
	path := fmt.Sprintf("/api/ranking?limit=%d", limit)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, false, err
	}
	return out.Items, out.SetupRequired, nil
}

// APIError is a non-2xx relay reply.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay %d %s: %s", e.Status, e.Code, e.Message)
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return apiError(resp.StatusCode, e.Code, e.Error)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func apiError(status int, code, msg string) error {
	switch code {
	case "invalid_token":
		return domain.ErrInvalidToken
	case "profile_not_found":
		return domain.ErrProfileNotFound
	case "setup_required":
		return domain.ErrSetupRequired
	}
	return &APIError{Status: status, Code: code, Message: msg}
}
