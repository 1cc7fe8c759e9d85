package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"quiz-squad/internal/app"
	"quiz-squad/internal/domain"
	"quiz-squad/internal/identity"
)

const identityKey = "identity"

type apiHandler struct {
	deps Deps
}

type sessionRequest struct {
	ID     string `json:"id"`
	Key    string `json:"key,omitempty"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type sessionResponse struct {
	Identity   domain.Identity `json:"identity"`
	Token      string          `json:"token"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	AccountKey string          `json:"accountKey,omitempty"`
}

type friendRequest struct {
	FriendID string `json:"friendId"`
}

type resultRequest struct {
	Score int  `json:"score"`
	Won   bool `json:"won"`
}

type roomResponse struct {
	Code        string `json:"code"`
	Live        bool   `json:"live"`
	Subscribers int    `json:"subscribers"`
}

type listResponse[T any] struct {
	Items         []T  `json:"items"`
	SetupRequired bool `json:"setupRequired,omitempty"`
}

func requireIdentity(tokens *identity.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(c, domain.ErrNoIdentity)
			return
		}
		who, err := tokens.Verify(token)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(identityKey, who)
		c.Next()
	}
}

func caller(c *gin.Context) domain.Identity {
	who, _ := c.Get(identityKey)
	id, _ := who.(domain.Identity)
	return id
}

func (h *apiHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *apiHandler) guestSession(c *gin.Context) {
	var req sessionRequest
	// an empty body is a nameless guest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	who := identity.NewProvider(nil).SignInGuest(req.Name, req.Avatar)
	h.issue(c, who, "")
}

// accountSession registers a new profile when only a name is given and
// returns its account key once. Signing in to an existing id needs that key,
// or a still valid token for the same account.
func (h *apiHandler) accountSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	provider := identity.NewProvider(h.deps.Accounts)

	var (
		who domain.Identity
		key string
		err error
	)
	switch {
	case req.ID != "":
		if err = h.authorizeAccount(c, req); err == nil {
			who, err = provider.SignIn(c.Request.Context(), req.ID)
		}
	case strings.TrimSpace(req.Name) != "":
		var name string
		if name, err = app.ValidateName(req.Name); err == nil {
			who, err = provider.Register(c.Request.Context(), name, req.Avatar)
		}
		if err == nil {
			key, err = h.deps.Tokens.IssueAccountKey(who.ID)
		}
	default:
		err = fmt.Errorf("%w: id or name required", errBadRequest)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	h.issue(c, who, key)
}

func (h *apiHandler) authorizeAccount(c *gin.Context, req sessionRequest) error {
	if req.Key != "" {
		return h.deps.Tokens.VerifyAccountKey(req.Key, req.ID)
	}
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		return fmt.Errorf("%w: account key required", domain.ErrInvalidToken)
	}
	who, err := h.deps.Tokens.Verify(token)
	if err != nil {
		return err
	}
	if who.Guest || who.ID != req.ID {
		return fmt.Errorf("%w: token belongs to another account", domain.ErrInvalidToken)
	}
	return nil
}

func (h *apiHandler) issue(c *gin.Context, who domain.Identity, accountKey string) {
	token, expires, err := h.deps.Tokens.Issue(who)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Identity: who, Token: token, ExpiresAt: expires, AccountKey: accountKey})
}

func (h *apiHandler) profile(c *gin.Context) {
	p, err := h.deps.Profiles.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *apiHandler) updateProfile(c *gin.Context) {
	who := caller(c)
	if who.Guest {
		writeError(c, errGuest)
		return
	}
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	p, err := h.deps.Profiles.UpdateProfile(c.Request.Context(), who.ID, req.Name, req.Avatar)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *apiHandler) ranking(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.deps.Profiles.Ranking(c.Request.Context(), limit)
	c.JSON(http.StatusOK, listResponse[domain.RankingEntry]{
		Items:         entries,
		SetupRequired: errors.Is(err, domain.ErrSetupRequired),
	})
}

func (h *apiHandler) friends(c *gin.Context) {
	friends, err := h.deps.Profiles.Friends(c.Request.Context(), caller(c).ID)
	c.JSON(http.StatusOK, listResponse[domain.Profile]{
		Items:         friends,
		SetupRequired: errors.Is(err, domain.ErrSetupRequired),
	})
}

func (h *apiHandler) addFriend(c *gin.Context) {
	who := caller(c)
	if who.Guest {
		writeError(c, errGuest)
		return
	}
	var req friendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FriendID == "" {
		writeError(c, fmt.Errorf("%w: friendId required", errBadRequest))
		return
	}
	if err := h.deps.Profiles.AddFriend(c.Request.Context(), who.ID, req.FriendID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// recordResult adds the caller's own finished game to the ranking.
func (h *apiHandler) recordResult(c *gin.Context) {
	var req resultRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Score < 0 {
		writeError(c, fmt.Errorf("%w: invalid result", errBadRequest))
		return
	}
	if err := h.deps.Profiles.RecordResult(c.Request.Context(), caller(c).ID, req.Score, req.Won); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *apiHandler) question(c *gin.Context) {
	var req domain.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Round <= 0 {
		req.Round = 1
	}
	if req.Difficulty == "" {
		req.Difficulty = domain.DifficultyMedium
	}
	q, err := h.deps.Questions.GenerateQuestion(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *apiHandler) room(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	n, err := h.deps.Relay.RoomLive(c.Request.Context(), code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, roomResponse{Code: code, Live: n > 0, Subscribers: n})
}

// roomQR renders a PNG QR code linking to the client with the room prefilled.
func (h *apiHandler) roomQR(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	link := strings.TrimRight(h.deps.PublicURL, "/") + "/?room=" + code
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
