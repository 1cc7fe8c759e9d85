package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"quiz-squad/internal/app"
	"quiz-squad/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{domain.ErrNoIdentity, http.StatusUnauthorized, "no_identity"},
	{domain.ErrForbiddenChannel, http.StatusForbidden, "forbidden_channel"},
	{domain.ErrProfileNotFound, http.StatusNotFound, "profile_not_found"},
	{domain.ErrQuestionNotFound, http.StatusNotFound, "question_not_found"},
	{domain.ErrSetupRequired, http.StatusServiceUnavailable, "setup_required"},
	{domain.ErrSelfFriend, http.StatusBadRequest, "self_friend"},
	{app.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
	{errGuest, http.StatusForbidden, "guest"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
}

var (
	errGuest      = errors.New("guests have no stored profile")
	errBadRequest = errors.New("bad request")
)

// writeError maps domain errors to a JSON {error, code} response.
func writeError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			c.AbortWithStatusJSON(e.status, errorBody{Error: err.Error(), Code: e.code})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
}
