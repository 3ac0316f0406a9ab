package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mindsync/internal/store"
)

// UserLookup resolves accounts by id. *auth.Service implements it.
type UserLookup interface {
	User(ctx context.Context, userID string) (*store.User, error)
}

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	users UserLookup
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(users UserLookup, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		users: users,
		log:   logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	IsGuest  bool   `json:"isGuest"`
}

// Me returns the account behind the bearer token.
// GET /api/me
func (h *UserHandlers) Me(c *gin.Context) {
	currentUserID, exists := c.Get(ContextKeyUserID)
	if !exists {
		h.log.Error().Msg("user_id not found in context")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	uid, ok := currentUserID.(string)
	if !ok {
		h.log.Error().Msg("invalid user_id type in context")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	user, err := h.users.User(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Avatar:   user.Avatar,
		IsGuest:  user.IsGuest,
	})
}
