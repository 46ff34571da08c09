package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dkeye/Board/internal/adapters/signal"
	"github.com/dkeye/Board/internal/app"
	"github.com/dkeye/Board/internal/auth"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const identityKey = "identity"

type TokenResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

type AccountHandler struct {
	Accounts *auth.Accounts
}

func (h *AccountHandler) Register(c *gin.Context) {
	var req auth.Credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	token, err := h.Accounts.Register(c.Request.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUserExists):
		c.JSON(http.StatusConflict, gin.H{"error": "username exists"})
		return
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, domain.ErrUsernameEmpty),
		errors.Is(err, domain.ErrUsernameTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.remember(c, token)
	c.JSON(http.StatusOK, TokenResponse{Token: token, Username: req.Username})
}

func (h *AccountHandler) Login(c *gin.Context) {
	var req auth.Credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}
	token, err := h.Accounts.Login(c.Request.Context(), req)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.remember(c, token)
	c.JSON(http.StatusOK, TokenResponse{Token: token, Username: req.Username})
}

func (h *AccountHandler) Logout(c *gin.Context) {
	s := sessions.Default(c)
	s.Delete(signal.SessionTokenKey)
	_ = s.Save()
	c.Status(http.StatusNoContent)
}

// remember stores the token in the cookie session so browser clients can
// open the websocket without repeating it in the URL.
func (h *AccountHandler) remember(c *gin.Context, token string) {
	s := sessions.Default(c)
	s.Set(signal.SessionTokenKey, token)
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
}

type BoardHandler struct {
	Board *app.Board
	Rooms domain.RoomSet
}

func (h *BoardHandler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Board.Rooms()})
}

func (h *BoardHandler) Messages(c *gin.Context) {
	room, err := h.Rooms.Lookup(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		return
	}
	log.Debug().Str("module", "adapters.http").Str("user", c.GetString(identityKey)).Str("room", string(room)).Msg("view requested")
	view, err := h.Board.View(c.Request.Context(), room)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(room)).Msg("view")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": domain.CodeStorageUnavailable})
		return
	}
	c.JSON(http.StatusOK, view)
}

// RequireIdentity accepts a bearer header, a token query parameter or the
// cookie session, in that order.
func RequireIdentity(v core.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			token, _ = sessions.Default(c).Get(signal.SessionTokenKey).(string)
		}
		identity, ok := v.Verify(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
