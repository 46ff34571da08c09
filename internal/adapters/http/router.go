package http

import (
	"context"

	"github.com/dkeye/Board/internal/adapters/signal"
	"github.com/dkeye/Board/internal/app"
	"github.com/dkeye/Board/internal/auth"
	"github.com/dkeye/Board/internal/config"
	"github.com/dkeye/Board/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Sessions *app.Sessions
	Accounts *auth.Accounts
}

// SetupRouter mounts the account API, the room API and the websocket
// endpoint under /api. /ping, /register, /login and /ws are also served
// unprefixed for older clients.
// ctx bounds every websocket connection.
func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("BoardSessions", store))

	ctl := signal.NewSignalWSController(deps.Sessions, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})
	accounts := &AccountHandler{Accounts: deps.Accounts}
	board := &BoardHandler{Board: deps.Sessions.Board, Rooms: deps.Sessions.Rooms}
	ws := func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	}

	for _, g := range []*gin.RouterGroup{r.Group("/api"), r.Group("/")} {
		g.GET("/ping", Ping)
		g.POST("/register", accounts.Register)
		g.POST("/login", accounts.Login)
		g.GET("/ws", ws)
	}

	api := r.Group("/api")
	api.POST("/logout", accounts.Logout)
	api.GET("/rooms", board.ListRooms)
	api.GET("/rooms/:name/messages", RequireIdentity(deps.Sessions.Verifier), board.Messages)

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
