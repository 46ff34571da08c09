package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Board/internal/app"
	"github.com/dkeye/Board/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionTokenKey is the cookie-session key holding the token issued at login.
const SessionTokenKey = "token"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

type SignalWSController struct {
	Sessions *app.Sessions
	opts     Options
}

func NewSignalWSController(sessions *app.Sessions, opts Options) *SignalWSController {
	return &SignalWSController{Sessions: sessions, opts: opts}
}

// WsSignalConn is the adapter-owned transport of one client. Frames are
// queued on a bounded channel drained by writePump; a full queue is
// reported as backpressure instead of blocking the broadcaster.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnectionClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken prefers the token query parameter and falls back to the
// cookie session written at login.
func bearerToken(c *gin.Context) string {
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return ""
	}
	if tok, ok := sessions.Default(c).Get(SessionTokenKey).(string); ok {
		return tok
	}
	return ""
}

// HandleSignal upgrades the request and runs the session bound to it.
// ctx outlives the request and bounds the connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := bearerToken(c)
	room := c.Query("room")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	sess := ctl.Sessions.Open(conn)
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("room", room).Msg("new WS connection")

	if err := sess.Join(ctx, token, room); err != nil {
		code := websocket.ClosePolicyViolation
		if !errors.Is(err, app.ErrRejected) {
			code = websocket.CloseInternalServerErr
		}
		deadline := time.Now().Add(ctl.opts.WriteWait)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, closeReason(err)), deadline)
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cancel, conn)
	go ctl.readPump(ctx, cancel, sess, conn)
}

// closeReason keeps the close frame within the 123 byte control payload.
func closeReason(err error) string {
	reason := err.Error()
	if len(reason) > 120 {
		reason = reason[:120]
	}
	return reason
}
