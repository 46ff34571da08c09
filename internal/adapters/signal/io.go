package signal

import (
	"context"
	"io"
	"time"

	"github.com/dkeye/Board/internal/app"
	"github.com/dkeye/Board/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(ctl.opts.WriteWait))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sess *app.Session, c *WsSignalConn) {
	sid := string(sess.ID())
	defer func() {
		log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump closing")
		sess.Close()
		cancel()
		c.Close()
	}()

	pongWait := ctl.opts.pongWait()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", sid).Msg("readPump ctx done")
			return
		default:
			data, oversized, err := ctl.readFrame(c)
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", sid).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			if oversized {
				sess.Discard(domain.ErrFrameTooLarge)
				continue
			}
			sess.Handle(ctx, data)
		}
	}
}

// readFrame buffers at most ReadLimit bytes of the next message. The rest of
// a longer message is drained so the connection stays usable.
func (ctl *SignalWSController) readFrame(c *WsSignalConn) ([]byte, bool, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, ctl.opts.ReadLimit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) <= ctl.opts.ReadLimit {
		return data, false, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, false, err
	}
	return nil, true, nil
}
