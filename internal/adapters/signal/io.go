package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/metrics"
	"github.com/dkeye/Parley/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		t := time.NewTicker(ctl.opts.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *core.Session, c *WsSignalConn) {
	defer func() {
		c.Close()
		ctl.Orch.Disconnect(sess)
	}()

	if p := ctl.opts.PingPeriod; p > 0 {
		pongWait := 2 * p
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("module", "signal").Str("addr", sess.Address()).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(sess, data)
		}
	}
}

// handleSignal gates and dispatches one inbound frame. Before hello only
// hello and login are processed. Privileged kinds from non-moderators are
// refused before their fields are looked at.
func (ctl *SignalWSController) handleSignal(sess *core.Session, data []byte) {
	msg, err := protocol.Decode(data)
	if msg == nil {
		metrics.FramesDiscarded.WithLabelValues(discardReason(err)).Inc()
		return
	}
	if _, ok := sess.ClientID(); !ok {
		switch msg.(type) {
		case protocol.Hello, protocol.Login:
		default:
			metrics.FramesDiscarded.WithLabelValues("before_hello").Inc()
			return
		}
	}
	if msg.Privileged() && !sess.IsModerator() {
		ctl.Orch.Unauthorized(sess)
		return
	}
	if err != nil {
		metrics.FramesDiscarded.WithLabelValues("malformed").Inc()
		return
	}
	msg.Accept(&connHandler{ctl: ctl, sess: sess})
}

func discardReason(err error) string {
	if errors.Is(err, protocol.ErrUnknownType) {
		return "unknown_type"
	}
	return "malformed"
}
