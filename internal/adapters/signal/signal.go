package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// LoginAttemptsPerMinute caps moderator logins per address; 0 disables.
	LoginAttemptsPerMinute int
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	opts    Options
	limiter *LoginRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	ctl := &SignalWSController{Orch: o, opts: opts}
	if opts.LoginAttemptsPerMinute > 0 {
		ctl.limiter = NewLoginRateLimiter(opts.LoginAttemptsPerMinute, time.Minute)
	}
	return ctl
}

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
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

// CloseWith sends a close frame carrying code and reason, then closes.
func (c *WsSignalConn) CloseWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.Close()
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

// ClientAddress is the normalized client IP. X-Forwarded-For is honoured
// only when the peer is one of the engine's trusted proxies.
func ClientAddress(c *gin.Context) string {
	return domain.NormalizeAddress(c.ClientIP())
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := domain.ClientID(c.GetString("client_token"))
	addr := ClientAddress(c)
	log.Info().Str("module", "signal").Str("addr", addr).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	sess := core.NewSession(conn, addr, token)
	ctl.Orch.Connect(sess)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, sess, conn)
	}()
}
