package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalWSController is the relay. It holds an explicit registry handle and
// runs one handler per WebSocket connection.
type SignalWSController struct {
	Registry *app.Registry
	Policy   app.Policy
	Metrics  *metrics.Metrics
	Limiter  *RoomRateLimiter
	Tokens   *JoinTokens
	Cfg      *config.Config
}

func NewSignalWSController(cfg *config.Config, reg *app.Registry, policy app.Policy, m *metrics.Metrics) *SignalWSController {
	return &SignalWSController{
		Registry: reg,
		Policy:   policy,
		Metrics:  m,
		Limiter:  NewRoomRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval),
		Tokens:   NewJoinTokens(cfg.JoinSecret),
		Cfg:      cfg,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(conn *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: conn, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
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

// connHandler is the per-connection state. It is only touched by the
// connection's readPump goroutine.
type connHandler struct {
	ctl       *SignalWSController
	conn      *WsSignalConn
	sid       core.SessionID
	clientKey string
	limiter   *rate.Limiter
	sess      *core.Session
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	clientKey := c.GetString("client_token")
	if clientKey == "" {
		clientKey = c.ClientIP()
	}
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", clientKey).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ctl.Metrics.Inc(metrics.Connections)

	h := &connHandler{
		ctl:       ctl,
		conn:      NewWsSignalConn(ws, ctl.Cfg.SendBuffer),
		sid:       sid,
		clientKey: clientKey,
		limiter:   rate.NewLimiter(rate.Limit(ctl.Cfg.MessageRate), ctl.Cfg.MessageBurst),
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		h.writePump(ctx)
	}()
	go func() {
		defer cancel()
		h.readPump(ctx)
	}()
}

func (ctl *SignalWSController) pongWait() time.Duration {
	return ctl.Cfg.PingPeriod * 10 / 9
}
