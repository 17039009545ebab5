package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/config"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// SignalWSController owns the websocket side of signaling: it upgrades
// connections, pumps frames and hands decoded messages to the lifecycle
// controller and the relay.
type SignalWSController struct {
	Ctrl    *app.Controller
	Relay   *app.Relay
	Cfg     *config.Config
	limiter *CallRateLimiter
}

func NewSignalWSController(cfg *config.Config, ctrl *app.Controller, relay *app.Relay) *SignalWSController {
	return &SignalWSController{
		Ctrl:    ctrl,
		Relay:   relay,
		Cfg:     cfg,
		limiter: NewCallRateLimiter(10, time.Minute),
	}
}

// wsSignalConn implements core.SignalConnection over one websocket.
type wsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
	user   domain.UserID
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
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

// bindUser records which user speaks on this connection. Set once by
// add_user; forwarded messages take their sender identity from here.
func (c *wsSignalConn) bindUser(uid domain.UserID) {
	c.mu.Lock()
	c.user = uid
	c.mu.Unlock()
}

func (c *wsSignalConn) boundUser() (domain.UserID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.user != ""
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	cid := core.ConnID(uuid.NewString())
	conn := &wsSignalConn{
		id:   cid,
		conn: ws,
		send: make(chan core.Frame, ctl.Cfg.SendBuffer),
	}
	if ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}
	log.Info().Str("module", "signal").Str("conn", string(cid)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
