package signal

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"

	"github.com/dkeye/Stage/internal/app/orch"
	"github.com/dkeye/Stage/internal/app/stage"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Config  *config.Config
	Limiter *JoinRateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, cfg *config.Config) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Config:  cfg,
		Limiter: NewJoinRateLimiter(cfg.Stage.JoinRateLimit, cfg.Stage.JoinRateInterval),
	}
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
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// wsClient is one viewer's signaling connection and the stage session it drives.
type wsClient struct {
	sid     core.SessionID
	ws      *WsSignalConn
	conn    core.SignalConnection
	session core.MemberSession
	stage   *stage.Session
	ctx     context.Context
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Config.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Config.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}

	// a reconnect from the same browser replaces the previous session
	if _, ok := ctl.Orch.Registry.GetSession(sid); ok {
		ctl.Orch.KickBySID(sid, "reconnected")
	}

	user := ctl.Orch.Registry.GetOrCreateUser(sid)
	ctx, cancel := context.WithCancel(ctx)
	cl := &wsClient{
		sid:     sid,
		ws:      conn,
		conn:    conn,
		session: core.NewMemberSession(domain.NewMember(user)).UpdateSignal(conn),
		ctx:     ctx,
	}
	cl.stage = ctl.newStage(sid, user, conn)
	cl.session.UpdateStage(cl.stage)
	ctl.Orch.Registry.BindSignal(sid, cl.session, cancel)

	go cl.stage.Run(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cl)
}

// newStage builds the stage session for sid. Its view asks for a full layout
// after a dropped frame.
func (ctl *SignalWSController) newStage(sid core.SessionID, user *domain.User, conn core.SignalConnection) *stage.Session {
	var st *stage.Session
	view := NewView(conn, func() { st.Post(stage.LayoutRequested{}) })
	st = stage.New(user.ID, ctl.Orch.MediaFor(sid), view, ctl.stageOptions()...)
	return st
}

func (ctl *SignalWSController) stageOptions() []stage.Option {
	opts := []stage.Option{stage.WithMailboxSize(ctl.Config.Stage.MailboxSize)}
	if seed := ctl.Config.Stage.SelectionSeed; seed != 0 {
		opts = append(opts, stage.WithRand(rand.New(rand.NewPCG(seed, seed))))
	}
	return opts
}
