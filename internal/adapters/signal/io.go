package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Stage/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) pingPeriod() time.Duration {
	if ctl.Config.PingPeriod > 0 {
		return ctl.Config.PingPeriod
	}
	return 54 * time.Second
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cl *wsClient) {
	ws := cl.ws
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump closing")
		cancel()
		ws.Close()
		ctl.Orch.Disconnect(cl.sid, cl.session)
	}()

	for {
		if ctx.Err() != nil {
			log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump ctx done")
			return
		}
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(cl, data)
	}
}

var errUnknownType = errors.New("unknown message type")

func (ctl *SignalWSController) handleSignal(cl *wsClient, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		sendError(cl.conn, "bad_json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(cl, data)
	case "leave":
		ctl.handleLeave(cl)
	case "mic", "camera", "screen", "screen_ended", "layout":
		ctl.handleControl(cl, env.Type)
	case "swap":
		ctl.handleSwap(cl, data)
	case "ping":
		ctl.handlePing(cl)
	case "rename":
		ctl.handleRename(cl, data)
	case "whoami":
		ctl.handleWhoAmI(cl)
	case "offer":
		ctl.handleOffer(cl, data)
	case "answer":
		ctl.handleAnswer(cl, data)
	case "candidate":
		ctl.handleCandidate(cl, data)
	default:
		log.Warn().Err(errUnknownType).Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		sendError(cl.conn, "unknown_type")
	}
}

func sendJSON(c core.SignalConnection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return err
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped")
		return err
	}
	return nil
}

func sendError(c core.SignalConnection, code string) {
	sendJSON(c, errorMsg{Type: "error", Error: code})
}
