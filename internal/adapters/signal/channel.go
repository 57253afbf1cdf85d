package signal

import (
	"encoding/json"

	"github.com/dkeye/Stage/internal/app/stage"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(cl *wsClient, data []byte) {
	var p struct {
		Channel string `json:"channel"`
		Name    string `json:"name,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		sendError(cl.conn, "bad_payload")
		return
	}
	if !ctl.Limiter.Allow(domain.ParticipantID(cl.sid)) {
		log.Warn().Str("module", "signal").Str("sid", string(cl.sid)).Msg("join rate limited")
		sendError(cl.conn, "rate_limited")
		return
	}
	if p.Name != "" {
		if err := ctl.Orch.Registry.UpdateUsername(cl.sid, p.Name); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("rename on join")
		}
	}

	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Str("channel", p.Channel).Msg("join")
	ctl.post(cl, stage.JoinRequested{Channel: p.Channel})
}

// handleLeave leaves the current channel; the connection stays open.
func (ctl *SignalWSController) handleLeave(cl *wsClient) {
	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("leave")
	ctl.post(cl, stage.LeaveRequested{})
}
