package signal

import (
	"encoding/json"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(cl *wsClient, data []byte) {
	var p struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		sendError(cl.conn, "bad_payload")
		return
	}
	if err := ctl.Orch.Registry.UpdateUsername(cl.sid, p.Name); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("rename rejected")
		sendError(cl.conn, "invalid_name")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Str("name", p.Name).Msg("rename")
	ctl.handleWhoAmI(cl)

	user := ctl.Orch.Registry.GetOrCreateUser(cl.sid)
	ctl.Orch.Broadcast(cl.sid, memberMsg{Type: "member_updated", User: user.Snapshot()})
}

func (ctl *SignalWSController) handleWhoAmI(cl *wsClient) {
	user := ctl.Orch.Registry.GetOrCreateUser(cl.sid)
	resp := struct {
		Type     string               `json:"type"`
		ID       domain.ParticipantID `json:"id"`
		Username string               `json:"username"`
		Channel  domain.ChannelName   `json:"channel,omitempty"`
	}{
		Type:     "whoami",
		ID:       user.ID,
		Username: user.Username(),
	}
	if name, _, ok := ctl.Orch.Registry.ChannelOf(cl.sid); ok {
		resp.Channel = name
	}
	sendJSON(cl.conn, resp)
}
