package signal

import (
	"encoding/json"

	"github.com/dkeye/Stage/internal/app/stage"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(cl *wsClient) {
	sendJSON(cl.conn, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}

var controlEvents = map[string]stage.Event{
	"mic":          stage.MicToggle{},
	"camera":       stage.CameraToggle{},
	"screen":       stage.ScreenShareToggle{},
	"screen_ended": stage.ScreenTrackEnded{},
	"layout":       stage.LayoutRequested{},
}

func (ctl *SignalWSController) handleControl(cl *wsClient, typ string) {
	ev, ok := controlEvents[typ]
	if !ok {
		return
	}
	ctl.post(cl, ev)
}

func (ctl *SignalWSController) handleSwap(cl *wsClient, data []byte) {
	var p struct {
		Participant string `json:"participant"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Participant == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad swap payload")
		sendError(cl.conn, "bad_payload")
		return
	}
	ctl.post(cl, stage.SwapRequested{ID: domain.ParticipantID(p.Participant)})
}

func (ctl *SignalWSController) post(cl *wsClient, ev stage.Event) {
	if !cl.stage.Post(ev) {
		sendError(cl.conn, "busy")
	}
}
