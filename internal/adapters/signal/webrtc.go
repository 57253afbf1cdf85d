package signal

import (
	"encoding/json"

	"github.com/dkeye/Stage/internal/adapters/rtc"
	"github.com/dkeye/Stage/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) sendCandidate(conn core.SignalConnection, ci webrtc.ICECandidateInit) {
	sendJSON(conn, candidateMsg{
		Type:          "candidate",
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	})
}

// handleOffer negotiates the browser's offer. A live peer connection is
// renegotiated in place; otherwise a new one is created and bound.
func (ctl *SignalWSController) handleOffer(cl *wsClient, data []byte) {
	var p sdpMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		sendError(cl.conn, "bad_payload")
		return
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}

	if mc := cl.session.Media(); mc != nil && !mc.IsClosed() {
		answer, err := mc.ApplyOfferAndCreateAnswer(offer)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("webrtc renegotiate")
			sendError(cl.conn, "negotiation_failed")
			return
		}
		sendJSON(cl.conn, sdpMsg{Type: "answer", SDP: answer.SDP})
		return
	}

	wc, err := rtc.NewWebRTCConnection(rtc.WebRTCConfig(ctl.Config.ICEServers), cl.sid)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		sendError(cl.conn, "negotiation_failed")
		return
	}
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		ctl.sendCandidate(cl.conn, ci)
	})
	wc.OnNegotiationNeeded(func() {
		ctl.sendServerOffer(cl, wc)
	})
	ctl.Orch.BindMediaHandlers(wc, cl.sid)

	if err = wc.Start(cl.ctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		wc.Close()
		sendError(cl.conn, "negotiation_failed")
		return
	}

	cl.session.UpdateMedia(wc)
	sendJSON(cl.conn, sdpMsg{Type: "answer", SDP: answer.SDP})
	ctl.Orch.OnMediaReady(cl.sid)
}

// sendServerOffer pushes an offer after relayed tracks were added.
func (ctl *SignalWSController) sendServerOffer(cl *wsClient, mc core.MediaConnection) {
	offer, err := mc.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("webrtc create offer")
		return
	}
	if offer == nil {
		return
	}
	sendJSON(cl.conn, sdpMsg{Type: "offer", SDP: offer.SDP})
}

func (ctl *SignalWSController) handleAnswer(cl *wsClient, data []byte) {
	var p sdpMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		return
	}
	mc := cl.session.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(cl.sid)).Msg("answer: no media connection for")
		return
	}
	if err := mc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("webrtc apply answer")
	}
}

func (ctl *SignalWSController) handleCandidate(cl *wsClient, data []byte) {
	var p candidateMsg
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	mc := cl.session.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(cl.sid)).Msg("candidate: no media connection for")
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
