package rtc

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ScreenStreamPrefix marks browser streams carrying a screen capture.
const ScreenStreamPrefix = "screen"

type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	sid    core.SessionID
	cancel context.CancelFunc

	mu            sync.RWMutex
	onICE         func(webrtc.ICECandidateInit)
	onTrack       func(ctx context.Context, kind domain.MediaKind, track *webrtc.TrackRemote)
	onClosed      func()
	onNegotiation func()

	closed atomic.Bool
}

// WebRTCConfig builds a pion configuration from ICE server URLs.
func WebRTCConfig(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

func NewWebRTCConnection(cfg webrtc.Configuration, sid core.SessionID) (*WebRTCConnection, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, sid: sid}, nil
}

// ClassifyTrack maps a browser track to the media kind it carries.
func ClassifyTrack(codec webrtc.RTPCodecType, streamID string) domain.MediaKind {
	if strings.HasPrefix(streamID, ScreenStreamPrefix) {
		return domain.KindScreen
	}
	if codec == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.Close()
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if cand != nil && fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnNegotiationNeeded(func() {
		c.mu.RLock()
		fn := c.onNegotiation
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := ClassifyTrack(track.Kind(), track.StreamID())
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", string(kind)).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(ctx, kind, track)
		}
	})

	return nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return c.pc.LocalDescription(), nil
}

// CreateOffer is skipped while a negotiation is already in flight; pion
// fires negotiation-needed again once the state is stable.
func (c *WebRTCConnection) CreateOffer() (*webrtc.SessionDescription, error) {
	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		return nil, nil
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

// Close is idempotent and safe to re-enter from pion's state callbacks;
// the OnClosed callback fires once.
func (c *WebRTCConnection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
	}
	c.mu.RLock()
	fn := c.onClosed
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *WebRTCConnection) IsClosed() bool { return c.closed.Load() }

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

// OnTrack sets application-level callback for classified remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(ctx context.Context, kind domain.MediaKind, track *webrtc.TrackRemote)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *WebRTCConnection) OnNegotiationNeeded(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNegotiation = fn
}

// AddLocalTrack attaches a local static RTP track to the PeerConnection.
func (c *WebRTCConnection) AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	return c.pc.AddTrack(track)
}

// RemoveLocalTrack detaches a sender added by AddLocalTrack. It is a no-op once
// the connection is closed.
func (c *WebRTCConnection) RemoveLocalTrack(sender *webrtc.RTPSender) error {
	if c.IsClosed() {
		return nil
	}
	return c.pc.RemoveTrack(sender)
}

var _ core.MediaConnection = (*WebRTCConnection)(nil)
