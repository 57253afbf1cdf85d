package sfu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoRelay = errors.New("relay not found")

type RelayManager struct {
	mu      sync.RWMutex
	relays  map[RelayKey]*Relay
	onEnded func(RelayKey)
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[RelayKey]*Relay),
	}
}

// OnEnded sets a callback for relays whose source track stopped on its own.
func (m *RelayManager) OnEnded(fn func(RelayKey)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = fn
}

// StartRelay creates a relay for key and starts forwarding src.
func (m *RelayManager) StartRelay(ctx context.Context, key RelayKey, src Source, muted bool) *Relay {
	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(key, src, cancel)
	m.run(relayCtx, relay, muted)
	return relay
}

func (m *RelayManager) run(ctx context.Context, relay *Relay, muted bool) {
	logger := log.With().
		Str("module", "sfu.relay").
		Str("relay", relay.Key.String()).
		Logger()
	relay.SetMuted(muted)

	m.mu.Lock()
	if old, ok := m.relays[relay.Key]; ok {
		logger.Info().Msg("replacing existing relay")
		m.stop(old)
	}
	m.relays[relay.Key] = relay
	m.mu.Unlock()
	metrics.RelayStarted()

	logger.Info().Bool("muted", muted).Msg("starting relay loop")
	go func() {
		ended := relay.loop(ctx, &logger)
		if !ended {
			return
		}
		m.mu.Lock()
		current := m.relays[relay.Key] == relay
		if current {
			delete(m.relays, relay.Key)
		}
		fn := m.onEnded
		m.mu.Unlock()
		if !current {
			return
		}
		metrics.RelayStopped()
		if fn != nil {
			fn(relay.Key)
		}
	}()
}

// stop must be called with m.mu held.
func (m *RelayManager) stop(relay *Relay) {
	relay.markAllDelete()
	if relay.cancel != nil {
		relay.cancel()
	}
	delete(m.relays, relay.Key)
	metrics.RelayStopped()
}

// Subscribe forwards the relay at key into dst's peer connection. An existing
// subscription is kept.
func (m *RelayManager) Subscribe(key RelayKey, dst core.SessionID, mc core.MediaConnection) error {
	relay, ok := m.Get(key)
	if !ok {
		return fmt.Errorf("relay %s: %w", key, ErrNoRelay)
	}
	if relay.HasSubscriber(dst) {
		return nil
	}
	// the browser groups relayed tracks by stream id, one stream per participant
	local, err := webrtc.NewTrackLocalStaticRTP(
		relay.Src.Codec().RTPCodecCapability,
		string(key.Kind)+"-"+key.Codec.String(),
		string(key.SID),
	)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}
	sender, err := mc.AddLocalTrack(local)
	if err != nil {
		return fmt.Errorf("add local track: %w", err)
	}
	go drainRTCP(sender)
	relay.AddOutTrack(dst, local, func() {
		if err := mc.RemoveLocalTrack(sender); err != nil {
			log.Debug().Err(err).Str("module", "sfu.relay").Str("dst_sid", string(dst)).Msg("remove local track")
		}
	})
	log.Info().
		Str("module", "sfu.relay").
		Str("relay", key.String()).
		Str("dst_sid", string(dst)).
		Msg("subscriber added")
	return nil
}

// drainRTCP reads RTCP so pion's interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// SetMuted mutes or unmutes every relay of sid carrying kind.
func (m *RelayManager) SetMuted(sid core.SessionID, kind domain.MediaKind, muted bool) {
	for _, r := range m.RelaysOf(sid) {
		if r.Key.Kind == kind {
			r.SetMuted(muted)
		}
	}
}

// UnsubscribeAll marks dst's out tracks for delete on every relay.
func (m *RelayManager) UnsubscribeAll(dst core.SessionID) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.relays {
		r.MarkSubscriberDelete(dst)
	}
}

// StopRelays stops every relay sourced from sid.
func (m *RelayManager) StopRelays(sid core.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, r := range m.relays {
		if key.SID == sid {
			m.stop(r)
		}
	}
}

func (m *RelayManager) Get(key RelayKey) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[key]
	return r, ok
}

func (m *RelayManager) RelaysOf(sid core.SessionID) []*Relay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Relay
	for key, r := range m.relays {
		if key.SID == sid {
			out = append(out, r)
		}
	}
	return out
}

// HasRelay reports whether sid has any relay for kind.
func (m *RelayManager) HasRelay(sid core.SessionID, kind domain.MediaKind) bool {
	for _, r := range m.RelaysOf(sid) {
		if r.Key.Kind == kind {
			return true
		}
	}
	return false
}
