package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Stage/internal/app/sfu"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sid core.SessionID) {
	mc.OnTrack(func(trackCtx context.Context, kind domain.MediaKind, track *webrtc.TrackRemote) {
		o.OnTrack(trackCtx, sid, kind, track)
	})
	mc.OnClosed(func() { o.OnMediaDisconnect(sid, mc) })
}

// OnMediaDisconnect drops the relays of a closed peer connection. A newer
// connection bound to the same session is left alone.
func (o *Orchestrator) OnMediaDisconnect(sid core.SessionID, mc core.MediaConnection) {
	if sess, ok := o.Registry.GetSession(sid); ok && sess.Media() != mc {
		return
	}
	o.cleanupMedia(sid)
}

func (o *Orchestrator) cleanupMedia(sid core.SessionID) {
	if o.Relays != nil {
		o.Relays.StopRelays(sid)
		o.Relays.UnsubscribeAll(sid)
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}
	sess.UpdateMedia(nil)
	mc.Close()
}

// OnTrack starts a relay for a new remote track and subscribes the channel
// mates to it. The relay stays muted until the kind is published.
func (o *Orchestrator) OnTrack(ctx context.Context, sid core.SessionID, kind domain.MediaKind, track sfu.Source) {
	if o.Relays == nil {
		return
	}
	if sess, ok := o.Registry.GetSession(sid); !ok || sess.Media() == nil {
		return
	}
	key := sfu.RelayKey{SID: sid, Kind: kind, Codec: track.Kind()}
	// a publish must see the relay registered, or its unmute is lost
	o.memberMu.Lock()
	o.Relays.StartRelay(ctx, key, track, !o.isPublished(sid, kind))
	o.memberMu.Unlock()

	if _, _, ok := o.Registry.ChannelOf(sid); !ok {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("OnTrack: no channel for sid")
		return
	}
	for _, snap := range o.Registry.ChannelMates(sid) {
		mc := snap.Session.Media()
		if mc == nil {
			continue
		}
		if err := o.Relays.Subscribe(key, snap.SID, mc); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("dst_sid", string(snap.SID)).Msg("subscribe on track")
		}
	}
}

// OnMediaReady subscribes sid's peer connection to every relay of its
// channel mates.
func (o *Orchestrator) OnMediaReady(sid core.SessionID) {
	if o.Relays == nil {
		return
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return
	}
	mc := sess.Media()
	if mc == nil {
		return
	}
	for _, snap := range o.Registry.ChannelMates(sid) {
		for _, relay := range o.Relays.RelaysOf(snap.SID) {
			if err := o.Relays.Subscribe(relay.Key, sid, mc); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("src_sid", string(snap.SID)).Msg("subscribe on media ready")
			}
		}
	}
}

// Publish marks kinds as published by sid, unmutes their relays and
// announces them to the channel.
func (o *Orchestrator) Publish(sid core.SessionID, kinds ...domain.MediaKind) error {
	return o.setKinds(sid, true, kinds)
}

func (o *Orchestrator) Unpublish(sid core.SessionID, kinds ...domain.MediaKind) error {
	return o.setKinds(sid, false, kinds)
}

func (o *Orchestrator) setKinds(sid core.SessionID, on bool, kinds []domain.MediaKind) error {
	o.memberMu.Lock()
	defer o.memberMu.Unlock()
	_, session, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return ErrNotInChannel
	}
	for _, kind := range kinds {
		if !kind.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
	}
	mates := o.Registry.ChannelMates(sid)
	for _, kind := range kinds {
		if !o.setPublished(sid, kind, on) {
			continue
		}
		if o.Relays != nil {
			o.Relays.SetMuted(sid, kind, !on)
		}
		if on {
			metrics.TrackPublished(string(kind))
		} else {
			metrics.TrackUnpublished(string(kind))
		}
		for _, mate := range mates {
			inbox := stageOf(mate.Session)
			if inbox == nil {
				continue
			}
			if on {
				inbox.TrackPublished(session.ID(), kind)
			} else {
				inbox.TrackUnpublished(session.ID(), kind)
			}
		}
	}
	return nil
}

// Subscribe attaches the relays of src's kind to sid's peer connection.
// Tracks that have not arrived yet are attached later by OnTrack.
func (o *Orchestrator) Subscribe(sid core.SessionID, src domain.ParticipantID, kind domain.MediaKind) error {
	if _, _, ok := o.Registry.ChannelOf(sid); !ok {
		return ErrNotInChannel
	}
	if o.Relays == nil {
		return nil
	}
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return ErrNoSession
	}
	mc := sess.Media()
	if mc == nil {
		return nil
	}
	for _, relay := range o.Relays.RelaysOf(core.SessionID(src)) {
		if relay.Key.Kind != kind {
			continue
		}
		if err := o.Relays.Subscribe(relay.Key, sid, mc); err != nil {
			return err
		}
	}
	return nil
}

// onRelayEnded turns the end of a published screen track into a
// ScreenTrackEnded notification for its owner.
func (o *Orchestrator) onRelayEnded(key sfu.RelayKey) {
	if key.Kind != domain.KindScreen || key.Codec != webrtc.RTPCodecTypeVideo {
		return
	}
	if !o.isPublished(key.SID, domain.KindScreen) {
		return
	}
	sess, ok := o.Registry.GetSession(key.SID)
	if !ok {
		return
	}
	if inbox := stageOf(sess); inbox != nil {
		log.Info().Str("module", "orch").Str("sid", string(key.SID)).Msg("screen track ended")
		inbox.ScreenTrackEnded()
	}
}
