package sfu

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// RelayKey names one forwarded source track. A screen share may carry both a
// video and an audio track, so the codec type is part of the key.
type RelayKey struct {
	SID   core.SessionID
	Kind  domain.MediaKind
	Codec webrtc.RTPCodecType
}

func (k RelayKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.SID, k.Kind, k.Codec)
}

type readFunc func() (*rtp.Packet, error)

// Source is the remote track a relay reads from. *webrtc.TrackRemote
// satisfies it.
type Source interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	Codec() webrtc.RTPCodecParameters
	Kind() webrtc.RTPCodecType
}

type Relay struct {
	Key RelayKey
	Src Source

	read   readFunc
	muted  atomic.Bool
	cancel context.CancelFunc

	mu        sync.RWMutex
	outTracks map[core.SessionID]*OutTrack
}

func NewRelay(key RelayKey, src Source, cancel context.CancelFunc) *Relay {
	return newRelay(key, src, func() (*rtp.Packet, error) {
		pkt, _, err := src.ReadRTP()
		return pkt, err
	}, cancel)
}

func newRelay(key RelayKey, src Source, read readFunc, cancel context.CancelFunc) *Relay {
	return &Relay{
		Key:       key,
		Src:       src,
		read:      read,
		cancel:    cancel,
		outTracks: make(map[core.SessionID]*OutTrack),
	}
}

// loop forwards packets until ctx ends or the source fails. It reports
// whether the source ended on its own.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return false
		default:
		}
		pkt, err := r.read()
		if err != nil {
			if ctx.Err() != nil {
				r.markAllDelete()
				return false
			}
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return true
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]core.SessionID, 0, len(snapshot))
	for dst, ot := range snapshot {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.w.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("dst_sid", string(dst)).Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sid := range dirty {
		if ot, ok := r.outTracks[sid]; ok && ot.State() == TrackStateDelete {
			delete(r.outTracks, sid)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// SetMuted pauses or resumes forwarding to every subscriber.
func (r *Relay) SetMuted(muted bool) {
	r.muted.Store(muted)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ot := range r.outTracks {
		ot.setMuted(muted)
	}
}

func (r *Relay) Muted() bool { return r.muted.Load() }

// AddOutTrack attaches w for dst in the relay's current mute state. release
// runs once when the out track is marked for delete.
func (r *Relay) AddOutTrack(dst core.SessionID, w PacketWriter, release func()) *OutTrack {
	state := TrackStateOk
	if r.muted.Load() {
		state = TrackStateMuted
	}
	ot := NewOutTrack(w, state, release)
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[dst]; ok {
		old.MarkDelete()
	}
	r.outTracks[dst] = ot
	return ot
}

func (r *Relay) HasSubscriber(dst core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[dst]
	return ok && ot.State() != TrackStateDelete
}

func (r *Relay) MarkSubscriberDelete(dst core.SessionID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ot, ok := r.outTracks[dst]; ok {
		ot.MarkDelete()
	}
}
