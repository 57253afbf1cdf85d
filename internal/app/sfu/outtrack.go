package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStateMuted:
		return "muted"
	case TrackStateDelete:
		return "delete"
	}
	return "unknown"
}

// PacketWriter is the sink side of a forwarded track.
// *webrtc.TrackLocalStaticRTP satisfies it.
type PacketWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack is one subscriber's copy of a relayed track. release, when set,
// detaches the track from the subscriber's peer connection.
type OutTrack struct {
	w       PacketWriter
	release func()
	state   atomic.Int32
}

func NewOutTrack(w PacketWriter, state TrackState, release func()) *OutTrack {
	ot := &OutTrack{w: w, release: release}
	ot.state.Store(int32(state))
	return ot
}

func (ot *OutTrack) State() TrackState {
	return TrackState(ot.state.Load())
}

// setMuted flips between Ok and Muted. A track marked for delete stays deleted.
func (ot *OutTrack) setMuted(muted bool) {
	from, to := TrackStateMuted, TrackStateOk
	if muted {
		from, to = TrackStateOk, TrackStateMuted
	}
	ot.state.CompareAndSwap(int32(from), int32(to))
}

// MarkDelete is sticky. The first call runs the release hook.
func (ot *OutTrack) MarkDelete() {
	if TrackState(ot.state.Swap(int32(TrackStateDelete))) == TrackStateDelete {
		return
	}
	if ot.release != nil {
		ot.release()
	}
}
