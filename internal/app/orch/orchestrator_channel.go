package orch

import (
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Join adds sid to the channel and introduces it to the members already
// there. A session in another channel is moved.
func (o *Orchestrator) Join(sid core.SessionID, name domain.ChannelName) error {
	o.memberMu.Lock()
	defer o.memberMu.Unlock()
	if from, _, ok := o.Registry.ChannelOf(sid); ok {
		if from == name {
			return nil
		}
		o.leave(sid, "moved")
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_channel", string(from)).Msg("moved from channel")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return ErrNoSession
	}
	mates := o.Registry.MembersOfChannel(name)

	ch := o.Channels.GetOrCreate(name)
	ch.AddMember(sid, session)
	o.Registry.UpdateChannel(sid, name)
	metrics.ChannelMembers(string(name), ch.MemberCount())
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(name)).Msg("added to channel")

	self := stageOf(session)
	for _, mate := range mates {
		if mate.SID == sid {
			continue
		}
		if inbox := stageOf(mate.Session); inbox != nil {
			inbox.ParticipantJoined(session.ID())
		}
		if self == nil {
			continue
		}
		self.ParticipantJoined(mate.Session.ID())
		for _, kind := range o.PublishedKinds(mate.SID) {
			self.TrackPublished(mate.Session.ID(), kind)
		}
	}
	o.OnMediaReady(sid)
	return nil
}

// Leave removes sid from its channel and tells the remaining members why.
func (o *Orchestrator) Leave(sid core.SessionID, reason string) {
	o.memberMu.Lock()
	defer o.memberMu.Unlock()
	o.leave(sid, reason)
}

func (o *Orchestrator) leave(sid core.SessionID, reason string) {
	name, session, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	o.clearPublished(sid)
	if o.Relays != nil {
		o.Relays.StopRelays(sid)
		o.Relays.UnsubscribeAll(sid)
	}
	if ch, ok := o.Channels.Get(name); ok {
		ch.RemoveMember(sid)
		n := ch.MemberCount()
		metrics.ChannelMembers(string(name), n)
		if n == 0 {
			o.Channels.StopChannel(name)
		}
	}
	o.Registry.RemoveChannel(sid)

	for _, mate := range o.Registry.MembersOfChannel(name) {
		if inbox := stageOf(mate.Session); inbox != nil {
			inbox.ParticipantLeft(session.ID(), reason)
		}
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("channel", string(name)).Str("reason", reason).Msg("left channel")
}

// KickBySID drops sid from its channel, closes its media connection and
// ends its signaling session.
func (o *Orchestrator) KickBySID(sid core.SessionID, reason string) {
	o.Leave(sid, reason)
	o.cleanupMedia(sid)
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) EvictChannel(name domain.ChannelName) {
	for _, snap := range o.Registry.MembersOfChannel(name) {
		o.KickBySID(snap.SID, "evicted")
	}
	o.Channels.StopChannel(name)
}

// Disconnect tears down sid after its signaling connection ended. A session
// replaced by a newer connection is only unbound.
func (o *Orchestrator) Disconnect(sid core.SessionID, sess core.MemberSession) {
	current, ok := o.Registry.GetSession(sid)
	if !ok || current != sess {
		return
	}
	o.Leave(sid, "disconnected")
	o.cleanupMedia(sid)
	o.Registry.Unbind(sid, sess)
}
