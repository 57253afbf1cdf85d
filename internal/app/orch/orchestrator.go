// Package orch ties channel membership, media relays and per-viewer stage
// sessions together.
package orch

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Stage/internal/app"
	"github.com/dkeye/Stage/internal/app/sfu"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSession    = errors.New("no session")
	ErrNotInChannel = errors.New("not in a channel")
	ErrUnknownKind  = errors.New("unknown media kind")
)

type Orchestrator struct {
	Registry *app.Registry
	Channels core.ChannelManager
	Policy   app.Policy
	Relays   *sfu.RelayManager

	// memberMu orders membership and publication changes so every fan-out
	// sees a consistent channel.
	memberMu sync.Mutex

	mu        sync.RWMutex
	published map[core.SessionID]map[domain.MediaKind]bool
}

func New(reg *app.Registry, channels core.ChannelManager, policy app.Policy, relays *sfu.RelayManager) *Orchestrator {
	o := &Orchestrator{
		Registry:  reg,
		Channels:  channels,
		Policy:    policy,
		Relays:    relays,
		published: make(map[core.SessionID]map[domain.MediaKind]bool),
	}
	if relays != nil {
		relays.OnEnded(o.onRelayEnded)
	}
	return o
}

// Broadcast sends v as JSON to every other member of sid's channel.
func (o *Orchestrator) Broadcast(sid core.SessionID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("broadcast marshal")
		return
	}
	o.OnFrame(sid, b)
}

func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	name, _, ok := o.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	ch, ok := o.Channels.Get(name)
	if !ok {
		return
	}

	res := ch.Broadcast(sid, data)
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(ch, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfChannel(name) {
				if snap.Session == slow {
					o.KickBySID(snap.SID, "backpressure")
				}
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// PublishedKinds returns the kinds sid currently publishes.
func (o *Orchestrator) PublishedKinds(sid core.SessionID) []domain.MediaKind {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []domain.MediaKind
	for _, k := range []domain.MediaKind{domain.KindAudio, domain.KindVideo, domain.KindScreen} {
		if o.published[sid][k] {
			out = append(out, k)
		}
	}
	return out
}

func (o *Orchestrator) isPublished(sid core.SessionID, kind domain.MediaKind) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.published[sid][kind]
}

// setPublished reports whether the flag changed.
func (o *Orchestrator) setPublished(sid core.SessionID, kind domain.MediaKind, on bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds, ok := o.published[sid]
	if !ok {
		if !on {
			return false
		}
		kinds = make(map[domain.MediaKind]bool)
		o.published[sid] = kinds
	}
	if kinds[kind] == on {
		return false
	}
	if on {
		kinds[kind] = true
	} else {
		delete(kinds, kind)
	}
	return true
}

func (o *Orchestrator) clearPublished(sid core.SessionID) {
	kinds := o.PublishedKinds(sid)
	o.mu.Lock()
	delete(o.published, sid)
	o.mu.Unlock()
	for _, k := range kinds {
		metrics.TrackUnpublished(string(k))
	}
}

func stageOf(sess core.MemberSession) core.StageInbox {
	if sess == nil {
		return nil
	}
	return sess.Stage()
}
