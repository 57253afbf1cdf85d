package app

import (
	"context"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Channel domain.ChannelName
	Session core.MemberSession
	Cancel  context.CancelFunc
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[core.SessionID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[core.SessionID]*domain.User),
	}
}

// GetOrCreateUser returns the user bound to sid. The participant id of a
// user is its session id.
func (r *Registry) GetOrCreateUser(sid core.SessionID) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[sid]; ok {
		return u
	}
	u := domain.NewUser(domain.ParticipantID(sid))
	r.users[sid] = u
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("created new user")
	return u
}

func (r *Registry) UpdateUsername(sid core.SessionID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[sid]
	if !ok {
		return nil
	}
	if err := u.SetUsername(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", name).Msg("updated username")
	return nil
}

func (r *Registry) BindSignal(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[sid]; ok && old.Cancel != nil {
		old.Cancel()
	}
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind drops sid only if it is still bound to sess; a newer connection for
// the same sid keeps its entry.
func (r *Registry) Unbind(sid core.SessionID, sess core.MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && e.Session == sess {
		delete(r.sessions, sid)
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	}
}

func (r *Registry) ChannelOf(sid core.SessionID) (domain.ChannelName, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.Channel == "" {
		return "", nil, false
	}
	return entry.Channel, entry.Session, true
}

func (r *Registry) UpdateChannel(sid core.SessionID, name domain.ChannelName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return false
	}
	entry.Channel = name
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("channel", string(name)).Msg("updated channel")
	return true
}

func (r *Registry) RemoveChannel(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok {
		entry.Channel = ""
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed channel association")
}

type MemberSnap struct {
	SID     core.SessionID
	Session core.MemberSession
}

func (r *Registry) MembersOfChannel(name domain.ChannelName) []MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.Channel == name {
			out = append(out, MemberSnap{SID: sid, Session: e.Session})
		}
	}
	return out
}

// ChannelMates returns the other members of sid's channel.
func (r *Registry) ChannelMates(sid core.SessionID) []MemberSnap {
	name, _, ok := r.ChannelOf(sid)
	if !ok {
		return nil
	}
	all := r.MembersOfChannel(name)
	out := all[:0]
	for _, snap := range all {
		if snap.SID != sid {
			out = append(out, snap)
		}
	}
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
