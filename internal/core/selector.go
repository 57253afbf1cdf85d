package core

import (
	"errors"
	"math/rand/v2"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	// ErrStaleReference is returned for events naming a participant that is not in the roster.
	ErrStaleReference    = errors.New("stale participant reference")
	ErrNotSharing        = errors.New("screen share not active")
	ErrScreenShareActive = errors.New("screen share active")
)

// Selector decides which participant occupies the main surface and which get
// thumbnails. It is not safe for concurrent use; the owning stage session
// serializes every call.
type Selector struct {
	local    domain.ParticipantID
	renderer Renderer
	rng      Rand

	roster Roster
	main   domain.ParticipantID

	state        domain.LocalSessionState
	screenOnMain bool
	preShareMain domain.ParticipantID
}

type SelectorOption func(*Selector)

// WithRand pins the source used for replacement picks.
func WithRand(r Rand) SelectorOption {
	return func(s *Selector) { s.rng = r }
}

func NewSelector(local domain.ParticipantID, r Renderer, opts ...SelectorOption) *Selector {
	s := &Selector{
		local:    local,
		renderer: r,
		roster:   make(Roster),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

func (s *Selector) Local() domain.ParticipantID { return s.local }

// Main returns the main slot occupant.
func (s *Selector) Main() (domain.ParticipantID, bool) {
	return s.main, s.main != ""
}

func (s *Selector) State() domain.LocalSessionState { return s.state }

func (s *Selector) Contains(id domain.ParticipantID) bool {
	_, ok := s.roster[id]
	return ok
}

// HasThumbnail reports whether id is shown on its own thumbnail surface:
// present, not main, and publishing video.
func (s *Selector) HasThumbnail(id domain.ParticipantID) bool {
	st, ok := s.roster[id]
	return ok && id != s.main && st.VideoActive
}

func (s *Selector) Snapshot() Layout {
	l := Layout{
		Main:         s.main,
		ScreenOnMain: s.screenOnMain,
		Roster:       s.roster.Clone(),
		Thumbnails:   []domain.ParticipantID{},
		Local:        s.state,
	}
	for _, id := range s.roster.IDs() {
		if s.HasThumbnail(id) {
			l.Thumbnails = append(l.Thumbnails, id)
		}
	}
	return l
}

func (s *Selector) ParticipantJoined(id domain.ParticipantID) error {
	if _, ok := s.roster[id]; ok {
		log.Debug().Str("module", "core.selector").Str("participant", string(id)).Msg("duplicate join ignored")
		return nil
	}
	s.roster[id] = domain.ParticipantState{}
	return nil
}

func (s *Selector) ParticipantLeft(id domain.ParticipantID) error {
	if _, ok := s.roster[id]; !ok {
		return ErrStaleReference
	}
	hadThumb := s.HasThumbnail(id)
	delete(s.roster, id)
	if s.preShareMain == id {
		s.preShareMain = ""
	}
	switch {
	case id == s.main:
		s.replaceMain(id)
	case hadThumb:
		s.renderer.Clear(ThumbnailSurface(id))
	}
	return nil
}

func (s *Selector) VideoPublished(id domain.ParticipantID) error {
	st, ok := s.roster[id]
	if !ok {
		return ErrStaleReference
	}
	if st.VideoActive {
		return nil
	}
	st.VideoActive = true
	s.roster[id] = st

	switch {
	case id == s.main:
		s.renderer.Assign(SurfaceMain, id, domain.KindVideo)
	case s.mainIsFree():
		s.setMain(id)
	default:
		s.renderer.Assign(ThumbnailSurface(id), id, domain.KindVideo)
	}
	return nil
}

func (s *Selector) VideoUnpublished(id domain.ParticipantID) error {
	st, ok := s.roster[id]
	if !ok {
		return ErrStaleReference
	}
	if !st.VideoActive {
		return nil
	}
	hadThumb := s.HasThumbnail(id)
	st.VideoActive = false
	s.roster[id] = st

	switch {
	case id == s.main:
		s.replaceMain(id)
	case hadThumb:
		s.renderer.Clear(ThumbnailSurface(id))
	}
	return nil
}

func (s *Selector) AudioPublished(id domain.ParticipantID) error {
	return s.setAudio(id, true)
}

func (s *Selector) AudioUnpublished(id domain.ParticipantID) error {
	return s.setAudio(id, false)
}

func (s *Selector) setAudio(id domain.ParticipantID, on bool) error {
	st, ok := s.roster[id]
	if !ok {
		return ErrStaleReference
	}
	st.AudioActive = on
	s.roster[id] = st
	return nil
}

// RequestSwap moves id to the main surface and demotes the current occupant.
// A participant without video may be promoted; the main surface stays empty
// until its video publishes.
func (s *Selector) RequestSwap(id domain.ParticipantID) error {
	if _, ok := s.roster[id]; !ok {
		return ErrStaleReference
	}
	if id == s.main {
		return nil
	}
	s.screenOnMain = false
	if old := s.main; old != "" {
		s.main = ""
		if s.roster[old].VideoActive {
			s.renderer.Assign(ThumbnailSurface(old), old, domain.KindVideo)
		}
	}
	s.promote(id)
	return nil
}

// SetMic records the local microphone publish state.
func (s *Selector) SetMic(on bool) error {
	s.state.Audio = on
	if _, ok := s.roster[s.local]; !ok {
		return nil
	}
	return s.setAudio(s.local, on)
}

// SetCamera records the local camera publish state and intent.
func (s *Selector) SetCamera(on bool) error {
	if s.state.Screen {
		return ErrScreenShareActive
	}
	s.state.Video = on
	s.state.VideoIntent = on
	if _, ok := s.roster[s.local]; !ok {
		return nil
	}
	if on {
		return s.VideoPublished(s.local)
	}
	return s.VideoUnpublished(s.local)
}

// StartScreenShare demotes the main occupant to its thumbnail and keeps the
// main slot empty until PromoteScreen. The camera stops publishing but its
// intent is kept for StopScreenShare.
func (s *Selector) StartScreenShare() {
	if s.state.Screen {
		return
	}
	s.state.Screen = true
	s.state.Video = false
	s.preShareMain = s.main
	if old := s.main; old != "" {
		s.main = ""
		s.renderer.Clear(SurfaceMain)
		if s.roster[old].VideoActive {
			s.renderer.Assign(ThumbnailSurface(old), old, domain.KindVideo)
		}
	}
}

// PromoteScreen shows the local screen track on the main surface.
func (s *Selector) PromoteScreen() error {
	if !s.state.Screen {
		return ErrNotSharing
	}
	if s.main != "" {
		return nil
	}
	s.screenOnMain = true
	s.renderer.Assign(SurfaceMain, s.local, domain.KindScreen)
	return nil
}

// StopScreenShare restores the camera intent and, when the main slot is empty,
// brings back the pre-share occupant or a replacement.
func (s *Selector) StopScreenShare() {
	if !s.state.Screen {
		return
	}
	s.state.Screen = false
	s.state.Video = s.state.VideoIntent
	if s.screenOnMain {
		s.screenOnMain = false
		s.renderer.Clear(SurfaceMain)
	}
	prev := s.preShareMain
	s.preShareMain = ""
	if s.main != "" {
		return
	}
	if _, ok := s.roster[prev]; ok && prev != "" {
		s.promote(prev)
		return
	}
	s.replaceMain("")
}

// Reset empties the roster, the main slot and the local flags.
func (s *Selector) Reset() {
	for _, id := range s.roster.IDs() {
		if s.HasThumbnail(id) {
			s.renderer.Clear(ThumbnailSurface(id))
		}
	}
	if s.main != "" || s.screenOnMain {
		s.renderer.Clear(SurfaceMain)
	}
	s.roster = make(Roster)
	s.main = ""
	s.screenOnMain = false
	s.preShareMain = ""
	s.state = domain.LocalSessionState{}
}

// mainIsFree reports whether a newly published video may take the main slot.
// While sharing, the slot is reserved for the screen.
func (s *Selector) mainIsFree() bool {
	return s.main == "" && !s.state.Screen
}

// promote moves id from its thumbnail, if it had one, to the main surface.
func (s *Selector) promote(id domain.ParticipantID) {
	if s.HasThumbnail(id) {
		s.renderer.Clear(ThumbnailSurface(id))
	}
	s.setMain(id)
}

func (s *Selector) setMain(id domain.ParticipantID) {
	s.main = id
	if s.roster[id].VideoActive {
		s.renderer.Assign(SurfaceMain, id, domain.KindVideo)
	} else {
		s.renderer.Clear(SurfaceMain)
	}
	log.Debug().Str("module", "core.selector").Str("main", string(id)).Msg("main changed")
}

func (s *Selector) replaceMain(exclude domain.ParticipantID) {
	s.main = ""
	if s.state.Screen {
		// the slot falls back to the shared screen
		s.screenOnMain = true
		s.renderer.Assign(SurfaceMain, s.local, domain.KindScreen)
		return
	}
	next, ok := PickReplacement(s.roster, exclude, s.rng)
	if !ok {
		s.renderer.Clear(SurfaceMain)
		log.Debug().Str("module", "core.selector").Msg("main cleared")
		return
	}
	s.promote(next)
}
