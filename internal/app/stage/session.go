// Package stage runs one viewer's call state: the main-view selector, local
// publish flags and the commands sent to the media service.
package stage

import (
	"context"
	"errors"
	"sync"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/metrics"
)

const DefaultMailboxSize = 256

// Session is an actor: Post queues events, Run handles them one by one.
// The selector is only touched from the Run goroutine.
type Session struct {
	id     domain.ParticipantID
	sel    *core.Selector
	media  core.MediaService
	view   core.View
	logger zerolog.Logger

	mu      sync.Mutex
	pending deque.Deque[Event]
	limit   int
	closed  bool
	wake    chan struct{}

	joined  bool
	channel domain.ChannelName
}

type Option func(*options)

type options struct {
	mailbox int
	rng     core.Rand
}

func WithMailboxSize(n int) Option {
	return func(o *options) { o.mailbox = n }
}

// WithRand pins the selector's replacement source.
func WithRand(r core.Rand) Option {
	return func(o *options) { o.rng = r }
}

func New(id domain.ParticipantID, media core.MediaService, view core.View, opts ...Option) *Session {
	o := options{mailbox: DefaultMailboxSize}
	for _, opt := range opts {
		opt(&o)
	}
	var selOpts []core.SelectorOption
	if o.rng != nil {
		selOpts = append(selOpts, core.WithRand(o.rng))
	}
	return &Session{
		id:     id,
		sel:    core.NewSelector(id, view, selOpts...),
		media:  media,
		view:   view,
		logger: log.With().Str("module", "stage").Str("participant", string(id)).Logger(),
		limit:  o.mailbox,
		wake:   make(chan struct{}, 1),
	}
}

func (s *Session) ID() domain.ParticipantID { return s.id }

// Post queues ev. LeaveRequested discards every queued event first.
// It reports false when the session is closed or the mailbox is full.
func (s *Session) Post(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if _, leave := ev.(LeaveRequested); leave {
		if n := s.pending.Len(); n > 0 {
			s.logger.Debug().Int("dropped", n).Msg("leave clears pending events")
		}
		s.pending.Clear()
	} else if s.limit > 0 && s.pending.Len() >= s.limit {
		s.mu.Unlock()
		s.logger.Warn().Str("event", ev.eventName()).Msg("mailbox full, event dropped")
		metrics.Event(ev.eventName(), metrics.ResultError)
		return false
	}
	s.pending.PushBack(ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Run handles queued events until ctx is done.
func (s *Session) Run(ctx context.Context) {
	metrics.SessionStarted()
	defer metrics.SessionEnded()
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.pending.Clear()
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session stopped")
			return
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

func (s *Session) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending.Len() == 0 {
		return nil, false
	}
	return s.pending.PopFront(), true
}

func (s *Session) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := s.next()
		if !ok {
			return
		}
		s.dispatch(ctx, ev)
	}
}

func (s *Session) dispatch(ctx context.Context, ev Event) {
	before, _ := s.sel.Main()
	err := s.handle(ctx, ev)

	result := metrics.ResultOK
	var ce *CollaboratorError
	switch {
	case err == nil:
	case errors.Is(err, core.ErrStaleReference), errors.Is(err, ErrNotJoined), errors.Is(err, core.ErrNotSharing):
		result = metrics.ResultStale
		s.logger.Debug().Err(err).Str("event", ev.eventName()).Msg("event ignored")
	case errors.Is(err, domain.ErrChannelEmpty), errors.Is(err, domain.ErrChannelTooLong):
		result = metrics.ResultError
		s.view.Notify(core.Notice{Level: core.NoticeError, Code: core.CodeInvalidInput, Message: err.Error()})
	case errors.Is(err, core.ErrScreenShareActive):
		result = metrics.ResultError
		s.view.Notify(core.Notice{Level: core.NoticeInfo, Code: core.CodeScreenShareActive, Message: err.Error()})
	case errors.Is(err, ErrAlreadyJoined):
		result = metrics.ResultError
		s.view.Notify(core.Notice{Level: core.NoticeInfo, Code: core.CodeInvalidInput, Message: err.Error()})
	case errors.As(err, &ce):
		result = metrics.ResultError
		s.logger.Error().Err(err).Str("event", ev.eventName()).Msg("collaborator failure")
		s.view.Notify(core.Notice{Level: core.NoticeError, Code: core.CodeCollaboratorFailure, Message: err.Error()})
	default:
		result = metrics.ResultError
		s.logger.Error().Err(err).Str("event", ev.eventName()).Msg("event failed")
	}
	metrics.Event(ev.eventName(), result)

	if after, _ := s.sel.Main(); after != before {
		metrics.MainChanged()
	}
	s.view.Controls(s.sel.State())
}

func (s *Session) handle(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case JoinRequested:
		return s.join(ctx, e.Channel)
	case LeaveRequested:
		return s.leave(ctx)
	case MicToggle:
		return s.toggleMic(ctx)
	case CameraToggle:
		return s.toggleCamera(ctx)
	case ScreenShareToggle:
		if !s.joined {
			return ErrNotJoined
		}
		if s.sel.State().Screen {
			return s.stopScreenShare(ctx)
		}
		return s.startScreenShare(ctx)
	case ScreenTrackEnded:
		if !s.joined {
			return ErrNotJoined
		}
		if !s.sel.State().Screen {
			return core.ErrNotSharing
		}
		return s.stopScreenShare(ctx)
	case SwapRequested:
		if !s.joined {
			return ErrNotJoined
		}
		return s.sel.RequestSwap(e.ID)
	case LayoutRequested:
		s.view.ShowLayout(s.sel.Snapshot())
		return nil
	case ParticipantJoined:
		if !s.joined {
			return ErrNotJoined
		}
		return s.sel.ParticipantJoined(e.ID)
	case ParticipantLeft:
		if !s.joined {
			return ErrNotJoined
		}
		s.logger.Info().Str("remote", string(e.ID)).Str("reason", e.Reason).Msg("participant left")
		return s.sel.ParticipantLeft(e.ID)
	case TrackPublished:
		return s.remotePublished(ctx, e.ID, e.Kind)
	case TrackUnpublished:
		return s.remoteUnpublished(e.ID, e.Kind)
	}
	return nil
}

func (s *Session) join(ctx context.Context, raw string) error {
	if s.joined {
		return ErrAlreadyJoined
	}
	name, err := domain.NewChannelName(raw)
	if err != nil {
		return err
	}
	if err := s.media.Join(ctx, name); err != nil {
		return collaboratorFailure("join", err)
	}
	if err := s.media.Publish(ctx, domain.KindAudio, domain.KindVideo); err != nil {
		if lerr := s.media.Leave(ctx); lerr != nil {
			s.logger.Warn().Err(lerr).Msg("leave after failed publish")
		}
		s.dropNotifications()
		return collaboratorFailure("publish", err)
	}

	s.joined = true
	s.channel = name
	_ = s.sel.ParticipantJoined(s.id)
	_ = s.sel.SetMic(true)
	_ = s.sel.SetCamera(true)
	s.logger.Info().Str("channel", string(name)).Msg("joined channel")
	return nil
}

// leave always succeeds locally; a failing media leave is only logged.
func (s *Session) leave(ctx context.Context) error {
	if s.joined {
		if err := s.media.Leave(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("media leave failed")
		}
		s.logger.Info().Str("channel", string(s.channel)).Msg("left channel")
	}
	s.joined = false
	s.channel = ""
	s.sel.Reset()
	return nil
}

func (s *Session) toggleMic(ctx context.Context) error {
	if !s.joined {
		return ErrNotJoined
	}
	on := !s.sel.State().Audio
	if err := s.setPublished(ctx, domain.KindAudio, on); err != nil {
		return err
	}
	return s.sel.SetMic(on)
}

func (s *Session) toggleCamera(ctx context.Context) error {
	if !s.joined {
		return ErrNotJoined
	}
	st := s.sel.State()
	if st.Screen {
		return core.ErrScreenShareActive
	}
	on := !st.Video
	if err := s.setPublished(ctx, domain.KindVideo, on); err != nil {
		return err
	}
	return s.sel.SetCamera(on)
}

func (s *Session) startScreenShare(ctx context.Context) error {
	cameraOn := s.sel.State().Video
	if cameraOn {
		if err := s.media.Unpublish(ctx, domain.KindVideo); err != nil {
			return collaboratorFailure("unpublish video", err)
		}
	}
	if err := s.media.Publish(ctx, domain.KindScreen); err != nil {
		if cameraOn {
			if rerr := s.media.Publish(ctx, domain.KindVideo); rerr != nil {
				s.logger.Warn().Err(rerr).Msg("camera restore failed")
			}
		}
		return collaboratorFailure("publish screen", err)
	}
	s.sel.StartScreenShare()
	return s.sel.PromoteScreen()
}

func (s *Session) stopScreenShare(ctx context.Context) error {
	if err := s.media.Unpublish(ctx, domain.KindScreen); err != nil {
		s.logger.Warn().Err(err).Msg("screen unpublish failed")
	}
	var publishErr error
	if s.sel.State().VideoIntent {
		if err := s.media.Publish(ctx, domain.KindVideo); err != nil {
			publishErr = collaboratorFailure("publish video", err)
		}
	}
	s.sel.StopScreenShare()
	if publishErr != nil {
		_ = s.sel.SetCamera(false)
		return publishErr
	}
	return nil
}

func (s *Session) remotePublished(ctx context.Context, id domain.ParticipantID, kind domain.MediaKind) error {
	if !s.joined {
		return ErrNotJoined
	}
	if !s.sel.Contains(id) {
		return core.ErrStaleReference
	}
	if err := s.media.Subscribe(ctx, id, kind); err != nil {
		return collaboratorFailure("subscribe", err)
	}
	if kind.IsVisual() {
		return s.sel.VideoPublished(id)
	}
	return s.sel.AudioPublished(id)
}

func (s *Session) remoteUnpublished(id domain.ParticipantID, kind domain.MediaKind) error {
	if !s.joined {
		return ErrNotJoined
	}
	if kind.IsVisual() {
		return s.sel.VideoUnpublished(id)
	}
	return s.sel.AudioUnpublished(id)
}

func (s *Session) setPublished(ctx context.Context, kind domain.MediaKind, on bool) error {
	if on {
		if err := s.media.Publish(ctx, kind); err != nil {
			return collaboratorFailure("publish "+string(kind), err)
		}
		return nil
	}
	if err := s.media.Unpublish(ctx, kind); err != nil {
		return collaboratorFailure("unpublish "+string(kind), err)
	}
	return nil
}

// dropNotifications discards queued media-side events left over from a
// rolled back join. Viewer requests stay queued.
func (s *Session) dropNotifications() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := s.pending.Len(); n > 0; n-- {
		if ev := s.pending.PopFront(); !isNotification(ev) {
			s.pending.PushBack(ev)
		}
	}
}

// StageInbox implementation used by the orchestrator.

func (s *Session) ParticipantJoined(id domain.ParticipantID) {
	s.Post(ParticipantJoined{ID: id})
}

func (s *Session) ParticipantLeft(id domain.ParticipantID, reason string) {
	s.Post(ParticipantLeft{ID: id, Reason: reason})
}

func (s *Session) TrackPublished(id domain.ParticipantID, kind domain.MediaKind) {
	s.Post(TrackPublished{ID: id, Kind: kind})
}

func (s *Session) TrackUnpublished(id domain.ParticipantID, kind domain.MediaKind) {
	s.Post(TrackUnpublished{ID: id, Kind: kind})
}

func (s *Session) ScreenTrackEnded() {
	s.Post(ScreenTrackEnded{})
}

var _ core.StageInbox = (*Session)(nil)
