package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type call struct {
	Op    string
	Kinds []domain.MediaKind
	ID    domain.ParticipantID
}

type fakeMedia struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	// onJoin runs inside Join, e.g. to queue roster events like the orchestrator does.
	onJoin func()
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{fail: make(map[string]error)}
}

func (m *fakeMedia) record(c call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	key := c.Op
	if len(c.Kinds) == 1 {
		key += ":" + string(c.Kinds[0])
	}
	if err, ok := m.fail[key]; ok {
		return err
	}
	return m.fail[c.Op]
}

func (m *fakeMedia) Join(_ context.Context, ch domain.ChannelName) error {
	if err := m.record(call{Op: "join", ID: domain.ParticipantID(ch)}); err != nil {
		return err
	}
	if m.onJoin != nil {
		m.onJoin()
	}
	return nil
}

func (m *fakeMedia) Publish(_ context.Context, kinds ...domain.MediaKind) error {
	return m.record(call{Op: "publish", Kinds: kinds})
}

func (m *fakeMedia) Unpublish(_ context.Context, kinds ...domain.MediaKind) error {
	return m.record(call{Op: "unpublish", Kinds: kinds})
}

func (m *fakeMedia) Subscribe(_ context.Context, id domain.ParticipantID, kind domain.MediaKind) error {
	return m.record(call{Op: "subscribe", ID: id, Kinds: []domain.MediaKind{kind}})
}

func (m *fakeMedia) Leave(context.Context) error {
	return m.record(call{Op: "leave"})
}

func (m *fakeMedia) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		op := c.Op
		for _, k := range c.Kinds {
			op += ":" + string(k)
		}
		out = append(out, op)
	}
	return out
}

type fakeView struct {
	mu       sync.Mutex
	surfaces map[core.Surface]domain.ParticipantID
	notices  []core.Notice
	controls []domain.LocalSessionState
	layouts  []core.Layout
}

func newFakeView() *fakeView {
	return &fakeView{surfaces: make(map[core.Surface]domain.ParticipantID)}
}

func (v *fakeView) Assign(s core.Surface, id domain.ParticipantID, _ domain.MediaKind) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.surfaces[s] = id
}

func (v *fakeView) Clear(s core.Surface) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.surfaces, s)
}

func (v *fakeView) Controls(st domain.LocalSessionState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.controls = append(v.controls, st)
}

func (v *fakeView) Notify(n core.Notice) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, n)
}

func (v *fakeView) ShowLayout(l core.Layout) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.layouts = append(v.layouts, l)
}

func (v *fakeView) lastControls() domain.LocalSessionState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.controls[len(v.controls)-1]
}

type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

const me domain.ParticipantID = "me"

func newTestSession(t *testing.T) (*Session, *fakeMedia, *fakeView) {
	t.Helper()
	m, v := newFakeMedia(), newFakeView()
	return New(me, m, v, WithRand(firstRand{})), m, v
}

// post queues events and handles them synchronously.
func post(t *testing.T, s *Session, evs ...Event) {
	t.Helper()
	for _, ev := range evs {
		require.True(t, s.Post(ev))
	}
	s.drain(context.Background())
}

func joined(t *testing.T) (*Session, *fakeMedia, *fakeView) {
	t.Helper()
	s, m, v := newTestSession(t)
	post(t, s, JoinRequested{Channel: " lobby "})
	require.True(t, s.joined)
	return s, m, v
}

func TestSession_JoinPublishesCamera(t *testing.T) {
	s, m, v := joined(t)

	require.Equal(t, []string{"join", "publish:audio:video"}, m.ops())
	require.Equal(t, domain.ChannelName("lobby"), s.channel)
	st := v.lastControls()
	require.True(t, st.Audio)
	require.True(t, st.Video)
	require.False(t, st.Screen)
	main, ok := s.sel.Main()
	require.True(t, ok)
	require.Equal(t, me, main)
}

func TestSession_JoinRejectsBlankChannel(t *testing.T) {
	s, m, v := newTestSession(t)
	post(t, s, JoinRequested{Channel: "   "})

	require.False(t, s.joined)
	require.Empty(t, m.ops())
	require.Len(t, v.notices, 1)
	require.Equal(t, core.CodeInvalidInput, v.notices[0].Code)
	require.Equal(t, domain.LocalSessionState{}, v.lastControls())
}

func TestSession_JoinFailureNotifies(t *testing.T) {
	s, m, v := newTestSession(t)
	m.fail["join"] = errors.New("service unavailable")
	post(t, s, JoinRequested{Channel: "lobby"})

	require.False(t, s.joined)
	require.Len(t, v.notices, 1)
	require.Equal(t, core.CodeCollaboratorFailure, v.notices[0].Code)
	require.Equal(t, domain.LocalSessionState{}, v.lastControls())
}

func TestSession_PublishFailureRollsBackJoin(t *testing.T) {
	s, m, v := newTestSession(t)
	m.fail["publish"] = errors.New("no camera")
	m.onJoin = func() { s.ParticipantJoined("early") }
	post(t, s, JoinRequested{Channel: "lobby"})

	require.False(t, s.joined)
	require.Equal(t, []string{"join", "publish:audio:video", "leave"}, m.ops())
	require.Equal(t, domain.LocalSessionState{}, v.lastControls())
	require.False(t, s.sel.Contains("early"))
	require.Equal(t, 0, s.pending.Len())
}

func TestSession_FailedJoinKeepsQueuedRequests(t *testing.T) {
	s, m, v := newTestSession(t)
	m.fail["publish"] = errors.New("no camera")
	joins := 0
	m.onJoin = func() {
		joins++
		if joins == 1 {
			s.ParticipantJoined("early")
			return
		}
		m.mu.Lock()
		delete(m.fail, "publish")
		m.mu.Unlock()
	}

	post(t, s, JoinRequested{Channel: "lobby"}, JoinRequested{Channel: "lobby2"}, LayoutRequested{})

	require.True(t, s.joined)
	require.Equal(t, domain.ChannelName("lobby2"), s.channel)
	require.Equal(t, []string{"join", "publish:audio:video", "leave", "join", "publish:audio:video"}, m.ops())
	require.False(t, s.sel.Contains("early"))
	require.Len(t, v.notices, 1)
	require.Len(t, v.layouts, 1)
}

func TestSession_RemoteEventsFlowThroughSelector(t *testing.T) {
	s, m, v := joined(t)
	post(t, s,
		ParticipantJoined{ID: "bob"},
		TrackPublished{ID: "bob", Kind: domain.KindVideo},
		TrackPublished{ID: "bob", Kind: domain.KindAudio},
	)

	require.Contains(t, m.ops(), "subscribe:video")
	require.Contains(t, m.ops(), "subscribe:audio")
	require.Equal(t, domain.ParticipantID("bob"), v.surfaces[core.ThumbnailSurface("bob")])

	post(t, s, SwapRequested{ID: "bob"})
	require.Equal(t, domain.ParticipantID("bob"), v.surfaces[core.SurfaceMain])
	require.Equal(t, me, v.surfaces[core.ThumbnailSurface(me)])

	post(t, s, ParticipantLeft{ID: "bob", Reason: "Quit"})
	require.Equal(t, me, v.surfaces[core.SurfaceMain])
	_, ok := v.surfaces[core.ThumbnailSurface(me)]
	require.False(t, ok)
}

func TestSession_SubscribeFailureLeavesRosterUnchanged(t *testing.T) {
	s, m, v := joined(t)
	m.fail["subscribe:video"] = errors.New("subscribe rejected")
	post(t, s, ParticipantJoined{ID: "bob"}, TrackPublished{ID: "bob", Kind: domain.KindVideo})

	require.False(t, s.sel.Snapshot().Roster["bob"].VideoActive)
	require.Len(t, v.notices, 1)
	require.Equal(t, core.CodeCollaboratorFailure, v.notices[0].Code)
}

func TestSession_StaleEventsAreIgnored(t *testing.T) {
	s, m, v := joined(t)
	before := len(m.ops())
	post(t, s,
		TrackPublished{ID: "ghost", Kind: domain.KindVideo},
		TrackUnpublished{ID: "ghost", Kind: domain.KindVideo},
		ParticipantLeft{ID: "ghost"},
		SwapRequested{ID: "ghost"},
		ScreenTrackEnded{},
	)

	require.Len(t, m.ops(), before)
	require.Empty(t, v.notices)
}

func TestSession_EventsBeforeJoinAreIgnored(t *testing.T) {
	s, m, v := newTestSession(t)
	post(t, s, MicToggle{}, CameraToggle{}, ScreenShareToggle{}, ParticipantJoined{ID: "bob"})

	require.Empty(t, m.ops())
	require.Empty(t, v.notices)
	require.False(t, s.sel.Contains("bob"))
}

func TestSession_MicToggle(t *testing.T) {
	s, m, v := joined(t)
	post(t, s, MicToggle{})
	require.False(t, v.lastControls().Audio)

	m.fail["publish:audio"] = errors.New("device busy")
	post(t, s, MicToggle{})
	require.False(t, v.lastControls().Audio, "mic must stay off when publish fails")
	require.Equal(t, core.CodeCollaboratorFailure, v.notices[0].Code)

	delete(m.fail, "publish:audio")
	post(t, s, MicToggle{})
	require.True(t, s.sel.State().Audio)
}

func TestSession_CameraToggleFailureKeepsState(t *testing.T) {
	s, m, v := joined(t)
	m.fail["unpublish:video"] = errors.New("boom")
	post(t, s, CameraToggle{})

	require.True(t, v.lastControls().Video)
	main, _ := s.sel.Main()
	require.Equal(t, me, main)
}

func TestSession_ScreenShareLifecycle(t *testing.T) {
	s, m, v := joined(t)
	post(t, s, ParticipantJoined{ID: "bob"}, TrackPublished{ID: "bob", Kind: domain.KindVideo})

	post(t, s, ScreenShareToggle{})
	st := v.lastControls()
	require.True(t, st.Screen)
	require.False(t, st.Video)
	require.False(t, st.CameraToggleEnabled())
	require.Equal(t, me, v.surfaces[core.SurfaceMain])
	require.Equal(t, me, v.surfaces[core.ThumbnailSurface(me)])
	_, hasMain := s.sel.Main()
	require.False(t, hasMain)

	post(t, s, CameraToggle{})
	require.Equal(t, core.CodeScreenShareActive, v.notices[len(v.notices)-1].Code)

	// browser "stop sharing" ends the track
	post(t, s, ScreenTrackEnded{})
	st = v.lastControls()
	require.False(t, st.Screen)
	require.True(t, st.Video)
	require.True(t, st.CameraToggleEnabled())
	main, ok := s.sel.Main()
	require.True(t, ok)
	require.Equal(t, me, main)

	// the rejected camera toggle never reaches the media service
	require.Equal(t, []string{
		"join", "publish:audio:video",
		"subscribe:video",
		"unpublish:video", "publish:screen",
		"unpublish:screen", "publish:video",
	}, m.ops())
}

func TestSession_ScreenShareStartFailureRestoresCamera(t *testing.T) {
	s, m, v := joined(t)
	m.fail["publish:screen"] = errors.New("permission denied")
	post(t, s, ScreenShareToggle{})

	st := v.lastControls()
	require.False(t, st.Screen)
	require.True(t, st.Video)
	require.Equal(t, "publish:video", m.ops()[len(m.ops())-1])
	require.Equal(t, core.CodeCollaboratorFailure, v.notices[0].Code)
}

func TestSession_ScreenShareStopCameraFailure(t *testing.T) {
	s, m, v := joined(t)
	post(t, s, ScreenShareToggle{})
	m.fail["publish:video"] = errors.New("camera gone")
	post(t, s, ScreenShareToggle{})

	st := v.lastControls()
	require.False(t, st.Screen)
	require.False(t, st.Video, "camera must not be marked active when publish failed")
	require.False(t, st.VideoIntent)
}

func TestSession_LeaveWinsOverPending(t *testing.T) {
	s, m, v := joined(t)
	require.True(t, s.Post(ParticipantJoined{ID: "bob"}))
	require.True(t, s.Post(TrackPublished{ID: "bob", Kind: domain.KindVideo}))
	require.True(t, s.Post(MicToggle{}))
	require.True(t, s.Post(LeaveRequested{}))
	require.Equal(t, 1, s.pending.Len())
	s.drain(context.Background())

	require.False(t, s.joined)
	require.Equal(t, "leave", m.ops()[len(m.ops())-1])
	require.NotContains(t, m.ops(), "subscribe:video")
	require.Equal(t, domain.LocalSessionState{}, v.lastControls())
	require.Empty(t, v.surfaces)
}

func TestSession_LeaveIsIdempotent(t *testing.T) {
	s, m, _ := joined(t)
	post(t, s, LeaveRequested{}, LeaveRequested{})
	post(t, s, LeaveRequested{})

	leaves := 0
	for _, op := range m.ops() {
		if op == "leave" {
			leaves++
		}
	}
	require.Equal(t, 1, leaves)
	require.Empty(t, s.sel.Snapshot().Roster)
}

func TestSession_Rejoin(t *testing.T) {
	s, _, v := joined(t)
	post(t, s, JoinRequested{Channel: "other"})
	require.Equal(t, core.CodeInvalidInput, v.notices[0].Code)

	post(t, s, LeaveRequested{}, JoinRequested{Channel: "other"})
	require.True(t, s.joined)
	require.Equal(t, domain.ChannelName("other"), s.channel)
}

func TestSession_LayoutSnapshot(t *testing.T) {
	s, _, v := joined(t)
	post(t, s, ParticipantJoined{ID: "bob"}, TrackPublished{ID: "bob", Kind: domain.KindVideo}, LayoutRequested{})

	require.Len(t, v.layouts, 1)
	l := v.layouts[0]
	require.Equal(t, me, l.Main)
	require.Equal(t, []domain.ParticipantID{"bob"}, l.Thumbnails)
	require.True(t, l.Roster["bob"].VideoActive)
}

func TestSession_MailboxLimit(t *testing.T) {
	m, v := newFakeMedia(), newFakeView()
	s := New(me, m, v, WithMailboxSize(2))
	require.True(t, s.Post(LayoutRequested{}))
	require.True(t, s.Post(LayoutRequested{}))
	require.False(t, s.Post(LayoutRequested{}))
	require.True(t, s.Post(LeaveRequested{}), "leave is never dropped")
}

func TestSession_RunSerializesEvents(t *testing.T) {
	s, m, v := newTestSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Post(JoinRequested{Channel: "lobby"})
	s.ParticipantJoined("bob")
	s.TrackPublished("bob", domain.KindVideo)
	s.Post(SwapRequested{ID: "bob"})
	s.TrackUnpublished("bob", domain.KindVideo)
	s.Post(LayoutRequested{})

	require.Eventually(t, func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return len(v.layouts) == 1
	}, time.Second, 5*time.Millisecond)

	v.mu.Lock()
	l := v.layouts[0]
	v.mu.Unlock()
	require.Equal(t, me, l.Main)
	require.Empty(t, l.Thumbnails)
	require.Contains(t, m.ops(), "subscribe:video")

	cancel()
	<-done
	require.False(t, s.Post(LayoutRequested{}))
}
