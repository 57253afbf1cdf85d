package core_test

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type renderOp struct {
	Op      string
	Surface core.Surface
	ID      domain.ParticipantID
	Kind    domain.MediaKind
}

type recordingRenderer struct {
	ops     []renderOp
	surface map[core.Surface]domain.ParticipantID
}

func newRecordingRenderer() *recordingRenderer {
	return &recordingRenderer{surface: make(map[core.Surface]domain.ParticipantID)}
}

func (r *recordingRenderer) Assign(surface core.Surface, id domain.ParticipantID, kind domain.MediaKind) {
	r.ops = append(r.ops, renderOp{Op: "assign", Surface: surface, ID: id, Kind: kind})
	r.surface[surface] = id
}

func (r *recordingRenderer) Clear(surface core.Surface) {
	r.ops = append(r.ops, renderOp{Op: "clear", Surface: surface})
	delete(r.surface, surface)
}

func (r *recordingRenderer) reset() { r.ops = nil }

// fixedRand always answers the same index, clamped to the range.
type fixedRand int

func (f fixedRand) IntN(n int) int {
	if int(f) >= n {
		return n - 1
	}
	return int(f)
}

const local domain.ParticipantID = "local"

func newSelector(t *testing.T) (*core.Selector, *recordingRenderer) {
	t.Helper()
	r := newRecordingRenderer()
	return core.NewSelector(local, r, core.WithRand(fixedRand(0))), r
}

func join(t *testing.T, s *core.Selector, ids ...domain.ParticipantID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.ParticipantJoined(id))
	}
}

func publish(t *testing.T, s *core.Selector, ids ...domain.ParticipantID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.VideoPublished(id))
	}
}

func requireMain(t *testing.T, s *core.Selector, want domain.ParticipantID) {
	t.Helper()
	got, ok := s.Main()
	require.True(t, ok, "main slot is empty, want %q", want)
	require.Equal(t, want, got)
}

func requireMainEmpty(t *testing.T, s *core.Selector) {
	t.Helper()
	got, ok := s.Main()
	require.False(t, ok, "main slot holds %q", got)
}

func TestSelector_JoinLeaveWithoutVideoKeepsMainEmpty(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "a", "b", "c")
	require.NoError(t, s.ParticipantLeft("b"))
	join(t, s, "d")
	require.NoError(t, s.ParticipantLeft("a"))

	requireMainEmpty(t, s)
	require.Empty(t, r.ops)
}

func TestSelector_FirstVideoTakesMain(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "a", "b")
	publish(t, s, "b")

	requireMain(t, s, "b")
	require.False(t, s.HasThumbnail("b"))
	require.Equal(t, []renderOp{{Op: "assign", Surface: core.SurfaceMain, ID: "b", Kind: domain.KindVideo}}, r.ops)
}

func TestSelector_SecondVideoGetsThumbnail(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A", "B")
	publish(t, s, "A")
	r.reset()

	publish(t, s, "B")

	requireMain(t, s, "A")
	require.True(t, s.HasThumbnail("B"))
	require.Equal(t, []renderOp{{Op: "assign", Surface: "remote-user-B-video", ID: "B", Kind: domain.KindVideo}}, r.ops)
}

func TestSelector_UnpublishMainPromotesOnlyCandidate(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A", "B")
	publish(t, s, "A", "B")
	r.reset()

	require.NoError(t, s.VideoUnpublished("A"))

	requireMain(t, s, "B")
	require.False(t, s.HasThumbnail("B"))
	require.False(t, s.HasThumbnail("A"))
	require.Equal(t, []renderOp{
		{Op: "clear", Surface: "remote-user-B-video"},
		{Op: "assign", Surface: core.SurfaceMain, ID: "B", Kind: domain.KindVideo},
	}, r.ops)
}

func TestSelector_UnpublishLoneMainClears(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A")
	publish(t, s, "A")
	r.reset()

	require.NoError(t, s.VideoUnpublished("A"))

	requireMainEmpty(t, s)
	require.Equal(t, []renderOp{{Op: "clear", Surface: core.SurfaceMain}}, r.ops)
}

func TestSelector_UnpublishThumbnailClearsIt(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A", "B")
	publish(t, s, "A", "B")
	r.reset()

	require.NoError(t, s.VideoUnpublished("B"))

	requireMain(t, s, "A")
	require.False(t, s.HasThumbnail("B"))
	require.Equal(t, []renderOp{{Op: "clear", Surface: "remote-user-B-video"}}, r.ops)
}

func TestSelector_LeaveMainPromotesOther(t *testing.T) {
	s, _ := newSelector(t)
	join(t, s, "A", "B")
	publish(t, s, "A", "B")

	require.NoError(t, s.ParticipantLeft("A"))

	requireMain(t, s, "B")
	require.False(t, s.Contains("A"))
}

func TestSelector_LeaveLastClearsMain(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A")
	publish(t, s, "A")
	r.reset()

	require.NoError(t, s.ParticipantLeft("A"))

	requireMainEmpty(t, s)
	require.Equal(t, []renderOp{{Op: "clear", Surface: core.SurfaceMain}}, r.ops)
	_, shown := r.surface[core.SurfaceMain]
	require.False(t, shown)
}

func TestSelector_LeaveMainUsesInjectedRand(t *testing.T) {
	for idx, want := range []domain.ParticipantID{"B", "C", "D"} {
		t.Run(string(want), func(t *testing.T) {
			r := newRecordingRenderer()
			s := core.NewSelector(local, r, core.WithRand(fixedRand(idx)))
			join(t, s, "A", "D", "C", "B")
			publish(t, s, "A", "B", "C", "D")

			require.NoError(t, s.ParticipantLeft("A"))
			requireMain(t, s, want)
		})
	}
}

func TestSelector_LeaveThumbnailRemovesOnlyThumbnail(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A", "B", "C")
	publish(t, s, "A", "B")
	r.reset()

	require.NoError(t, s.ParticipantLeft("B"))
	require.NoError(t, s.ParticipantLeft("C"))

	requireMain(t, s, "A")
	require.Equal(t, []renderOp{{Op: "clear", Surface: "remote-user-B-video"}}, r.ops)
}

func TestSelector_StaleReferences(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A")
	publish(t, s, "A")
	require.NoError(t, s.ParticipantLeft("A"))
	r.reset()

	require.ErrorIs(t, s.ParticipantLeft("A"), core.ErrStaleReference)
	require.ErrorIs(t, s.VideoUnpublished("A"), core.ErrStaleReference)
	require.ErrorIs(t, s.VideoPublished("ghost"), core.ErrStaleReference)
	require.ErrorIs(t, s.AudioPublished("ghost"), core.ErrStaleReference)
	require.ErrorIs(t, s.AudioUnpublished("ghost"), core.ErrStaleReference)
	require.ErrorIs(t, s.RequestSwap("ghost"), core.ErrStaleReference)
	require.Empty(t, r.ops)
	requireMainEmpty(t, s)
}

func TestSelector_AudioHasNoSurfaceEffects(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A")
	require.NoError(t, s.AudioPublished("A"))
	require.True(t, s.Snapshot().Roster["A"].AudioActive)
	require.NoError(t, s.AudioUnpublished("A"))
	require.False(t, s.Snapshot().Roster["A"].AudioActive)

	require.Empty(t, r.ops)
	requireMainEmpty(t, s)
}

func TestSelector_SwapTwice(t *testing.T) {
	s, _ := newSelector(t)
	join(t, s, "A", "X", "Y")
	publish(t, s, "A", "X", "Y")

	require.NoError(t, s.RequestSwap("X"))
	requireMain(t, s, "X")
	require.True(t, s.HasThumbnail("A"))
	require.False(t, s.HasThumbnail("X"))

	require.NoError(t, s.RequestSwap("Y"))
	requireMain(t, s, "Y")
	require.True(t, s.HasThumbnail("X"))
	require.False(t, s.HasThumbnail("Y"))
}

func TestSelector_SwapDemotedWithoutVideoGetsNoThumbnail(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "X", "Y")
	publish(t, s, "Y")

	require.NoError(t, s.RequestSwap("X"))
	requireMain(t, s, "X")
	r.reset()

	require.NoError(t, s.RequestSwap("Y"))
	requireMain(t, s, "Y")
	require.False(t, s.HasThumbnail("X"))
	require.Equal(t, []renderOp{
		{Op: "clear", Surface: "remote-user-Y-video"},
		{Op: "assign", Surface: core.SurfaceMain, ID: "Y", Kind: domain.KindVideo},
	}, r.ops)
}

func TestSelector_SwapToParticipantWithoutVideo(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A", "B")
	publish(t, s, "A")
	r.reset()

	require.NoError(t, s.RequestSwap("B"))

	requireMain(t, s, "B")
	require.True(t, s.HasThumbnail("A"))
	require.Equal(t, []renderOp{
		{Op: "assign", Surface: "remote-user-A-video", ID: "A", Kind: domain.KindVideo},
		{Op: "clear", Surface: core.SurfaceMain},
	}, r.ops)

	r.reset()
	publish(t, s, "B")
	require.Equal(t, []renderOp{{Op: "assign", Surface: core.SurfaceMain, ID: "B", Kind: domain.KindVideo}}, r.ops)
}

func TestSelector_SwapToMainIsNoop(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A")
	publish(t, s, "A")
	r.reset()

	require.NoError(t, s.RequestSwap("A"))
	requireMain(t, s, "A")
	require.Empty(t, r.ops)
}

func TestSelector_ScreenShareRoundTrip(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, local, "B")
	require.NoError(t, s.SetMic(true))
	require.NoError(t, s.SetCamera(true))
	publish(t, s, "B")
	requireMain(t, s, local)
	require.True(t, s.State().CameraToggleEnabled())
	r.reset()

	s.StartScreenShare()
	requireMainEmpty(t, s)
	require.True(t, s.HasThumbnail(local))
	require.False(t, s.State().CameraToggleEnabled())
	require.False(t, s.State().Video)
	require.True(t, s.State().VideoIntent)
	require.ErrorIs(t, s.SetCamera(false), core.ErrScreenShareActive)

	require.NoError(t, s.PromoteScreen())
	require.Equal(t, []renderOp{
		{Op: "clear", Surface: core.SurfaceMain},
		{Op: "assign", Surface: "remote-user-local-video", ID: local, Kind: domain.KindVideo},
		{Op: "assign", Surface: core.SurfaceMain, ID: local, Kind: domain.KindScreen},
	}, r.ops)
	require.True(t, s.Snapshot().ScreenOnMain)

	s.StopScreenShare()
	requireMain(t, s, local)
	require.False(t, s.HasThumbnail(local))
	require.True(t, s.State().CameraToggleEnabled())
	require.True(t, s.State().Video)
	require.False(t, s.Snapshot().ScreenOnMain)
}

func TestSelector_VideoDuringScreenShareGoesToThumbnail(t *testing.T) {
	s, _ := newSelector(t)
	join(t, s, local, "B")
	require.NoError(t, s.SetCamera(true))
	s.StartScreenShare()
	require.NoError(t, s.PromoteScreen())

	publish(t, s, "B")
	requireMainEmpty(t, s)
	require.True(t, s.HasThumbnail("B"))
}

func TestSelector_StopScreenSharePrevMainLeft(t *testing.T) {
	s, _ := newSelector(t)
	join(t, s, local, "A", "B")
	publish(t, s, "A", "B")
	requireMain(t, s, "A")

	s.StartScreenShare()
	require.NoError(t, s.PromoteScreen())
	require.NoError(t, s.ParticipantLeft("A"))

	s.StopScreenShare()
	// candidates sorted: B, local; fixedRand(0) picks B
	requireMain(t, s, "B")
}

func TestSelector_StopScreenShareWithoutStartIsNoop(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, "A")
	s.StopScreenShare()
	require.Empty(t, r.ops)
	require.ErrorIs(t, s.PromoteScreen(), core.ErrNotSharing)
}

func TestSelector_ScreenShareCameraOffKeepsIntentOff(t *testing.T) {
	s, _ := newSelector(t)
	join(t, s, local)
	require.NoError(t, s.SetCamera(false))

	s.StartScreenShare()
	s.StopScreenShare()
	require.False(t, s.State().Video)
	require.False(t, s.State().VideoIntent)
}

func TestSelector_ResetIsIdempotent(t *testing.T) {
	s, r := newSelector(t)
	join(t, s, local, "A", "B")
	require.NoError(t, s.SetMic(true))
	require.NoError(t, s.SetCamera(true))
	publish(t, s, "A", "B")
	s.StartScreenShare()
	require.NoError(t, s.PromoteScreen())

	s.Reset()
	l := s.Snapshot()
	require.Empty(t, l.Roster)
	require.Empty(t, l.Thumbnails)
	require.Equal(t, domain.LocalSessionState{}, l.Local)
	requireMainEmpty(t, s)
	require.Empty(t, r.surface)

	r.reset()
	s.Reset()
	require.Empty(t, r.ops)
	require.Equal(t, domain.LocalSessionState{}, s.State())
	requireMainEmpty(t, s)
}

// Random event sequences must never leave the main slot pointing outside the roster,
// and thumbnails must match the predicate.
func TestSelector_RandomSequencesKeepInvariants(t *testing.T) {
	ids := []domain.ParticipantID{local, "a", "b", "c", "d"}
	for seed := uint64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			src := rand.New(rand.NewPCG(seed, seed*7))
			r := newRecordingRenderer()
			s := core.NewSelector(local, r, core.WithRand(src))

			for step := 0; step < 200; step++ {
				id := ids[src.IntN(len(ids))]
				switch src.IntN(9) {
				case 0:
					_ = s.ParticipantJoined(id)
				case 1:
					_ = s.ParticipantLeft(id)
				case 2, 3:
					_ = s.VideoPublished(id)
				case 4:
					_ = s.VideoUnpublished(id)
				case 5:
					_ = s.RequestSwap(id)
				case 6:
					s.StartScreenShare()
					_ = s.PromoteScreen()
				case 7:
					s.StopScreenShare()
				case 8:
					_ = s.AudioPublished(id)
				}

				if main, ok := s.Main(); ok {
					require.True(t, s.Contains(main), "main %q not in roster", main)
					require.False(t, s.HasThumbnail(main))
				}
				for _, tid := range s.Snapshot().Thumbnails {
					require.Equal(t, tid, r.surface[core.ThumbnailSurface(tid)], "thumbnail %q not rendered", tid)
				}
			}

			s.Reset()
			require.Empty(t, s.Snapshot().Roster)
			requireMainEmpty(t, s)
		})
	}
}
