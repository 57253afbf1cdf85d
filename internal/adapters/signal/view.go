package signal

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

const resyncDelay = 250 * time.Millisecond

// wsView renders a stage session into JSON frames for the browser.
// Render frames are deltas, so after a frame is dropped under backpressure
// resync is called until a full layout gets through.
type wsView struct {
	conn      core.SignalConnection
	resync    func()
	delay     time.Duration
	scheduled atomic.Bool
}

func NewView(conn core.SignalConnection, resync func()) core.View {
	return &wsView{conn: conn, resync: resync, delay: resyncDelay}
}

func (v *wsView) send(msg any) {
	err := sendJSON(v.conn, msg)
	if !errors.Is(err, ErrBackpressure) || v.resync == nil {
		return
	}
	if !v.scheduled.CompareAndSwap(false, true) {
		return
	}
	time.AfterFunc(v.delay, func() {
		v.scheduled.Store(false)
		v.resync()
	})
}

func (v *wsView) Assign(surface core.Surface, id domain.ParticipantID, kind domain.MediaKind) {
	v.send(renderMsg{Type: "render", Op: "assign", Surface: surface, Participant: id, Kind: kind})
}

func (v *wsView) Clear(surface core.Surface) {
	v.send(renderMsg{Type: "render", Op: "clear", Surface: surface})
}

func (v *wsView) Controls(st domain.LocalSessionState) {
	v.send(controlsMsg{
		Type:          "controls",
		Mic:           st.Audio,
		Camera:        st.Video,
		Screen:        st.Screen,
		CameraEnabled: st.CameraToggleEnabled(),
	})
}

func (v *wsView) Notify(n core.Notice) {
	v.send(noticeMsg{Type: "notice", Notice: n})
}

func (v *wsView) ShowLayout(l core.Layout) {
	v.send(layoutMsg{Type: "layout", Layout: l})
}
