package core

import "github.com/dkeye/Stage/internal/domain"

// Surface names a place a video can be shown on.
type Surface string

const SurfaceMain Surface = "full-screen-video"

// ThumbnailSurface returns the secondary surface reserved for id.
func ThumbnailSurface(id domain.ParticipantID) Surface {
	return Surface("remote-user-" + string(id) + "-video")
}

// Renderer attaches participant video to surfaces. Reassigning a surface
// detaches whatever was shown there before.
type Renderer interface {
	Assign(surface Surface, id domain.ParticipantID, kind domain.MediaKind)
	Clear(surface Surface)
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

const (
	CodeInvalidInput        = "invalid_input"
	CodeCollaboratorFailure = "collaborator_failure"
	CodeScreenShareActive   = "screen_share_active"
)

// Notice is a user-visible message.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// Layout is a read-only picture of the selector state.
type Layout struct {
	Main         domain.ParticipantID                             `json:"main,omitempty"`
	ScreenOnMain bool                                             `json:"screen_on_main"`
	Roster       map[domain.ParticipantID]domain.ParticipantState `json:"roster"`
	Thumbnails   []domain.ParticipantID                           `json:"thumbnails"`
	Local        domain.LocalSessionState                         `json:"local"`
}

// View is everything a viewer's UI shell is told.
type View interface {
	Renderer
	Controls(state domain.LocalSessionState)
	Notify(n Notice)
	ShowLayout(l Layout)
}
