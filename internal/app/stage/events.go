package stage

import "github.com/dkeye/Stage/internal/domain"

// Event is one unit of work for a session. Events are handled strictly one
// at a time in arrival order, except LeaveRequested which drops everything
// queued before it.
type Event interface {
	eventName() string
}

// UI shell intents.
type (
	JoinRequested struct {
		Channel string
	}
	LeaveRequested    struct{}
	MicToggle         struct{}
	CameraToggle      struct{}
	ScreenShareToggle struct{}
	SwapRequested     struct {
		ID domain.ParticipantID
	}
	LayoutRequested struct{}
)

// Media/signaling notifications.
type (
	ParticipantJoined struct {
		ID domain.ParticipantID
	}
	ParticipantLeft struct {
		ID     domain.ParticipantID
		Reason string
	}
	TrackPublished struct {
		ID   domain.ParticipantID
		Kind domain.MediaKind
	}
	TrackUnpublished struct {
		ID   domain.ParticipantID
		Kind domain.MediaKind
	}
	// ScreenTrackEnded is raised when the local screen track stops outside the UI,
	// e.g. the browser's own "stop sharing" button.
	ScreenTrackEnded struct{}
)

func (JoinRequested) eventName() string     { return "join" }
func (LeaveRequested) eventName() string    { return "leave" }
func (MicToggle) eventName() string         { return "mic" }
func (CameraToggle) eventName() string      { return "camera" }
func (ScreenShareToggle) eventName() string { return "screen" }
func (SwapRequested) eventName() string     { return "swap" }
func (LayoutRequested) eventName() string   { return "layout" }
func (ParticipantJoined) eventName() string { return "participant_joined" }
func (ParticipantLeft) eventName() string   { return "participant_left" }
func (TrackPublished) eventName() string    { return "track_published" }
func (TrackUnpublished) eventName() string  { return "track_unpublished" }
func (ScreenTrackEnded) eventName() string  { return "screen_ended" }

// isNotification reports whether ev came from the media side rather than the
// viewer.
func isNotification(ev Event) bool {
	switch ev.(type) {
	case ParticipantJoined, ParticipantLeft, TrackPublished, TrackUnpublished, ScreenTrackEnded:
		return true
	}
	return false
}
