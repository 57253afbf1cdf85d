package domain

type ParticipantID string

type MediaKind string

const (
	KindAudio  MediaKind = "audio"
	KindVideo  MediaKind = "video"
	KindScreen MediaKind = "screen"
)

// IsVisual reports whether tracks of this kind are rendered on a surface.
func (k MediaKind) IsVisual() bool {
	return k == KindVideo || k == KindScreen
}

func (k MediaKind) Valid() bool {
	switch k {
	case KindAudio, KindVideo, KindScreen:
		return true
	}
	return false
}

// ParticipantState is a roster entry: which media a participant currently contributes.
type ParticipantState struct {
	VideoActive bool `json:"video"`
	AudioActive bool `json:"audio"`
}

// LocalSessionState tracks what the local viewer publishes.
// Video is the camera publish state; VideoIntent survives a screen share so the
// camera can resume afterwards.
type LocalSessionState struct {
	Audio       bool `json:"mic"`
	Video       bool `json:"camera"`
	Screen      bool `json:"screen"`
	VideoIntent bool `json:"-"`
}

// CameraToggleEnabled is false while the screen replaces the camera.
func (s LocalSessionState) CameraToggleEnabled() bool {
	return !s.Screen
}
