package core

import "github.com/dkeye/Stage/internal/domain"

type SessionID string

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// StageInbox receives call events addressed to one viewer.
// Implementations queue the event and return immediately.
type StageInbox interface {
	ParticipantJoined(id domain.ParticipantID)
	ParticipantLeft(id domain.ParticipantID, reason string)
	TrackPublished(id domain.ParticipantID, kind domain.MediaKind)
	TrackUnpublished(id domain.ParticipantID, kind domain.MediaKind)
	ScreenTrackEnded()
}

// MemberSession binds domain.Member and its transport endpoints.
// This is what a channel stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	ID() domain.ParticipantID
	Signal() SignalConnection
	Media() MediaConnection
	Stage() StageInbox
	UpdateSignal(SignalConnection) MemberSession
	UpdateMedia(MediaConnection) MemberSession
	UpdateStage(StageInbox) MemberSession
}
