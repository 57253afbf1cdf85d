package core

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/pion/webrtc/v4"
)

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// ApplyOfferAndCreateAnswer negotiates a browser offer and returns the gathered answer.
	ApplyOfferAndCreateAnswer(webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// CreateOffer starts a server-side renegotiation after local tracks changed.
	CreateOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer completes a server-side renegotiation.
	ApplyAnswer(webrtc.SessionDescription) error
	// OnNegotiationNeeded sets a callback fired when local tracks require a new offer.
	OnNegotiationNeeded(func())
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, kind domain.MediaKind, track *webrtc.TrackRemote))
	// AddLocalTrack attaches a local static RTP track to the underlying PeerConnection.
	AddLocalTrack(track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error)
	// RemoveLocalTrack detaches a sender returned by AddLocalTrack.
	RemoveLocalTrack(sender *webrtc.RTPSender) error
	// OnClosed sets a callback for cleanup media session.
	OnClosed(func())
}

// MediaService is the command side of the media/signaling collaborator
// as seen by one viewer.
type MediaService interface {
	Join(ctx context.Context, channel domain.ChannelName) error
	Publish(ctx context.Context, kinds ...domain.MediaKind) error
	Unpublish(ctx context.Context, kinds ...domain.MediaKind) error
	Subscribe(ctx context.Context, id domain.ParticipantID, kind domain.MediaKind) error
	Leave(ctx context.Context) error
}
