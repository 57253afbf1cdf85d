package core

import (
	"github.com/dkeye/Stage/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID       domain.ParticipantID `json:"id"`
	Username string               `json:"username"`
}

// ChannelService is the core-facing API of a channel.
// It owns the membership set but never touches transport resources.
type ChannelService interface {
	Channel() *domain.Channel
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Members() []MemberSession

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID) bool
	Broadcast(from SessionID, data Frame) PublishResult
}

type ChannelInfo struct {
	Name        domain.ChannelName `json:"name"`
	MemberCount int                `json:"member_count"`
}

type ChannelManager interface {
	GetOrCreate(name domain.ChannelName) ChannelService
	Get(name domain.ChannelName) (ChannelService, bool)
	List() []ChannelInfo
	StopChannel(name domain.ChannelName)
}
