package app

import "github.com/dkeye/Stage/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose signal queue is full.
type Policy interface {
	OnBackPressure(ch core.ChannelService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ChannelService, core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy only drops the frame.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.ChannelService, core.MemberSession) BackpressureAction {
	return DropFrame
}
