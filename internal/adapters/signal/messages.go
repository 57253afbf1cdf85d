package signal

import (
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type errorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type renderMsg struct {
	Type        string               `json:"type"`
	Op          string               `json:"op"`
	Surface     core.Surface         `json:"surface"`
	Participant domain.ParticipantID `json:"participant,omitempty"`
	Kind        domain.MediaKind     `json:"kind,omitempty"`
}

type controlsMsg struct {
	Type          string `json:"type"`
	Mic           bool   `json:"mic"`
	Camera        bool   `json:"camera"`
	Screen        bool   `json:"screen"`
	CameraEnabled bool   `json:"camera_enabled"`
}

type noticeMsg struct {
	Type string `json:"type"`
	core.Notice
}

type layoutMsg struct {
	Type string `json:"type"`
	core.Layout
}

type memberMsg struct {
	Type string      `json:"type"`
	User domain.UserInfo `json:"user"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type candidateMsg struct {
	Type          string  `json:"type"`
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
