package orch

import (
	"context"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// mediaService is the orchestrator as seen by one viewer's stage session.
type mediaService struct {
	o   *Orchestrator
	sid core.SessionID
}

// MediaFor returns the media service for sid.
func (o *Orchestrator) MediaFor(sid core.SessionID) core.MediaService {
	return &mediaService{o: o, sid: sid}
}

func (m *mediaService) Join(_ context.Context, channel domain.ChannelName) error {
	return m.o.Join(m.sid, channel)
}

func (m *mediaService) Publish(_ context.Context, kinds ...domain.MediaKind) error {
	return m.o.Publish(m.sid, kinds...)
}

func (m *mediaService) Unpublish(_ context.Context, kinds ...domain.MediaKind) error {
	return m.o.Unpublish(m.sid, kinds...)
}

func (m *mediaService) Subscribe(_ context.Context, id domain.ParticipantID, kind domain.MediaKind) error {
	return m.o.Subscribe(m.sid, id, kind)
}

func (m *mediaService) Leave(_ context.Context) error {
	m.o.Leave(m.sid, "left")
	return nil
}
