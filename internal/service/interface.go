package service

import (
	"context"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/hub"
)

// RoomBus is the broadcast bus as seen by the gateway.
type RoomBus interface {
	hub.RoomBus
	Publish(ctx context.Context, room string, msg *domain.Message) error
}

// MessageWriter durably records a message before it is broadcast.
type MessageWriter interface {
	Persist(ctx context.Context, room string, sender *domain.Identity, content string) (*domain.Message, error)
}

// HealthReporter receives availability signals for the store and the bus.
type HealthReporter interface {
	MarkDegraded(component string, err error)
}
