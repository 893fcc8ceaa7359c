package repository

import (
	"context"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// MessageRepository is the durable message store.
type MessageRepository interface {
	// Append assigns an ID and creation time and durably writes the message.
	Append(ctx context.Context, room, senderID, senderHandle, content string) (*domain.Message, error)
	// Recent returns up to limit newest messages of room, oldest first.
	Recent(ctx context.Context, room string, limit int) ([]domain.Message, error)
	Ping(ctx context.Context) error
	Close() error
}
