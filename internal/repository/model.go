package repository

import (
	"time"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID           string    `gorm:"type:varchar(64);primaryKey"`
	Room         string    `gorm:"type:varchar(64);not null;index:idx_messages_room_created,priority:1"`
	SenderID     string    `gorm:"type:varchar(64);not null"`
	SenderHandle string    `gorm:"type:varchar(255);not null"`
	Content      string    `gorm:"type:text;not null"`
	CreatedAt    time.Time `gorm:"not null;index:idx_messages_room_created,priority:2"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() domain.Message {
	return domain.Message{
		ID:           m.ID,
		Room:         m.Room,
		SenderID:     m.SenderID,
		SenderHandle: m.SenderHandle,
		Content:      m.Content,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}
