package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo/mutable"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/idgen"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// GormMessageRepository implements MessageRepository on a SQL database.
type GormMessageRepository struct {
	db    *gorm.DB
	ids   idgen.Generator
	clock func() time.Time
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB, ids idgen.Generator) *GormMessageRepository {
	return &GormMessageRepository{db: db, ids: ids, clock: time.Now}
}

// Migrate creates or updates the messages table.
func (r *GormMessageRepository) Migrate() error {
	return database.AutoMigrate(r.db, &MessageModel{})
}

func (r *GormMessageRepository) Append(ctx context.Context, room, senderID, senderHandle, content string) (*domain.Message, error) {
	l := log.Ctx(ctx)

	id, err := r.ids.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	model := &MessageModel{
		ID:           id,
		Room:         room,
		SenderID:     senderID,
		SenderHandle: senderHandle,
		Content:      content,
		CreatedAt:    r.clock().UTC().Truncate(time.Millisecond),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to insert message")
		return nil, err
	}

	l.Debug().Str(log.FieldMessageID, id).Str(log.FieldRoom, room).Msg("message stored")
	msg := model.ToDomain()
	return &msg, nil
}

func (r *GormMessageRepository) Recent(ctx context.Context, room string, limit int) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("room = ?", room).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to query messages")
		return nil, err
	}

	messages := make([]domain.Message, len(models))
	for i := range models {
		messages[i] = models[i].ToDomain()
	}
	// Newest-first query results, returned in chronological order.
	mutable.Reverse(messages)
	return messages, nil
}

func (r *GormMessageRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormMessageRepository) Close() error {
	return database.Close(r.db)
}
