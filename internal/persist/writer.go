// Package persist durably records messages before they are broadcast.
package persist

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-chat/internal/cache"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/health"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// HealthReporter receives store availability signals.
type HealthReporter interface {
	MarkDegraded(component string, err error)
}

// Writer appends messages to the store. It never retries.
type Writer struct {
	repo   repository.MessageRepository
	cache  cache.MessageCache
	health HealthReporter
}

func NewWriter(repo repository.MessageRepository, msgCache cache.MessageCache, reporter HealthReporter) *Writer {
	if msgCache == nil {
		msgCache = cache.NopMessageCache{}
	}
	return &Writer{repo: repo, cache: msgCache, health: reporter}
}

// Persist stores content as sent by sender to room and returns the stored
// message. Failures wrap domain.ErrPersistenceFailure.
func (w *Writer) Persist(ctx context.Context, room string, sender *domain.Identity, content string) (*domain.Message, error) {
	l := log.Ctx(ctx)

	msg, err := w.repo.Append(ctx, room, sender.UserID, sender.Handle, content)
	if err != nil {
		if w.health != nil && ctx.Err() == nil {
			w.health.MarkDegraded(health.ComponentStore, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	if err := w.cache.Invalidate(ctx, room); err != nil {
		l.Warn().Err(err).Str(log.FieldRoom, room).Msg("failed to invalidate history cache")
	}

	return msg, nil
}
