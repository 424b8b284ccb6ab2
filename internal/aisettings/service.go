package aisettings

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/models"
)

// Mutator computes the change to persist from the current settings. A nil
// change means there is nothing to write.
type Mutator func(cur models.GlobalAISettings) (*models.SettingsChange, error)

// Store holds the single settings record and its audit trail. Update must run
// the mutator and persist the record and change atomically.
type Store interface {
	Load(ctx context.Context) (models.GlobalAISettings, error)
	Update(ctx context.Context, mutate Mutator) (models.GlobalAISettings, error)
	History(ctx context.Context, limit int) ([]*models.SettingsChange, error)
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log, now: time.Now}
}

func (s *Service) Get(ctx context.Context) (models.GlobalAISettings, error) {
	return s.store.Load(ctx)
}

// Update merges patch into the current settings on behalf of actor.
// Re-applying a patch that changes nothing writes no audit record.
func (s *Service) Update(ctx context.Context, actor string, patch models.SettingsPatch) (models.GlobalAISettings, error) {
	if err := patch.Validate(); err != nil {
		return models.GlobalAISettings{}, err
	}
	var changed *models.SettingsChange
	out, err := s.store.Update(ctx, func(cur models.GlobalAISettings) (*models.SettingsChange, error) {
		next := patch.Apply(cur)
		if next.SamePolicy(cur) {
			return nil, nil
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		next.UpdatedAt = now
		next.UpdatedBy = actor
		changed = &models.SettingsChange{
			ID:        uuid.New(),
			Actor:     actor,
			Before:    cur,
			After:     next,
			ChangedAt: now,
		}
		return changed, nil
	})
	if err != nil {
		return models.GlobalAISettings{}, err
	}
	if changed != nil {
		s.log.Info("AI settings updated", "actor", actor,
			"ai_enabled", out.AIEnabled,
			"max_acus_per_request", out.MaxACUsPerRequest,
			"max_acus_per_day", out.MaxACUsPerDay,
			"max_acus_per_month", out.MaxACUsPerMonth)
	}
	return out, nil
}

func (s *Service) History(ctx context.Context, limit int) ([]*models.SettingsChange, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.History(ctx, limit)
}
