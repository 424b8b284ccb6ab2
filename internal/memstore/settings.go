package memstore

import (
	"context"
	"sync"

	"github.com/bidpackuk/backend/internal/aisettings"
	"github.com/bidpackuk/backend/internal/models"
)

type Settings struct {
	mu      sync.Mutex
	current models.GlobalAISettings
	history []*models.SettingsChange
}

func NewSettings() *Settings {
	return &Settings{current: models.DefaultAISettings()}
}

var _ aisettings.Store = (*Settings)(nil)

func (s *Settings) Load(_ context.Context) (models.GlobalAISettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *Settings) Update(_ context.Context, mutate aisettings.Mutator) (models.GlobalAISettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	change, err := mutate(s.current)
	if err != nil {
		return models.GlobalAISettings{}, err
	}
	if change == nil {
		return s.current, nil
	}
	s.current = change.After
	s.history = append(s.history, change)
	return s.current, nil
}

// History returns the newest changes first.
func (s *Settings) History(_ context.Context, limit int) ([]*models.SettingsChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SettingsChange, 0, min(limit, len(s.history)))
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.history[i]
		out = append(out, &cp)
	}
	return out, nil
}
