package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/models"
)

type Orgs struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*models.Organization
}

func NewOrgs() *Orgs {
	return &Orgs{byID: make(map[uuid.UUID]*models.Organization)}
}

func (s *Orgs) Create(_ context.Context, o *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.byID[o.ID] = &cp
	return nil
}

func (s *Orgs) Get(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Orgs) List(_ context.Context) ([]*models.Organization, error) {
	s.mu.RLock()
	out := make([]*models.Organization, 0, len(s.byID))
	for _, o := range s.byID {
		cp := *o
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Orgs) SetSuspended(_ context.Context, id uuid.UUID, suspended bool, at time.Time) (*models.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if o.Suspended != suspended {
		o.Suspended = suspended
		o.UpdatedAt = at
		if suspended {
			o.SuspendedAt = &at
		} else {
			o.SuspendedAt = nil
		}
	}
	cp := *o
	return &cp, nil
}
