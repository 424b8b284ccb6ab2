package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bidpackuk/backend/internal/models"
	"github.com/bidpackuk/backend/internal/subscription"
)

type Subscriptions struct {
	mu    sync.RWMutex
	byOrg map[uuid.UUID]*models.Subscription
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{byOrg: make(map[uuid.UUID]*models.Subscription)}
}

var _ subscription.Store = (*Subscriptions)(nil)

func (s *Subscriptions) GetByOrg(_ context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byOrg[orgID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Subscriptions) CreateTx(_ context.Context, _ pgx.Tx, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrg[sub.OrgID]; ok {
		return fmt.Errorf("%w: org %s already subscribed", models.ErrConflict, sub.OrgID)
	}
	cp := *sub
	s.byOrg[sub.OrgID] = &cp
	return nil
}

func (s *Subscriptions) Update(_ context.Context, orgID uuid.UUID, u subscription.Update, at time.Time) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.byOrg[orgID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if u.Status != nil {
		sub.Status = *u.Status
	}
	if u.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *u.CancelAtPeriodEnd
	}
	if u.PlanType != nil {
		sub.PlanType = *u.PlanType
	}
	sub.UpdatedAt = at
	cp := *sub
	return &cp, nil
}

func (s *Subscriptions) AdvancePeriodTx(_ context.Context, _ pgx.Tx, id uuid.UUID, prevEnd, start, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.byOrg {
		if sub.ID != id {
			continue
		}
		if !sub.CurrentPeriodEnd.Equal(prevEnd) {
			return fmt.Errorf("%w: period already advanced", models.ErrConflict)
		}
		sub.CurrentPeriodStart = start
		sub.CurrentPeriodEnd = end
		sub.UpdatedAt = start
		return nil
	}
	return models.ErrNotFound
}

func (s *Subscriptions) ListDue(_ context.Context, now time.Time) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Subscription
	for _, sub := range s.byOrg {
		if sub.Status.Entitled() && !sub.CurrentPeriodEnd.After(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Subscriptions) List(_ context.Context) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Subscription, 0, len(s.byOrg))
	for _, sub := range s.byOrg {
		cp := *sub
		out = append(out, &cp)
	}
	return out, nil
}
