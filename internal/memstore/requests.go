package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bidpackuk/backend/internal/models"
)

type Requests struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*models.AIRequest
}

func NewRequests() *Requests {
	return &Requests{byID: make(map[uuid.UUID]*models.AIRequest)}
}

func (s *Requests) Create(_ context.Context, r *models.AIRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; ok {
		return fmt.Errorf("%w: AI request %s exists", models.ErrConflict, r.ID)
	}
	cp := *r
	s.byID[r.ID] = &cp
	return nil
}

func (s *Requests) Finish(_ context.Context, _ pgx.Tx, r *models.AIRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[r.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Status.Final() {
		return fmt.Errorf("%w: %s is %s", models.ErrRequestFinalized, r.ID, cur.Status)
	}
	cur.Status = r.Status
	cur.ACUsUsed = r.ACUsUsed
	cur.TokensUsed = r.TokensUsed
	cur.FailureReason = r.FailureReason
	cur.CompletedAt = r.CompletedAt
	return nil
}

func (s *Requests) Get(_ context.Context, id uuid.UUID) (*models.AIRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// List returns matching requests newest first.
func (s *Requests) List(_ context.Context, f models.AIRequestFilter) ([]*models.AIRequest, error) {
	s.mu.RLock()
	out := make([]*models.AIRequest, 0)
	for _, r := range s.byID {
		if f.Match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out, nil
}

func (s *Requests) ListPending(_ context.Context, createdBefore time.Time) ([]*models.AIRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AIRequest
	for _, r := range s.byID {
		if r.Status == models.AIRequestPending && r.CreatedAt.Before(createdBefore) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
