package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/abuse"
	"github.com/bidpackuk/backend/internal/models"
)

type AbuseFlags struct {
	mu    sync.RWMutex
	flags map[uuid.UUID]*models.AbuseFlag
}

func NewAbuseFlags() *AbuseFlags {
	return &AbuseFlags{flags: make(map[uuid.UUID]*models.AbuseFlag)}
}

var _ abuse.Store = (*AbuseFlags)(nil)

func (s *AbuseFlags) Add(_ context.Context, orgID uuid.UUID, reason string, at time.Time) (*models.AbuseFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flags[orgID]
	if !ok {
		f = &models.AbuseFlag{OrgID: orgID, DetectedAt: at}
		s.flags[orgID] = f
	}
	if !slices.Contains(f.Reasons, reason) {
		f.Reasons = append(f.Reasons, reason)
	}
	return cloneFlag(f), nil
}

func (s *AbuseFlags) Delete(_ context.Context, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[orgID]; !ok {
		return models.ErrNotFound
	}
	delete(s.flags, orgID)
	return nil
}

// List returns flags, most recently detected first.
func (s *AbuseFlags) List(_ context.Context) ([]*models.AbuseFlag, error) {
	s.mu.RLock()
	out := make([]*models.AbuseFlag, 0, len(s.flags))
	for _, f := range s.flags {
		out = append(out, cloneFlag(f))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func cloneFlag(f *models.AbuseFlag) *models.AbuseFlag {
	cp := *f
	cp.Reasons = slices.Clone(f.Reasons)
	return &cp
}
