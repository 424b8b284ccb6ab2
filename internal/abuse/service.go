package abuse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/models"
)

type Store interface {
	// Add records reason against the org, creating the flag if needed.
	Add(ctx context.Context, orgID uuid.UUID, reason string, at time.Time) (*models.AbuseFlag, error)
	Delete(ctx context.Context, orgID uuid.UUID) error
	List(ctx context.Context) ([]*models.AbuseFlag, error)
}

type Orgs interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	SetSuspended(ctx context.Context, id uuid.UUID, suspended bool, at time.Time) (*models.Organization, error)
}

// Service manages admin-curated abuse flags and org suspension. Suspension is
// what the quota gate enforces; a flag alone does not block AI usage.
type Service struct {
	flags Store
	orgs  Orgs
	log   *slog.Logger
	now   func() time.Time
}

func NewService(flags Store, orgs Orgs, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{flags: flags, orgs: orgs, log: log, now: time.Now}
}

func (s *Service) Flag(ctx context.Context, orgID uuid.UUID, reason string) (*models.AbuseFlag, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", models.ErrInvalidInput)
	}
	if _, err := s.orgs.Get(ctx, orgID); err != nil {
		return nil, err
	}
	flag, err := s.flags.Add(ctx, orgID, reason, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.Warn("org flagged", "org_id", orgID, "reason", reason)
	return flag, nil
}

func (s *Service) Unflag(ctx context.Context, orgID uuid.UUID) error {
	if err := s.flags.Delete(ctx, orgID); err != nil {
		return err
	}
	s.log.Info("org unflagged", "org_id", orgID)
	return nil
}

func (s *Service) List(ctx context.Context) ([]*models.AbuseFlag, error) {
	return s.flags.List(ctx)
}

func (s *Service) Suspend(ctx context.Context, orgID uuid.UUID, actor string) (*models.Organization, error) {
	org, err := s.orgs.SetSuspended(ctx, orgID, true, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.Warn("org suspended", "org_id", orgID, "actor", actor)
	return org, nil
}

func (s *Service) Reinstate(ctx context.Context, orgID uuid.UUID, actor string) (*models.Organization, error) {
	org, err := s.orgs.SetSuspended(ctx, orgID, false, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.Info("org reinstated", "org_id", orgID, "actor", actor)
	return org, nil
}

// IsSuspended returns models.ErrNotFound for unknown orgs.
func (s *Service) IsSuspended(ctx context.Context, orgID uuid.UUID) (bool, error) {
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		return false, err
	}
	return org.Suspended, nil
}
