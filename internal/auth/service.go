package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// DefaultTokenTTL matches the session length of the web app.
const DefaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
)

// Principal is the authenticated caller. OrgID is uuid.Nil for platform
// admins that are not scoped to a tenant.
type Principal struct {
	UserID string    `json:"user_id"`
	OrgID  uuid.UUID `json:"org_id"`
	Role   string    `json:"role"`
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }

type Service interface {
	IssueToken(p Principal, ttl time.Duration) (string, error)
	ValidateToken(ctx context.Context, token string) (*Principal, error)
}

type service struct {
	secret []byte
	now    func() time.Time
}

func NewService(secret string) *service {
	if secret == "" {
		secret = "bidpack-dev-secret"
	}
	return &service{secret: []byte(secret), now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id,omitempty"`
	Role  string `json:"role"`
}

func (s *service) IssueToken(p Principal, ttl time.Duration) (string, error) {
	if p.Role != RoleMember && p.Role != RoleAdmin {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, p.Role)
	}
	if p.Role == RoleMember && p.OrgID == uuid.Nil {
		return "", fmt.Errorf("%w: members need an org", ErrInvalidRole)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: p.Role,
	}
	if p.OrgID != uuid.Nil {
		c.OrgID = p.OrgID.String()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	p := &Principal{UserID: c.Subject, Role: c.Role}
	if c.OrgID != "" {
		if p.OrgID, err = uuid.Parse(c.OrgID); err != nil {
			return nil, fmt.Errorf("%w: org_id: %v", ErrInvalidToken, err)
		}
	}
	switch {
	case p.Role == RoleAdmin:
	case p.Role == RoleMember && p.OrgID != uuid.Nil:
	default:
		return nil, ErrInvalidToken
	}
	return p, nil
}
