package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/auth"
	"github.com/bidpackuk/backend/internal/schema"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubTokens struct {
	principal *auth.Principal
	err       error
	got       string
}

func (s *stubTokens) ValidateToken(_ context.Context, token string) (*auth.Principal, error) {
	s.got = token
	return s.principal, s.err
}

// okHandler writes 200 and the principal's user id (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p := PrincipalFromCtx(r.Context()); p != nil {
		w.Write([]byte(p.UserID))
	}
})

func withPrincipal(p *auth.Principal, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// ---------------------------------------------------------------------------
// 1. Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate_ValidToken(t *testing.T) {
	tokens := &stubTokens{principal: &auth.Principal{UserID: "user-7", OrgID: uuid.New(), Role: auth.RoleMember}}
	h := Authenticate(tokens)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer  tok-123 ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "user-7" {
		t.Errorf("expected principal in context, body %q", rec.Body.String())
	}
	if tokens.got != "tok-123" {
		t.Errorf("token passed to validator: %q", tokens.got)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	h := Authenticate(&stubTokens{})(okHandler)
	cases := []struct {
		name   string
		header string
	}{
		{"no header at all", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	h := Authenticate(&stubTokens{err: errors.New("expired")})(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// 2. Role and org guards
// ---------------------------------------------------------------------------

func TestRequireAdmin(t *testing.T) {
	cases := []struct {
		name string
		p    *auth.Principal
		want int
	}{
		{"no principal", nil, http.StatusUnauthorized},
		{"member", &auth.Principal{UserID: "u", OrgID: uuid.New(), Role: auth.RoleMember}, http.StatusForbidden},
		{"admin", &auth.Principal{UserID: "ops", Role: auth.RoleAdmin}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var h http.Handler = RequireAdmin(okHandler)
			if tc.p != nil {
				h = withPrincipal(tc.p, h)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestRequireOrg(t *testing.T) {
	admin := withPrincipal(&auth.Principal{UserID: "ops", Role: auth.RoleAdmin}, RequireOrg(okHandler))
	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unscoped admin: expected 403, got %d", rec.Code)
	}

	member := withPrincipal(&auth.Principal{UserID: "u", OrgID: uuid.New(), Role: auth.RoleMember}, RequireOrg(okHandler))
	rec = httptest.NewRecorder()
	member.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("member: expected 200, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// 3. ValidateBody
// ---------------------------------------------------------------------------

func TestValidateBody(t *testing.T) {
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	var seen string
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
	})
	h := ValidateBody(v, schema.AIQuote)(echo)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"action_type":"generate_section"}`, http.StatusOK},
		{"empty", ``, http.StatusBadRequest},
		{"malformed", `{"action_type":`, http.StatusBadRequest},
		{"schema mismatch", `{"action_type":""}`, http.StatusBadRequest},
		{"too large", `{"action_type":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = ""
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want == http.StatusOK && seen != tc.body {
				t.Errorf("handler saw %q, want restored body", seen)
			}
		})
	}
}
