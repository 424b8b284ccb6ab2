package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/abuse"
	"github.com/bidpackuk/backend/internal/aiprovider"
	"github.com/bidpackuk/backend/internal/aisettings"
	"github.com/bidpackuk/backend/internal/auth"
	"github.com/bidpackuk/backend/internal/balance"
	"github.com/bidpackuk/backend/internal/handlers"
	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/memstore"
	"github.com/bidpackuk/backend/internal/metrics"
	"github.com/bidpackuk/backend/internal/orgs"
	"github.com/bidpackuk/backend/internal/quota"
	"github.com/bidpackuk/backend/internal/schema"
	"github.com/bidpackuk/backend/internal/subscription"
)

// ---------------------------------------------------------------------------
// Test stack: the full HTTP surface over the in-memory stores.
// ---------------------------------------------------------------------------

type providerFunc func(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error)

func (f providerFunc) Generate(ctx context.Context, req aiprovider.Request) (*aiprovider.Response, error) {
	return f(ctx, req)
}

type stack struct {
	t      *testing.T
	h      http.Handler
	tokens auth.Service
	admin  string
	ledger ledger.Service
}

func newStack(t *testing.T, provider aiprovider.Provider) *stack {
	t.Helper()
	if provider == nil {
		provider = aiprovider.Static{}
	}
	orgStore := memstore.NewOrgs()
	flags := memstore.NewAbuseFlags()
	reqs := memstore.NewRequests()
	m := metrics.New()

	l := ledger.NewService(memstore.NewLedger(), m, nil)
	subs := subscription.NewService(memstore.NewSubscriptions(), l, nil)
	settings := aisettings.NewService(memstore.NewSettings(), nil)
	abuseSvc := abuse.NewService(flags, orgStore, nil)
	dir := orgs.NewDirectory(orgStore, subs, l, flags, reqs, nil)
	gate := quota.NewGate(quota.Config{
		Ledger:    l,
		Settings:  settings,
		Orgs:      abuseSvc,
		Requests:  reqs,
		Provider:  provider,
		Observer:  m,
		AITimeout: time.Second,
	})

	tenant := handlers.NewTenantHandler(gate, balance.NewAccessor(l, subs, orgStore), l, reqs, subs, nil)
	admin := &handlers.AdminHandler{
		Settings:      settings,
		Abuse:         abuseSvc,
		Orgs:          dir,
		Ledger:        l,
		Subscriptions: subs,
	}
	v, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	tokens := auth.NewService("router-test")
	adminTok, err := tokens.IssueToken(auth.Principal{UserID: "ops@bidpack", Role: auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return &stack{
		t:      t,
		h:      New(tenant, admin, tokens, v, m.Handler(), nil),
		tokens: tokens,
		admin:  adminTok,
		ledger: l,
	}
}

func (s *stack) do(method, path, token, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

// createOrg creates an org through the admin API and returns its id and a
// member token scoped to it.
func (s *stack) createOrg(name, plan string) (uuid.UUID, string) {
	s.t.Helper()
	body := `{"name":"` + name + `"}`
	if plan != "" {
		body = `{"name":"` + name + `","plan_type":"` + plan + `"}`
	}
	rec := s.do(http.MethodPost, "/api/v1/admin/orgs", s.admin, body)
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("create org: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	decode(s.t, rec, &out)
	tok, err := s.tokens.IssueToken(auth.Principal{UserID: "user-" + name, OrgID: out.ID, Role: auth.RoleMember}, time.Hour)
	if err != nil {
		s.t.Fatalf("IssueToken: %v", err)
	}
	return out.ID, tok
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

type errBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Shortfall *int   `json:"shortfall"`
	Hint      string `json:"hint"`
}

// ---------------------------------------------------------------------------
// 1. Auth guards
// ---------------------------------------------------------------------------

func TestAuthGuards(t *testing.T) {
	s := newStack(t, nil)
	_, member := s.createOrg("Acme", "starter")

	expectStatus(t, s.do(http.MethodGet, "/api/v1/acu/balance", "", ""), http.StatusUnauthorized)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/admin/stats", member, ""), http.StatusForbidden)
	// Admin tokens carry no org and cannot use tenant routes.
	expectStatus(t, s.do(http.MethodGet, "/api/v1/acu/balance", s.admin, ""), http.StatusForbidden)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/plans", s.admin, ""), http.StatusOK)
}

func TestBalanceUnknownOrgNotFound(t *testing.T) {
	s := newStack(t, nil)
	ghost, err := s.tokens.IssueToken(auth.Principal{UserID: "ghost", OrgID: uuid.New(), Role: auth.RoleMember}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expectStatus(t, s.do(http.MethodGet, "/api/v1/acu/balance", ghost, ""), http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// 2. Quote, execute, balance and history
// ---------------------------------------------------------------------------

func TestQuoteExecuteFlow(t *testing.T) {
	s := newStack(t, nil)
	_, member := s.createOrg("Acme", "starter")

	rec := s.do(http.MethodGet, "/api/v1/acu/balance", member, "")
	expectStatus(t, rec, http.StatusOK)
	var bal struct {
		Balance           int `json:"balance"`
		MonthlyAllocation int `json:"monthly_allocation"`
		UsageThisMonth    int `json:"usage_this_month"`
		Remaining         int `json:"remaining"`
	}
	decode(t, rec, &bal)
	if bal.Balance != 50 || bal.MonthlyAllocation != 50 || bal.Remaining != 50 {
		t.Fatalf("balance: %+v", bal)
	}

	rec = s.do(http.MethodPost, "/api/v1/ai/quote", member, `{"action_type":"refine_section"}`)
	expectStatus(t, rec, http.StatusOK)
	var q struct {
		ACUsRequired int  `json:"acus_required"`
		BalanceAfter int  `json:"balance_after"`
		CanProceed   bool `json:"can_proceed"`
	}
	decode(t, rec, &q)
	if !q.CanProceed || q.ACUsRequired != 2 || q.BalanceAfter != 48 {
		t.Fatalf("quote: %+v", q)
	}

	rec = s.do(http.MethodPost, "/api/v1/ai/execute", member,
		`{"action_type":"refine_section","prompt":"Tighten the method statement","bid_id":"bid-9"}`)
	expectStatus(t, rec, http.StatusOK)
	var res struct {
		Request struct {
			Status     string `json:"status"`
			ACUsUsed   int    `json:"acus_used"`
			TokensUsed int    `json:"tokens_used"`
		} `json:"request"`
		Content string `json:"content"`
		Entry   struct {
			BalanceAfter int `json:"balance_after"`
		} `json:"ledger_entry"`
	}
	decode(t, rec, &res)
	if res.Request.Status != "completed" || res.Request.ACUsUsed != 2 || res.Request.TokensUsed != 1600 {
		t.Fatalf("request: %+v", res.Request)
	}
	if res.Entry.BalanceAfter != 48 || res.Content == "" {
		t.Fatalf("result: %+v", res)
	}

	rec = s.do(http.MethodGet, "/api/v1/ai/history?status=completed", member, "")
	expectStatus(t, rec, http.StatusOK)
	var hist struct {
		Requests []json.RawMessage `json:"requests"`
	}
	decode(t, rec, &hist)
	if len(hist.Requests) != 1 {
		t.Fatalf("history: got %d, want 1", len(hist.Requests))
	}

	rec = s.do(http.MethodGet, "/api/v1/acu/ledger?type=debit", member, "")
	expectStatus(t, rec, http.StatusOK)
	var led struct {
		Entries []struct {
			Amount int `json:"amount"`
		} `json:"entries"`
	}
	decode(t, rec, &led)
	if len(led.Entries) != 1 || led.Entries[0].Amount != 2 {
		t.Fatalf("ledger: %+v", led)
	}
}

// ---------------------------------------------------------------------------
// 3. Rejections map to HTTP statuses
// ---------------------------------------------------------------------------

func TestInsufficientBalance(t *testing.T) {
	s := newStack(t, nil)
	_, member := s.createOrg("Empty", "")

	rec := s.do(http.MethodPost, "/api/v1/ai/quote", member, `{"action_type":"generate_paragraph"}`)
	expectStatus(t, rec, http.StatusOK)
	var q struct {
		CanProceed    bool   `json:"can_proceed"`
		RejectionCode string `json:"rejection_code"`
		Shortfall     int    `json:"shortfall"`
	}
	decode(t, rec, &q)
	if q.CanProceed || q.RejectionCode != "insufficient_balance" || q.Shortfall != 1 {
		t.Fatalf("quote: %+v", q)
	}

	rec = s.do(http.MethodPost, "/api/v1/ai/execute", member, `{"action_type":"generate_paragraph","prompt":"hi"}`)
	expectStatus(t, rec, http.StatusPaymentRequired)
	var body errBody
	decode(t, rec, &body)
	if body.Code != "insufficient_balance" || body.Shortfall == nil || *body.Shortfall != 1 || body.Hint == "" {
		t.Fatalf("error body: %+v", body)
	}
}

func TestAIDisabledAndSuspended(t *testing.T) {
	s := newStack(t, nil)
	orgID, member := s.createOrg("Acme", "professional")
	exec := `{"action_type":"generate_paragraph","prompt":"hi"}`

	expectStatus(t, s.do(http.MethodPut, "/api/v1/admin/ai-settings", s.admin, `{"ai_enabled":false}`), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/ai/execute", member, exec), http.StatusServiceUnavailable)

	rec := s.do(http.MethodGet, "/api/v1/admin/ai-settings/history", s.admin, "")
	expectStatus(t, rec, http.StatusOK)
	var hist struct {
		Changes []struct {
			Actor string `json:"actor"`
		} `json:"changes"`
	}
	decode(t, rec, &hist)
	if len(hist.Changes) != 1 || hist.Changes[0].Actor != "ops@bidpack" {
		t.Fatalf("history: %+v", hist)
	}

	expectStatus(t, s.do(http.MethodPut, "/api/v1/admin/ai-settings", s.admin, `{"ai_enabled":true}`), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/admin/orgs/"+orgID.String()+"/suspend", s.admin, ""), http.StatusOK)
	rec = s.do(http.MethodPost, "/api/v1/ai/execute", member, exec)
	expectStatus(t, rec, http.StatusForbidden)
	var body errBody
	decode(t, rec, &body)
	if body.Code != "org_suspended" {
		t.Fatalf("error body: %+v", body)
	}

	expectStatus(t, s.do(http.MethodPost, "/api/v1/admin/orgs/"+orgID.String()+"/reinstate", s.admin, ""), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/ai/execute", member, exec), http.StatusOK)
}

func TestGlobalCapAndInvalidConfig(t *testing.T) {
	s := newStack(t, nil)
	_, member := s.createOrg("Acme", "professional")

	expectStatus(t, s.do(http.MethodPut, "/api/v1/admin/ai-settings", s.admin, `{"max_acus_per_request":0}`), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPut, "/api/v1/admin/ai-settings", s.admin, `{"max_acus_per_request":2}`), http.StatusOK)
	rec := s.do(http.MethodPost, "/api/v1/ai/execute", member, `{"action_type":"social_value_refine","prompt":"hi"}`)
	expectStatus(t, rec, http.StatusTooManyRequests)
}

func TestProviderFailure(t *testing.T) {
	s := newStack(t, providerFunc(func(context.Context, aiprovider.Request) (*aiprovider.Response, error) {
		return nil, errors.New("upstream 500")
	}))
	orgID, member := s.createOrg("Acme", "starter")

	rec := s.do(http.MethodPost, "/api/v1/ai/execute", member, `{"action_type":"generate_paragraph","prompt":"hi"}`)
	expectStatus(t, rec, http.StatusBadGateway)
	bal, _ := s.ledger.CurrentBalance(context.Background(), orgID)
	if bal != 50 {
		t.Fatalf("balance after provider failure: got %d, want 50", bal)
	}
}

func TestBodyValidation(t *testing.T) {
	s := newStack(t, nil)
	_, member := s.createOrg("Acme", "starter")

	expectStatus(t, s.do(http.MethodPost, "/api/v1/ai/execute", member, `{"action_type":"generate_paragraph"}`), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/ai/quote", member, `not json`), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/acu/ledger?type=refund", member, ""), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/acu/ledger?start_date=yesterday", member, ""), http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// 4. Admin ledger, top-ups and subscriptions
// ---------------------------------------------------------------------------

func TestAdminLedgerOperations(t *testing.T) {
	s := newStack(t, nil)
	orgID, member := s.createOrg("Acme", "starter")
	base := "/api/v1/admin/orgs/" + orgID.String()

	expectStatus(t, s.do(http.MethodPost, base+"/topups", s.admin, `{"acus":20,"payment_reference":"pi_1"}`), http.StatusCreated)
	expectStatus(t, s.do(http.MethodPost, base+"/topups", s.admin, `{"acus":20,"payment_reference":"pi_1"}`), http.StatusConflict)
	expectStatus(t, s.do(http.MethodPost, base+"/topups", s.admin, `{"acus":30,"payment_reference":"pi_2"}`), http.StatusBadRequest)

	expectStatus(t, s.do(http.MethodPost, base+"/ledger", s.admin,
		`{"transaction_type":"credit","amount":5,"description":"goodwill"}`), http.StatusCreated)
	expectStatus(t, s.do(http.MethodPost, base+"/ledger", s.admin,
		`{"transaction_type":"expiry","amount":500,"description":"too much"}`), http.StatusPaymentRequired)
	expectStatus(t, s.do(http.MethodPost, base+"/ledger", s.admin,
		`{"transaction_type":"credit","amount":0,"description":"zero"}`), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodPost, "/api/v1/admin/orgs/"+uuid.NewString()+"/ledger", s.admin,
		`{"transaction_type":"credit","amount":1,"description":"ghost"}`), http.StatusNotFound)

	rec := s.do(http.MethodGet, "/api/v1/acu/balance", member, "")
	var bal struct {
		Balance int `json:"balance"`
	}
	decode(t, rec, &bal)
	if bal.Balance != 75 {
		t.Fatalf("balance: got %d, want 75", bal.Balance)
	}

	rec = s.do(http.MethodGet, "/api/v1/admin/ledger?org_id="+orgID.String(), s.admin, "")
	expectStatus(t, rec, http.StatusOK)
	var led struct {
		Entries []json.RawMessage `json:"entries"`
	}
	decode(t, rec, &led)
	if len(led.Entries) != 3 {
		t.Fatalf("admin ledger: got %d entries, want 3", len(led.Entries))
	}

	expectStatus(t, s.do(http.MethodPost, base+"/subscription", s.admin, `{"plan_type":"starter"}`), http.StatusConflict)
	rec = s.do(http.MethodPatch, base+"/subscription", s.admin, `{"cancel_at_period_end":true}`)
	expectStatus(t, rec, http.StatusOK)
	var sub struct {
		CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
	}
	decode(t, rec, &sub)
	if !sub.CancelAtPeriodEnd {
		t.Fatal("cancel_at_period_end not set")
	}
	expectStatus(t, s.do(http.MethodGet, "/api/v1/subscription", member, ""), http.StatusOK)
}

func TestAdminOrgsAndFlags(t *testing.T) {
	s := newStack(t, nil)
	orgID, _ := s.createOrg("Acme", "starter")
	_, _ = s.createOrg("Builders", "")
	path := "/api/v1/admin/orgs/" + orgID.String()

	expectStatus(t, s.do(http.MethodPost, path+"/flags", s.admin, `{"reason":"burst usage"}`), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, path+"/flags", s.admin, `{"reason":""}`), http.StatusBadRequest)

	rec := s.do(http.MethodGet, "/api/v1/admin/orgs?flagged=true", s.admin, "")
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Orgs []struct {
			ID      uuid.UUID `json:"id"`
			Flagged bool      `json:"flagged"`
		} `json:"orgs"`
	}
	decode(t, rec, &list)
	if len(list.Orgs) != 1 || list.Orgs[0].ID != orgID {
		t.Fatalf("flagged orgs: %+v", list)
	}

	rec = s.do(http.MethodGet, "/api/v1/admin/stats", s.admin, "")
	expectStatus(t, rec, http.StatusOK)
	var st struct {
		TotalOrgs           int `json:"total_orgs"`
		ActiveSubscriptions int `json:"active_subscriptions"`
		FlaggedOrgs         int `json:"flagged_orgs"`
	}
	decode(t, rec, &st)
	if st.TotalOrgs != 2 || st.ActiveSubscriptions != 1 || st.FlaggedOrgs != 1 {
		t.Fatalf("stats: %+v", st)
	}

	expectStatus(t, s.do(http.MethodDelete, path+"/flags", s.admin, ""), http.StatusNoContent)
	expectStatus(t, s.do(http.MethodDelete, path+"/flags", s.admin, ""), http.StatusNotFound)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/admin/orgs/not-a-uuid", s.admin, ""), http.StatusBadRequest)
	expectStatus(t, s.do(http.MethodGet, "/api/v1/admin/orgs/"+uuid.NewString(), s.admin, ""), http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// 5. Operational endpoints
// ---------------------------------------------------------------------------

func TestHealthAndMetrics(t *testing.T) {
	s := newStack(t, nil)
	expectStatus(t, s.do(http.MethodGet, "/healthz", "", ""), http.StatusOK)

	_, member := s.createOrg("Acme", "starter")
	s.do(http.MethodPost, "/api/v1/ai/quote", member, `{"action_type":"generate_paragraph"}`)

	rec := s.do(http.MethodGet, "/metrics", "", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "acu_quotes_total") {
		t.Fatal("metrics output missing acu_quotes_total")
	}
}

func TestHealthCheckFailure(t *testing.T) {
	v, _ := schema.NewValidator()
	h := New(handlers.NewTenantHandler(nil, nil, nil, nil, nil, nil), &handlers.AdminHandler{},
		auth.NewService("x"), v, nil, func(context.Context) error { return errors.New("db down") })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
