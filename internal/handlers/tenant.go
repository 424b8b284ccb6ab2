package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/middleware"
	"github.com/bidpackuk/backend/internal/models"
	"github.com/bidpackuk/backend/internal/quota"
)

// Gate is the quota gate as seen by the AI endpoints.
type Gate interface {
	Quote(ctx context.Context, orgID uuid.UUID, action models.ActionType) (*models.Quote, error)
	Execute(ctx context.Context, in quota.ExecuteInput) (*quota.ExecuteResult, error)
}

type BalanceReader interface {
	GetBalance(ctx context.Context, orgID uuid.UUID) (*models.Balance, error)
}

type LedgerReader interface {
	List(ctx context.Context, orgID uuid.UUID, f models.LedgerFilter) ([]*models.LedgerEntry, error)
}

type RequestLister interface {
	List(ctx context.Context, f models.AIRequestFilter) ([]*models.AIRequest, error)
}

type PlanReader interface {
	Plans() []models.Plan
	Get(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error)
}

// TenantHandler serves the org-scoped /api/v1 endpoints. Every route runs
// behind middleware.Authenticate and middleware.RequireOrg.
type TenantHandler struct {
	gate     Gate
	balances BalanceReader
	ledger   LedgerReader
	requests RequestLister
	plans    PlanReader
	log      *slog.Logger
}

func NewTenantHandler(gate Gate, balances BalanceReader, l LedgerReader, requests RequestLister, plans PlanReader, log *slog.Logger) *TenantHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TenantHandler{gate: gate, balances: balances, ledger: l, requests: requests, plans: plans, log: log}
}

// GET /api/v1/acu/balance
func (h *TenantHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	bal, err := h.balances.GetBalance(r.Context(), p.OrgID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// GET /api/v1/acu/ledger?start_date=&end_date=&type=
func (h *TenantHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	f, err := ledgerFilter(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	entries, err := h.ledger.List(r.Context(), p.OrgID, f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type quoteRequest struct {
	ActionType models.ActionType `json:"action_type"`
}

// POST /api/v1/ai/quote
// A rejected quote is still a 200; the client reads can_proceed.
func (h *TenantHandler) Quote(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	q, err := h.gate.Quote(r.Context(), p.OrgID, req.ActionType)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type executeRequest struct {
	ActionType models.ActionType `json:"action_type"`
	Prompt     string            `json:"prompt"`
	Context    string            `json:"context"`
	BidID      *string           `json:"bid_id"`
}

// POST /api/v1/ai/execute
func (h *TenantHandler) Execute(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	res, err := h.gate.Execute(r.Context(), quota.ExecuteInput{
		OrgID:      p.OrgID,
		UserID:     p.UserID,
		ActionType: req.ActionType,
		Prompt:     req.Prompt,
		Context:    req.Context,
		BidID:      req.BidID,
	})
	if err != nil {
		status, body := errorResponse(err)
		if status == http.StatusInternalServerError {
			h.log.Error("execute AI action", "org_id", p.OrgID, "error", err)
		}
		if res != nil {
			body.Request, body.Quote = res.Request, res.Quote
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/v1/ai/history?start_date=&end_date=&action_type=&status=
func (h *TenantHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	q := r.URL.Query()
	f := models.AIRequestFilter{
		OrgID:      &p.OrgID,
		StartDate:  start,
		EndDate:    end,
		ActionType: models.ActionType(q.Get("action_type")),
		Status:     models.AIRequestStatus(q.Get("status")),
	}
	list, err := h.requests.List(r.Context(), f)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

// GET /api/v1/subscription
func (h *TenantHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	sub, err := h.plans.Get(r.Context(), p.OrgID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// GET /api/v1/plans
func (h *TenantHandler) ListPlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plans":           h.plans.Plans(),
		"top_up_packages": models.TopUpPackages,
	})
}

func ledgerFilter(r *http.Request) (models.LedgerFilter, error) {
	start, end, err := parseDateRange(r)
	if err != nil {
		return models.LedgerFilter{}, err
	}
	f := models.LedgerFilter{StartDate: start, EndDate: end}
	if v := strings.TrimSpace(r.URL.Query().Get("type")); v != "" {
		f.Type = models.TransactionType(v)
		if !f.Type.Valid() {
			return models.LedgerFilter{}, fmt.Errorf("%w: %q", models.ErrInvalidTransactionType, v)
		}
	}
	return f, nil
}
