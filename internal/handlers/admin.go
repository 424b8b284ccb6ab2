package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/middleware"
	"github.com/bidpackuk/backend/internal/models"
	"github.com/bidpackuk/backend/internal/orgs"
	"github.com/bidpackuk/backend/internal/subscription"
)

type SettingsService interface {
	Get(ctx context.Context) (models.GlobalAISettings, error)
	Update(ctx context.Context, actor string, patch models.SettingsPatch) (models.GlobalAISettings, error)
	History(ctx context.Context, limit int) ([]*models.SettingsChange, error)
}

type AbuseService interface {
	Flag(ctx context.Context, orgID uuid.UUID, reason string) (*models.AbuseFlag, error)
	Unflag(ctx context.Context, orgID uuid.UUID) error
	List(ctx context.Context) ([]*models.AbuseFlag, error)
	Suspend(ctx context.Context, orgID uuid.UUID, actor string) (*models.Organization, error)
	Reinstate(ctx context.Context, orgID uuid.UUID, actor string) (*models.Organization, error)
}

type OrgDirectory interface {
	Create(ctx context.Context, req models.NewOrgRequest) (*models.OrgSummary, error)
	Get(ctx context.Context, id uuid.UUID) (*models.OrgSummary, error)
	List(ctx context.Context, f orgs.ListFilter) ([]*models.OrgSummary, error)
	Stats(ctx context.Context) (*models.PlatformStats, error)
}

type LedgerAdmin interface {
	Append(ctx context.Context, orgID uuid.UUID, in ledger.AppendInput, hook ledger.AppendHook) (*models.LedgerEntry, error)
	ListAll(ctx context.Context, f models.LedgerFilter) ([]*models.LedgerEntry, error)
	Unfreeze(ctx context.Context, orgID uuid.UUID) error
}

type SubscriptionAdmin interface {
	Subscribe(ctx context.Context, orgID uuid.UUID, plan models.PlanType) (*models.Subscription, *models.LedgerEntry, error)
	Update(ctx context.Context, orgID uuid.UUID, u subscription.Update) (*models.Subscription, error)
	TopUp(ctx context.Context, orgID uuid.UUID, req models.TopUpRequest) (*models.LedgerEntry, error)
}

// AdminHandler serves /api/v1/admin. Every route runs behind
// middleware.Authenticate and middleware.RequireAdmin.
type AdminHandler struct {
	Settings      SettingsService
	Abuse         AbuseService
	Orgs          OrgDirectory
	Ledger        LedgerAdmin
	Subscriptions SubscriptionAdmin
	Logger        *slog.Logger
}

func (h *AdminHandler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func actor(r *http.Request) string {
	if p := middleware.PrincipalFromCtx(r.Context()); p != nil {
		return p.UserID
	}
	return ""
}

// --- AI settings ---

// GET /api/v1/admin/ai-settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Get(r.Context())
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PUT /api/v1/admin/ai-settings
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch models.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, h.log(), err)
		return
	}
	s, err := h.Settings.Update(r.Context(), actor(r), patch)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GET /api/v1/admin/ai-settings/history?limit=
func (h *AdminHandler) SettingsHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	list, err := h.Settings.History(r.Context(), limit)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": list})
}

// --- Abuse flags and suspension ---

// GET /api/v1/admin/abuse
func (h *AdminHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	list, err := h.Abuse.List(r.Context())
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": list})
}

type flagRequest struct {
	Reason string `json:"reason"`
}

// POST /api/v1/admin/orgs/{id}/flags
func (h *AdminHandler) FlagOrg(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	var req flagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	flag, err := h.Abuse.Flag(r.Context(), orgID, req.Reason)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

// DELETE /api/v1/admin/orgs/{id}/flags
func (h *AdminHandler) UnflagOrg(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	if err := h.Abuse.Unflag(r.Context(), orgID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/admin/orgs/{id}/suspend
func (h *AdminHandler) SuspendOrg(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

// POST /api/v1/admin/orgs/{id}/reinstate
func (h *AdminHandler) ReinstateOrg(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *AdminHandler) setSuspended(w http.ResponseWriter, r *http.Request, suspend bool) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	var org *models.Organization
	if suspend {
		org, err = h.Abuse.Suspend(r.Context(), orgID, actor(r))
	} else {
		org, err = h.Abuse.Reinstate(r.Context(), orgID, actor(r))
	}
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// --- Organizations ---

// GET /api/v1/admin/orgs?search=&status=&flagged=
func (h *AdminHandler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orgs.ListFilter{
		Search:             q.Get("search"),
		SubscriptionStatus: models.SubscriptionStatus(q.Get("status")),
	}
	if v := q.Get("flagged"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, h.log(), fmt.Errorf("%w: flagged must be true or false", models.ErrInvalidInput))
			return
		}
		f.Flagged = &b
	}
	list, err := h.Orgs.List(r.Context(), f)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orgs": list})
}

// POST /api/v1/admin/orgs
func (h *AdminHandler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	var req models.NewOrgRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	org, err := h.Orgs.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

// GET /api/v1/admin/orgs/{id}
func (h *AdminHandler) GetOrg(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	org, err := h.Orgs.Get(r.Context(), orgID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// GET /api/v1/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Orgs.Stats(r.Context())
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- Ledger ---

// GET /api/v1/admin/ledger?org_id=&start_date=&end_date=&type=
func (h *AdminHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	f, err := ledgerFilter(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	if v := r.URL.Query().Get("org_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, h.log(), fmt.Errorf("%w: invalid org_id", models.ErrInvalidInput))
			return
		}
		f.OrgID = &id
	}
	entries, err := h.Ledger.ListAll(r.Context(), f)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// POST /api/v1/admin/orgs/{id}/ledger
func (h *AdminHandler) AdjustLedger(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	var adj models.Adjustment
	if err := decodeJSON(r, &adj); err != nil {
		writeError(w, h.log(), err)
		return
	}
	if err := adj.Validate(); err != nil {
		writeError(w, h.log(), err)
		return
	}
	if _, err := h.Orgs.Get(r.Context(), orgID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	entry, err := h.Ledger.Append(r.Context(), orgID, ledger.AppendInput{
		Type:        adj.Type,
		Amount:      adj.Amount,
		Description: adj.Description,
		ReferenceID: adj.ReferenceID,
	}, nil)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.log().Info("ledger adjusted", "org_id", orgID, "actor", actor(r),
		"transaction_type", adj.Type, "amount", adj.Amount)
	writeJSON(w, http.StatusCreated, entry)
}

// POST /api/v1/admin/orgs/{id}/ledger/unfreeze
func (h *AdminHandler) UnfreezeLedger(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	if err := h.Ledger.Unfreeze(r.Context(), orgID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	h.log().Warn("ledger unfrozen", "org_id", orgID, "actor", actor(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "unfrozen"})
}

// --- Subscriptions and top-ups ---

// POST /api/v1/admin/orgs/{id}/topups
func (h *AdminHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	var req models.TopUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	if _, err := h.Orgs.Get(r.Context(), orgID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	entry, err := h.Subscriptions.TopUp(r.Context(), orgID, req)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type subscribeRequest struct {
	PlanType models.PlanType `json:"plan_type"`
}

// POST /api/v1/admin/orgs/{id}/subscription
func (h *AdminHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log(), err)
		return
	}
	if _, err := h.Orgs.Get(r.Context(), orgID); err != nil {
		writeError(w, h.log(), err)
		return
	}
	sub, entry, err := h.Subscriptions.Subscribe(r.Context(), orgID, req.PlanType)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"subscription": sub, "ledger_entry": entry})
}

// PATCH /api/v1/admin/orgs/{id}/subscription
func (h *AdminHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	orgID, err := pathOrgID(r)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	var u subscription.Update
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, h.log(), err)
		return
	}
	sub, err := h.Subscriptions.Update(r.Context(), orgID, u)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
