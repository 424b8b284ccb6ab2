package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bidpackuk/backend/internal/aiprovider"
	"github.com/bidpackuk/backend/internal/ledger"
	"github.com/bidpackuk/backend/internal/models"
)

const (
	DefaultAITimeout = 30 * time.Second
	// finalizeTimeout bounds the bookkeeping writes after an AI call.
	finalizeTimeout = 10 * time.Second
)

type Ledger interface {
	CurrentBalance(ctx context.Context, orgID uuid.UUID) (int, error)
	Usage(ctx context.Context, f models.UsageFilter) (int, error)
	Append(ctx context.Context, orgID uuid.UUID, in ledger.AppendInput, hook ledger.AppendHook) (*models.LedgerEntry, error)
}

type Settings interface {
	Get(ctx context.Context) (models.GlobalAISettings, error)
}

type Suspensions interface {
	IsSuspended(ctx context.Context, orgID uuid.UUID) (bool, error)
}

// Requests persists AIRequest records. Finish writes a terminal state and
// fails with models.ErrRequestFinalized if the request is no longer pending.
type Requests interface {
	Create(ctx context.Context, r *models.AIRequest) error
	Finish(ctx context.Context, tx pgx.Tx, r *models.AIRequest) error
}

type Observer interface {
	ObserveQuote(q *models.Quote)
	ObserveRequest(r *models.AIRequest)
	ObserveProvider(action models.ActionType, d time.Duration, err error)
}

type ExecuteInput struct {
	OrgID      uuid.UUID
	UserID     string
	ActionType models.ActionType
	Prompt     string
	Context    string
	BidID      *string
}

type ExecuteResult struct {
	Request *models.AIRequest   `json:"request"`
	Quote   *models.Quote       `json:"quote,omitempty"`
	Content string              `json:"content,omitempty"`
	Entry   *models.LedgerEntry `json:"ledger_entry,omitempty"`
}

// Gate decides whether an AI action may run and charges for it.
type Gate struct {
	ledger    Ledger
	settings  Settings
	orgs      Suspensions
	requests  Requests
	provider  aiprovider.Provider
	obs       Observer
	log       *slog.Logger
	aiTimeout time.Duration
	now       func() time.Time
}

type Config struct {
	Ledger    Ledger
	Settings  Settings
	Orgs      Suspensions
	Requests  Requests
	Provider  aiprovider.Provider
	Observer  Observer
	Logger    *slog.Logger
	AITimeout time.Duration
}

func NewGate(cfg Config) *Gate {
	g := &Gate{
		ledger:    cfg.Ledger,
		settings:  cfg.Settings,
		orgs:      cfg.Orgs,
		requests:  cfg.Requests,
		provider:  cfg.Provider,
		obs:       cfg.Observer,
		log:       cfg.Logger,
		aiTimeout: cfg.AITimeout,
		now:       time.Now,
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.obs == nil {
		g.obs = nopObserver{}
	}
	if g.aiTimeout <= 0 {
		g.aiTimeout = DefaultAITimeout
	}
	return g
}

// Quote evaluates an action against org status, global policy and balance.
// Rejections are reported on the quote, not as errors; the error return is
// reserved for lookups that failed. Quote has no side effects.
func (g *Gate) Quote(ctx context.Context, orgID uuid.UUID, action models.ActionType) (*models.Quote, error) {
	q, err := g.evaluate(ctx, orgID, action)
	if err != nil {
		return nil, err
	}
	g.obs.ObserveQuote(q)
	return q, nil
}

func (g *Gate) evaluate(ctx context.Context, orgID uuid.UUID, action models.ActionType) (*models.Quote, error) {
	cost := models.CostFor(action)
	bal, err := g.ledger.CurrentBalance(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("current balance: %w", err)
	}
	q := &models.Quote{
		ActionType:     action,
		ACUsRequired:   cost,
		CurrentBalance: bal,
		BalanceAfter:   bal - cost,
	}

	suspended, err := g.orgs.IsSuspended(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("org status: %w", err)
	}
	if suspended {
		return q.Reject(models.ErrOrgSuspended, "Organization suspended, please contact support"), nil
	}

	settings, err := g.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("AI settings: %w", err)
	}
	if !settings.AIEnabled {
		return q.Reject(models.ErrAIDisabledGlobally, "AI disabled globally"), nil
	}
	if cost > settings.MaxACUsPerRequest {
		return q.Reject(models.ErrGlobalCapExceeded,
			fmt.Sprintf("Action exceeds the per-request limit of %d ACUs", settings.MaxACUsPerRequest)), nil
	}

	now := g.now()
	day, err := g.ledger.Usage(ctx, models.UsageFilter{
		Types: []models.TransactionType{models.TxDebit},
		From:  models.DayStart(now),
	})
	if err != nil {
		return nil, fmt.Errorf("daily usage: %w", err)
	}
	if day+cost > settings.MaxACUsPerDay {
		return q.Reject(models.ErrGlobalCapExceeded, "Platform daily AI limit reached, try again tomorrow"), nil
	}
	month, err := g.ledger.Usage(ctx, models.UsageFilter{
		Types: []models.TransactionType{models.TxDebit},
		From:  models.MonthStart(now),
	})
	if err != nil {
		return nil, fmt.Errorf("monthly usage: %w", err)
	}
	if month+cost > settings.MaxACUsPerMonth {
		return q.Reject(models.ErrGlobalCapExceeded, "Platform monthly AI limit reached"), nil
	}

	if q.BalanceAfter < 0 {
		q.Shortfall = -q.BalanceAfter
		return q.Reject(&models.InsufficientBalanceError{Balance: bal, Required: cost}, "Insufficient ACU balance"), nil
	}
	q.CanProceed = true
	return q, nil
}

// Execute re-validates the action, runs it against the AI provider and, on
// success, debits the org with the request id as reference. The returned
// result always carries the request in a terminal state when err wraps one
// of the business sentinels.
func (g *Gate) Execute(ctx context.Context, in ExecuteInput) (*ExecuteResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", models.ErrInvalidInput)
	}
	q, err := g.Quote(ctx, in.OrgID, in.ActionType)
	if err != nil {
		return nil, err
	}

	req := &models.AIRequest{
		ID:         uuid.New(),
		OrgID:      in.OrgID,
		UserID:     in.UserID,
		ActionType: in.ActionType,
		BidID:      in.BidID,
		CreatedAt:  g.now().UTC(),
	}
	res := &ExecuteResult{Request: req, Quote: q}

	if !q.CanProceed {
		req.Status = models.AIRequestRejected
		req.FailureReason = q.RejectionReason
		if err := g.requests.Create(ctx, req); err != nil {
			return nil, fmt.Errorf("record rejected request: %w", err)
		}
		g.obs.ObserveRequest(req)
		return res, q.Err()
	}

	req.Status = models.AIRequestPending
	if err := g.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("record request: %w", err)
	}

	resp, aiErr := g.generate(ctx, in, q.ACUsRequired)

	// The outcome must be recorded even if the caller has gone away.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if aiErr != nil {
		g.fail(bctx, req, aiErr.Error())
		return res, fmt.Errorf("%w: %v", models.ErrAIProviderFailure, aiErr)
	}

	done := *req
	completedAt := g.now().UTC()
	done.Status = models.AIRequestCompleted
	done.ACUsUsed = q.ACUsRequired
	done.TokensUsed = resp.TokensUsed
	done.CompletedAt = &completedAt

	ref := req.ID.String()
	entry, err := g.ledger.Append(bctx, in.OrgID, ledger.AppendInput{
		Type:        models.TxDebit,
		Amount:      q.ACUsRequired,
		Description: fmt.Sprintf("AI action: %s", in.ActionType),
		ReferenceID: &ref,
	}, func(ctx context.Context, tx pgx.Tx, _ *models.LedgerEntry) error {
		return g.requests.Finish(ctx, tx, &done)
	})
	if err != nil {
		g.fail(bctx, req, "charge failed: "+err.Error())
		var ibe *models.InsufficientBalanceError
		if errors.As(err, &ibe) {
			q.CurrentBalance = ibe.Balance
			q.BalanceAfter = ibe.Balance - q.ACUsRequired
			q.Shortfall = ibe.Shortfall()
		}
		return res, err
	}

	*req = done
	g.obs.ObserveRequest(req)
	res.Content = resp.Content
	res.Entry = entry
	g.log.Info("AI request completed", "org_id", in.OrgID, "request_id", req.ID,
		"action_type", in.ActionType, "acus", q.ACUsRequired, "balance_after", entry.BalanceAfter)
	return res, nil
}

func (g *Gate) generate(ctx context.Context, in ExecuteInput, acus int) (*aiprovider.Response, error) {
	actx, cancel := context.WithTimeout(ctx, g.aiTimeout)
	defer cancel()

	start := time.Now()
	resp, err := g.provider.Generate(actx, aiprovider.Request{
		ActionType: in.ActionType,
		Prompt:     in.Prompt,
		Context:    in.Context,
		ACUs:       acus,
	})
	g.obs.ObserveProvider(in.ActionType, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, aiprovider.ErrEmptyResponse
	}
	return resp, nil
}

func (g *Gate) fail(ctx context.Context, req *models.AIRequest, reason string) {
	now := g.now().UTC()
	req.Status = models.AIRequestFailed
	req.FailureReason = reason
	req.ACUsUsed = 0
	req.CompletedAt = &now
	if err := g.requests.Finish(ctx, nil, req); err != nil {
		g.log.Error("record failed AI request", "request_id", req.ID, "org_id", req.OrgID, "error", err)
	}
	g.obs.ObserveRequest(req)
	g.log.Warn("AI request failed", "request_id", req.ID, "org_id", req.OrgID,
		"action_type", req.ActionType, "reason", reason)
}

type nopObserver struct{}

func (nopObserver) ObserveQuote(*models.Quote)                              {}
func (nopObserver) ObserveRequest(*models.AIRequest)                        {}
func (nopObserver) ObserveProvider(models.ActionType, time.Duration, error) {}
