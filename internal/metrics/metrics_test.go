package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/bidpackuk/backend/internal/models"
)

func TestObserveQuoteByOutcome(t *testing.T) {
	m := New()
	m.ObserveQuote(&models.Quote{ActionType: models.ActionRefineSection, CanProceed: true})
	rejected := (&models.Quote{ActionType: models.ActionRefineSection}).Reject(models.ErrInsufficientBalance, "Insufficient ACU balance")
	m.ObserveQuote(rejected)
	m.ObserveQuote(rejected)

	if got := testutil.ToFloat64(m.quotes.WithLabelValues("refine_section", "ok")); got != 1 {
		t.Fatalf("ok quotes: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.quotes.WithLabelValues("refine_section", "insufficient_balance")); got != 2 {
		t.Fatalf("rejected quotes: got %v, want 2", got)
	}
}

func TestLedgerObserver(t *testing.T) {
	m := New()
	m.LedgerAppended(models.TxDebit, 3)
	m.LedgerAppended(models.TxDebit, 4)
	m.LedgerCorrupted()

	if got := testutil.ToFloat64(m.ledgerEntries.WithLabelValues("debit")); got != 2 {
		t.Fatalf("debit entries: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ledgerACUs.WithLabelValues("debit")); got != 7 {
		t.Fatalf("debit ACUs: got %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.ledgerCorruptions); got != 1 {
		t.Fatalf("corruptions: got %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveQuote(&models.Quote{})
	m.ObserveRequest(&models.AIRequest{})
	m.ObserveProvider(models.ActionGenerateParagraph, time.Second, errors.New("x"))
	m.ObserveJob("sweep", nil)
	m.LedgerAppended(models.TxGrant, 1)
	m.LedgerCorrupted()
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveJob("subscription_rollover", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `acu_job_runs_total{job="subscription_rollover",result="ok"} 1`) {
		t.Fatal("job counter missing from exposition")
	}
}
