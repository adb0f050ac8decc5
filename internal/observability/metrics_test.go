package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsMiddlewareCountsRequests(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stock/balances", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTeapot, rec.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, "sitestock_http_requests_total")
	require.Contains(t, body, `code="418"`)
}

func TestMovementCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.MovementPosted("GRN")
	metrics.MovementPosted("GRN")
	metrics.MovementPosted("ISSUE")
	metrics.InsufficientStock()

	body := scrape(t, metrics)
	require.Contains(t, body, `sitestock_ledger_movements_total{ref_type="GRN"} 2`)
	require.Contains(t, body, `sitestock_ledger_movements_total{ref_type="ISSUE"} 1`)
	require.Contains(t, body, "sitestock_ledger_insufficient_stock_total 1")
}

func TestNilMetricsIsInert(t *testing.T) {
	var metrics *Metrics
	metrics.MovementPosted("GRN")
	metrics.InsufficientStock()

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := new(strings.Builder)
	_, err := body.WriteString(rec.Body.String())
	require.NoError(t, err)
	return body.String()
}
