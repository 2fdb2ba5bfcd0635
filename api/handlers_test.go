/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Prize pool read/replace
- Batch registration, generation and QC through the router
- Error status mapping
- Report and metrics endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/factory"
	"github.com/warp/coupon-engine/production"
	"github.com/warp/coupon-engine/store/memory"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	a := coupon.NewAssembler(coupon.DefaultLayout())
	a.Sources = coupon.SeededSources(42)
	metrics := production.NewMetrics("api_test")
	svc := production.NewService(memory.New(), a, production.WithMetrics(metrics))
	_, err := svc.SeedPool(context.Background(), factory.StandardPool())
	require.NoError(t, err)

	return NewRouter(NewHandler(svc), RouterOptions{
		AllowedOrigins: []string{"http://localhost:5173"},
		Metrics:        metrics.Registry(),
		Logger:         zerolog.Nop(),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createBatch(t *testing.T, h http.Handler, number int) BatchDTO {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/batches",
		`{"batch_number": `+itoa(number)+`, "operator_name": "Budi", "location": "Line A"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BatchDTO](t, rec)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// =============================================================================
// PRIZE POOL
// =============================================================================

func TestGetPool(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/prize-config", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PoolResponse](t, rec)
	assert.Equal(t, 10000, resp.Summary.UniverseSize)
	assert.Equal(t, 1900, resp.Summary.WinningCoupons)
	assert.Equal(t, 8100, resp.Summary.NonWinningCoupons)
	assert.True(t, resp.Summary.Valid)
	assert.Equal(t, 5, resp.Layout.BoxesPerBatch)
}

func TestSetPool(t *testing.T) {
	h := newTestServer(t)

	// GIVEN: A smaller campaign with one tier
	rec := do(t, h, http.MethodPut, "/api/prize-config",
		`{"tiers": [{"prize_amount": 25000, "coupons_per_box": 20}]}`)

	// THEN: It becomes the active pool
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodGet, "/api/prize-config/summary", "")
	summary := decode[coupon.Summary](t, rec)
	assert.Equal(t, 200, summary.WinningCoupons)
	assert.Equal(t, "5000000", summary.TotalPayout.String())
}

func TestSetPool_Rejects(t *testing.T) {
	h := newTestServer(t)

	cases := map[string]string{
		"malformed":   `{"tiers": [`,
		"indivisible": `{"tiers": [{"prize_amount": 5, "total_coupons": 55}]}`,
		"overfull":    `{"tiers": [{"prize_amount": 5, "coupons_per_box": 1001}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, "/api/prize-config", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	// The standard pool is untouched
	rec := do(t, h, http.MethodGet, "/api/prize-config/summary", "")
	assert.Equal(t, 1900, decode[coupon.Summary](t, rec).WinningCoupons)
}

// =============================================================================
// BATCHES
// =============================================================================

func TestCreateBatch(t *testing.T) {
	h := newTestServer(t)

	b := createBatch(t, h, 2)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, production.BatchPending, b.Status)
	assert.Equal(t, coupon.BoxRange{First: 6, Last: 10}, b.Boxes)

	rec := do(t, h, http.MethodGet, "/api/batches", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BatchDTO](t, rec), 1)
}

func TestCreateBatch_Errors(t *testing.T) {
	h := newTestServer(t)
	createBatch(t, h, 1)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing operator", `{"batch_number": 2, "location": "Line A"}`, http.StatusBadRequest},
		{"out of range", `{"batch_number": 3, "operator_name": "Budi", "location": "Line A"}`, http.StatusBadRequest},
		{"duplicate", `{"batch_number": 1, "operator_name": "Budi", "location": "Line A"}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/batches", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{
		"/api/batches/missing",
		"/api/batches/missing/coupons",
		"/api/batches/missing/logs",
		"/api/coupons/99999",
	} {
		rec := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := do(t, h, http.MethodPost, "/api/batches/missing/generate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateAndValidate(t *testing.T) {
	h := newTestServer(t)
	b := createBatch(t, h, 1)

	// WHEN: Generating
	rec := do(t, h, http.MethodPost, "/api/batches/"+string(b.ID)+"/generate", "")

	// THEN: The whole batch is produced with its share of winners
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	gen := decode[GenerateResponse](t, rec)
	assert.Equal(t, 5000, gen.CouponsGenerated)
	assert.Equal(t, 950, gen.Winners)
	assert.Equal(t, production.BatchGenerated, gen.Batch.Status)
	assert.NotNil(t, gen.Warnings)

	// WHEN: Validating
	rec = do(t, h, http.MethodPost, "/api/batches/"+string(b.ID)+"/validate", "")

	// THEN: All three checks pass
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	val := decode[ValidateResponse](t, rec)
	assert.True(t, val.Passed)
	assert.Equal(t, production.BatchQCPassed, val.Batch.Status)
	assert.Equal(t, 5, val.Validations.BoxComposition.Expected[100000])

	rec = do(t, h, http.MethodGet, "/api/batches/"+string(b.ID)+"/validations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]production.ValidationRecord](t, rec), 3)
}

func TestValidate_BeforeGeneration(t *testing.T) {
	h := newTestServer(t)
	b := createBatch(t, h, 1)

	rec := do(t, h, http.MethodPost, "/api/batches/"+string(b.ID)+"/validate", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// COUPONS, REPORTS, LOGS
// =============================================================================

func TestGetCoupons_ByBox(t *testing.T) {
	h := newTestServer(t)
	b := createBatch(t, h, 2)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/batches/"+string(b.ID)+"/generate", "").Code)

	rec := do(t, h, http.MethodGet, "/api/batches/"+string(b.ID)+"/coupons?box=7", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[CouponListResponse](t, rec)
	assert.Equal(t, 1000, list.Count)
	assert.Equal(t, "06001", list.Coupons[0].Serial)

	rec = do(t, h, http.MethodGet, "/api/coupons/06001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[coupon.CouponRecord](t, rec).Box)

	// Box outside the batch, and a malformed box
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodGet, "/api/batches/"+string(b.ID)+"/coupons?box=3", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodGet, "/api/batches/"+string(b.ID)+"/coupons?box=x", "").Code)
}

func TestGetReport(t *testing.T) {
	h := newTestServer(t)
	b := createBatch(t, h, 1)

	rec := do(t, h, http.MethodGet, "/api/batches/"+string(b.ID)+"/report", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/batches/"+string(b.ID)+"/generate", "").Code)
	rec = do(t, h, http.MethodGet, "/api/batches/"+string(b.ID)+"/report", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Equal(t, "No Batch: 1", lines[0])
	assert.Len(t, lines, 6+5000)
}

func TestLogs(t *testing.T) {
	h := newTestServer(t)
	b := createBatch(t, h, 1)
	do(t, h, http.MethodPost, "/api/batches/"+string(b.ID)+"/generate", "")

	rec := do(t, h, http.MethodGet, "/api/batches/"+string(b.ID)+"/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]production.LogEntry](t, rec)
	require.NotEmpty(t, entries)
	assert.Equal(t, production.ActionGenerated, entries[0].Action)

	rec = do(t, h, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.GreaterOrEqual(t, len(decode[[]production.LogEntry](t, rec)), len(entries))
}

// =============================================================================
// AMBIENT ENDPOINTS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t)
	b := createBatch(t, h, 1)
	do(t, h, http.MethodPost, "/api/batches/"+string(b.ID)+"/generate", "")

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api_test_generation_runs_total")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/batches", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}
