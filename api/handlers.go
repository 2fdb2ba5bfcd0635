/*
handlers.go - HTTP API handlers for the coupon production engine

PURPOSE:
  Exposes the production service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to production.Service.

ENDPOINTS:
  Prize pool:
    GET    /api/prize-config                 Active pool, layout and totals
    PUT    /api/prize-config                 Replace the active pool
    GET    /api/prize-config/summary         Totals only

  Batches:
    GET    /api/batches                      List batches
    POST   /api/batches                      Register a batch
    GET    /api/batches/{id}                 Batch details
    POST   /api/batches/{id}/generate        Generate (or regenerate) coupons
    POST   /api/batches/{id}/validate        Run quality control
    GET    /api/batches/{id}/validations     QC history
    GET    /api/batches/{id}/coupons?box=N   Coupons, optionally one box
    GET    /api/batches/{id}/report          Production sheet (text/plain)
    GET    /api/batches/{id}/logs            Production log of the batch

  Coupons and logs:
    GET    /api/coupons/{serial}             Look up one coupon
    GET    /api/logs                         Production log of all batches

REQUEST FLOW:
  1. Parse HTTP request
  2. Call production.Service
  3. Serialize response
  4. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, bad prize configuration
  - 404: Batch or coupon not found
  - 409: Duplicate batch number, QC or report before generation
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/factory"
	"github.com/warp/coupon-engine/production"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Service *production.Service
	Pools   *factory.PoolFactory
}

// NewHandler creates a new handler. Pools are parsed against the service's
// layout.
func NewHandler(svc *production.Service) *Handler {
	return &Handler{
		Service: svc,
		Pools:   factory.NewPoolFactory(svc.Layout()),
	}
}

// =============================================================================
// PRIZE POOL HANDLERS
// =============================================================================

// GetPool returns the active prize pool.
// GET /api/prize-config
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.Summary(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to load prize pool", err)
		return
	}
	writeJSON(w, http.StatusOK, PoolResponse{Layout: h.Service.Layout(), Summary: summary})
}

// GetPoolSummary returns only the derived totals.
// GET /api/prize-config/summary
func (h *Handler) GetPoolSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Service.Summary(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to load prize pool", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// SetPool replaces the active prize pool.
// PUT /api/prize-config
func (h *Handler) SetPool(w http.ResponseWriter, r *http.Request) {
	var req factory.PoolJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	pool, err := h.Pools.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid prize configuration", err)
		return
	}
	if err := h.Service.SetPool(r.Context(), pool); err != nil {
		writeServiceError(w, "Failed to save prize pool", err)
		return
	}

	writeJSON(w, http.StatusOK, PoolResponse{
		Layout:  h.Service.Layout(),
		Summary: coupon.Summarize(pool, h.Service.Layout()),
	})
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// ListBatches returns all batches ordered by batch number.
// GET /api/batches
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Service.ListBatches(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list batches", err)
		return
	}

	dtos := make([]BatchDTO, 0, len(batches))
	for _, b := range batches {
		dtos = append(dtos, h.batchDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBatch registers a batch.
// POST /api/batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Service.CreateBatch(r.Context(), req.toNewBatch())
	if err != nil {
		writeServiceError(w, "Failed to create batch", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.batchDTO(*b))
}

// GetBatch returns a single batch.
// GET /api/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Service.GetBatch(r.Context(), batchID(r))
	if err != nil {
		writeServiceError(w, "Failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, h.batchDTO(*b))
}

// GenerateBatch generates the batch's coupons. Repair warnings are
// reported in the response body; the request still succeeds.
// POST /api/batches/{id}/generate
func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GenerateBatch(r.Context(), batchID(r))
	if err != nil {
		writeServiceError(w, "Failed to generate coupons", err)
		return
	}

	warnings := make([]string, 0, len(res.Warnings))
	for _, warn := range res.Warnings {
		warnings = append(warnings, warn.Error())
	}
	writeJSON(w, http.StatusOK, GenerateResponse{
		Batch:            h.batchDTO(res.Batch),
		CouponsGenerated: len(res.Generation.Coupons),
		Winners:          res.Generation.Winners(),
		Payout:           res.Generation.Payout(),
		Warnings:         warnings,
	})
}

// ValidateBatch runs quality control on the batch's stored coupons.
// A failed check is still a 200; the verdict is in the body.
// POST /api/batches/{id}/validate
func (h *Handler) ValidateBatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ValidateBatch(r.Context(), batchID(r))
	if err != nil {
		writeServiceError(w, "Failed to validate batch", err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{
		Batch:       h.batchDTO(res.Batch),
		Passed:      res.Report.Passed(),
		Validations: res.Report.Validations,
	})
}

// GetValidations returns the batch's QC history, newest run first.
// GET /api/batches/{id}/validations
func (h *Handler) GetValidations(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.Validations(r.Context(), batchID(r))
	if err != nil {
		writeServiceError(w, "Failed to list validations", err)
		return
	}
	if records == nil {
		records = []production.ValidationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetCoupons lists the batch's coupons, optionally for one box.
// GET /api/batches/{id}/coupons?box=N
func (h *Handler) GetCoupons(w http.ResponseWriter, r *http.Request) {
	box := 0
	if s := r.URL.Query().Get("box"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid box number", err)
			return
		}
		box = n
	}

	id := batchID(r)
	coupons, err := h.Service.Coupons(r.Context(), id, box)
	if err != nil {
		writeServiceError(w, "Failed to list coupons", err)
		return
	}
	if coupons == nil {
		coupons = []coupon.CouponRecord{}
	}
	writeJSON(w, http.StatusOK, CouponListResponse{
		BatchID: id,
		Box:     box,
		Count:   len(coupons),
		Coupons: coupons,
	})
}

// GetReport renders the production sheet.
// GET /api/batches/{id}/report
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.Service.WriteReport(r.Context(), &buf, batchID(r)); err != nil {
		writeServiceError(w, "Failed to render report", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// GetBatchLogs returns the batch's production log, newest first.
// GET /api/batches/{id}/logs
func (h *Handler) GetBatchLogs(w http.ResponseWriter, r *http.Request) {
	id := batchID(r)
	if _, err := h.Service.GetBatch(r.Context(), id); err != nil {
		writeServiceError(w, "Failed to get batch", err)
		return
	}
	h.writeLogs(w, r, id)
}

// =============================================================================
// COUPON AND LOG HANDLERS
// =============================================================================

// GetCoupon looks up one coupon by serial.
// GET /api/coupons/{serial}
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.Service.Coupon(r.Context(), chi.URLParam(r, "serial"))
	if err != nil {
		writeServiceError(w, "Failed to get coupon", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListLogs returns the production log of every batch.
// GET /api/logs
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	h.writeLogs(w, r, "")
}

func (h *Handler) writeLogs(w http.ResponseWriter, r *http.Request, id coupon.BatchID) {
	entries, err := h.Service.Logs(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to list logs", err)
		return
	}
	if entries == nil {
		entries = []production.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func batchID(r *http.Request) coupon.BatchID {
	return coupon.BatchID(chi.URLParam(r, "id"))
}

func (h *Handler) batchDTO(b production.Batch) BatchDTO {
	dto := BatchDTO{Batch: b}
	if boxes, err := h.Service.Layout().BatchBoxes(b.Number); err == nil {
		dto.Boxes = boxes
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps service errors to a status code.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case production.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, production.ErrDuplicateBatch), errors.Is(err, production.ErrNoCoupons):
		return http.StatusConflict
	case production.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
