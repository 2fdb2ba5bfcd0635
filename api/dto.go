/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication that are not already
  carried by the domain types. Batches, coupons, validation records and
  log entries are serialized directly from their production/coupon types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Prize pool:
    PoolResponse (pool + summary), pool requests use factory.PoolJSON

  Batches:
    CreateBatchRequest, GenerateResponse, ValidateResponse

  Coupons:
    CouponListResponse

SEE ALSO:
  - handlers.go: Uses these types
  - factory/pool.go: PoolJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/production"
	"github.com/warp/coupon-engine/qc"
)

// =============================================================================
// PRIZE POOL
// =============================================================================

// PoolResponse is the active pool with its derived totals.
type PoolResponse struct {
	Layout  coupon.Layout  `json:"layout"`
	Summary coupon.Summary `json:"summary"`
}

// =============================================================================
// BATCHES
// =============================================================================

// CreateBatchRequest is the body of POST /api/batches. ProductionDate is
// optional and defaults to the time of the request.
type CreateBatchRequest struct {
	BatchNumber    int        `json:"batch_number"`
	OperatorName   string     `json:"operator_name"`
	Location       string     `json:"location"`
	ProductionDate *time.Time `json:"production_date,omitempty"`
}

func (r CreateBatchRequest) toNewBatch() production.NewBatch {
	nb := production.NewBatch{
		Number:       r.BatchNumber,
		OperatorName: r.OperatorName,
		Location:     r.Location,
	}
	if r.ProductionDate != nil {
		nb.ProductionDate = *r.ProductionDate
	}
	return nb
}

// BatchDTO is a batch plus the boxes it owns.
type BatchDTO struct {
	production.Batch
	Boxes coupon.BoxRange `json:"boxes"`
}

// GenerateResponse reports the outcome of a generation run.
type GenerateResponse struct {
	Batch            BatchDTO        `json:"batch"`
	CouponsGenerated int             `json:"coupons_generated"`
	Winners          int             `json:"winning_coupons"`
	Payout           decimal.Decimal `json:"total_payout"`
	Warnings         []string        `json:"warnings"`
}

// ValidateResponse reports a QC run.
type ValidateResponse struct {
	Batch       BatchDTO       `json:"batch"`
	Passed      bool           `json:"passed"`
	Validations qc.Validations `json:"validations"`
}

// =============================================================================
// COUPONS
// =============================================================================

// CouponListResponse wraps a coupon listing.
type CouponListResponse struct {
	BatchID coupon.BatchID        `json:"batch_id"`
	Box     int                   `json:"box,omitempty"`
	Count   int                   `json:"count"`
	Coupons []coupon.CouponRecord `json:"coupons"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
