package production

import (
	"context"
	"errors"

	"github.com/warp/coupon-engine/coupon"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

// PoolStore persists prize tiers. Only the active set is ever read for
// generation or QC.
type PoolStore interface {
	// ActivePool returns the currently active tiers. An empty pool is not an
	// error.
	ActivePool(ctx context.Context) (coupon.Pool, error)

	// ReplacePool deactivates the current tiers and activates the given
	// ones in a single transaction.
	ReplacePool(ctx context.Context, pool coupon.Pool) error
}

// BatchStore persists batch records.
type BatchStore interface {
	// CreateBatch inserts a batch. Returns ErrDuplicateBatch if the batch
	// number is already taken.
	CreateBatch(ctx context.Context, b Batch) error

	// GetBatch returns nil, nil when the batch does not exist.
	GetBatch(ctx context.Context, id coupon.BatchID) (*Batch, error)

	ListBatches(ctx context.Context) ([]Batch, error)

	UpdateBatchStatus(ctx context.Context, id coupon.BatchID, status BatchStatus) error
}

// CouponStore persists generated coupons.
type CouponStore interface {
	// ReplaceCoupons swaps every coupon of the batch for the given records
	// atomically. Readers see either the old set or the new one.
	ReplaceCoupons(ctx context.Context, batch coupon.BatchID, records []coupon.CouponRecord) error

	// LoadCoupons returns coupons ordered by serial.
	LoadCoupons(ctx context.Context, q CouponQuery) ([]coupon.CouponRecord, error)

	// GetCoupon returns nil, nil when the serial does not exist.
	GetCoupon(ctx context.Context, serial string) (*coupon.CouponRecord, error)
}

// ValidationStore persists QC outcomes.
type ValidationStore interface {
	SaveValidations(ctx context.Context, records []ValidationRecord) error

	// ListValidations returns the batch's results, newest first.
	ListValidations(ctx context.Context, batch coupon.BatchID) ([]ValidationRecord, error)
}

// LogStore is the append-only production log.
type LogStore interface {
	AppendLog(ctx context.Context, e LogEntry) error

	// ListLogs returns entries newest first. An empty batch lists all.
	ListLogs(ctx context.Context, batch coupon.BatchID) ([]LogEntry, error)
}

// Store is everything the service needs.
type Store interface {
	PoolStore
	BatchStore
	CouponStore
	ValidationStore
	LogStore
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateBatch is returned when a batch number is reused.
	ErrDuplicateBatch = errors.New("batch number already exists")

	// ErrInvalidInput is returned when a request fails field validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoCoupons is returned when QC or a report is requested for a batch
	// that has not been generated.
	ErrNoCoupons = errors.New("batch has no coupons")

	// ErrCouponNotFound is returned when a serial lookup misses.
	ErrCouponNotFound = errors.New("coupon not found")
)

// IsClientError extends coupon.IsClientError with service errors.
func IsClientError(err error) bool {
	return coupon.IsClientError(err) ||
		errors.Is(err, ErrDuplicateBatch) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNoCoupons)
}

// IsNotFound reports missing batches or coupons.
func IsNotFound(err error) bool {
	return coupon.IsNotFound(err) || errors.Is(err, ErrCouponNotFound)
}

func notFound(id coupon.BatchID) error {
	return &coupon.InvalidBatchError{Batch: id, Reason: "no such batch", NotFound: true}
}
