/*
Package production runs coupon generation and QC against persisted batches.

PURPOSE:
  The coupon and qc packages are pure. This package is the layer that reads
  the active prize pool, resolves batch records, persists generated coupons,
  stores QC outcomes and keeps a production log. It is what the HTTP API and
  the CLI talk to.

BATCH LIFECYCLE:
  pending    -> created, no coupons yet
  generated  -> coupons persisted (regeneration replaces them atomically)
  qc_passed  -> last QC run passed every check
  qc_failed  -> last QC run failed at least one check

  Generating again after QC puts the batch back into "generated".

FRESH SNAPSHOTS:
  Every generation and every QC run reads the active pool from the store.
  Nothing is cached between calls, so a pool change is visible immediately.

SEE ALSO:
  - service.go: Operations
  - store.go: Persistence interfaces
  - store/sqlite: SQLite implementation
  - store/memory: In-memory implementation for tests and dry runs
*/
package production

import (
	"encoding/json"
	"time"

	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/qc"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchGenerated BatchStatus = "generated"
	BatchQCPassed  BatchStatus = "qc_passed"
	BatchQCFailed  BatchStatus = "qc_failed"
)

// Batch is a production run record. Number drives which boxes it owns.
type Batch struct {
	ID             coupon.BatchID `json:"batch_id"`
	Number         int            `json:"batch_number"`
	OperatorName   string         `json:"operator_name"`
	Location       string         `json:"location"`
	ProductionDate time.Time      `json:"production_date"`
	Status         BatchStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewBatch is the input for creating a batch.
type NewBatch struct {
	Number         int       `json:"batch_number" validate:"required,min=1"`
	OperatorName   string    `json:"operator_name" validate:"required"`
	Location       string    `json:"location" validate:"required"`
	ProductionDate time.Time `json:"production_date"`
}

// CouponQuery filters coupons of one batch. Box 0 means every box.
type CouponQuery struct {
	BatchID coupon.BatchID
	Box     int
}

// ValidationRecord is one persisted QC check outcome.
type ValidationRecord struct {
	ID          string          `json:"validation_id"`
	BatchID     coupon.BatchID  `json:"batch_id"`
	Type        qc.CheckType    `json:"validation_type"`
	Status      qc.Status       `json:"validation_status"`
	Details     json.RawMessage `json:"validation_details"`
	ValidatedAt time.Time       `json:"validated_at"`
}

// LogAction classifies production log entries.
type LogAction string

const (
	ActionBatchCreated LogAction = "batch_created"
	ActionGenerated    LogAction = "coupons_generated"
	ActionRepairWarn   LogAction = "repair_warning"
	ActionQC           LogAction = "qc_validation"
	ActionPoolUpdated  LogAction = "pool_updated"
)

// LogEntry is an append-only production log line.
type LogEntry struct {
	ID          string         `json:"log_id"`
	BatchID     coupon.BatchID `json:"batch_id,omitempty"`
	Action      LogAction      `json:"action_type"`
	Description string         `json:"action_description"`
	At          time.Time      `json:"timestamp"`
}

// GenerateResult is what GenerateBatch returns to callers.
type GenerateResult struct {
	Batch      Batch                              `json:"batch"`
	Generation *coupon.Generation                 `json:"-"`
	Warnings   []*coupon.RepairNotConvergedWarning `json:"-"`
}

// ValidateResult pairs the QC report with the batch's new status.
type ValidateResult struct {
	Batch  Batch     `json:"batch"`
	Report qc.Report `json:"report"`
}
