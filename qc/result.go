/*
Package qc verifies persisted coupon batches against the prize pool.

PURPOSE:
  Generation is only half of the guarantee. After a batch is stored (and
  possibly touched by operators) the QC engine re-derives what the batch
  must contain from a fresh pool snapshot and compares it to what is
  actually stored.

CHECKS:
  DISTRIBUTION_CHECK: per prize, batch count == floor(total / batches)
  BOX_COMPOSITION:    per box and prize, count == coupons_per_box
  CONSECUTIVE_CHECK:  no serially adjacent coupons share a non-zero prize

  Each check is independent and stateless. A mismatch is a FAIL result with
  structured issues, never an error.

IDEMPOTENCY:
  Results depend only on the inputs. Issues are emitted in a fixed order
  (prize descending, box ascending, serial ascending) so running the same
  checks twice yields identical reports.

SEE ALSO:
  - checks.go: The three checks
  - coupon/: Generation side
*/
package qc

import (
	"github.com/warp/coupon-engine/coupon"
)

// CheckType names a validation.
type CheckType string

const (
	DistributionCheck   CheckType = "DISTRIBUTION_CHECK"
	BoxCompositionCheck CheckType = "BOX_COMPOSITION"
	ConsecutiveCheck    CheckType = "CONSECUTIVE_CHECK"
)

// CheckTypes lists every check in run order.
var CheckTypes = []CheckType{DistributionCheck, BoxCompositionCheck, ConsecutiveCheck}

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

func statusOf(ok bool) Status {
	if ok {
		return StatusPass
	}
	return StatusFail
}

// MaxReportedConsecutive caps the adjacency issues listed in a result. The
// full count is always reported.
const MaxReportedConsecutive = 10

// =============================================================================
// PER-CHECK RESULTS
// =============================================================================

// DistributionIssue is a prize whose batch count is off.
type DistributionIssue struct {
	PrizeAmount int64 `json:"prize_amount"`
	Expected    int   `json:"expected"`
	Actual      int   `json:"actual"`
	Difference  int   `json:"difference"`
}

// DistributionResult is the DISTRIBUTION_CHECK outcome.
type DistributionResult struct {
	Status   Status              `json:"status"`
	Expected map[int64]int       `json:"expected"`
	Actual   map[int64]int       `json:"actual"`
	Issues   []DistributionIssue `json:"issues"`
	Message  string              `json:"message"`
}

// BoxIssue is a (box, prize) pair whose count is off.
type BoxIssue struct {
	BoxNumber   int   `json:"box_number"`
	PrizeAmount int64 `json:"prize_amount"`
	Expected    int   `json:"expected"`
	Actual      int   `json:"actual"`
	Difference  int   `json:"difference"`
}

// CompositionResult is the BOX_COMPOSITION outcome.
type CompositionResult struct {
	Status   Status                `json:"status"`
	Expected map[int64]int         `json:"expected_per_box"`
	Actual   map[int]map[int64]int `json:"box_compositions"`
	Issues   []BoxIssue            `json:"issues"`
	Message  string                `json:"message"`
}

// ConsecutiveIssue is one pair of adjacent coupons sharing a prize.
type ConsecutiveIssue struct {
	First       string `json:"coupon_number_1"`
	Second      string `json:"coupon_number_2"`
	PrizeAmount int64  `json:"prize_amount"`
}

// ConsecutiveResult is the CONSECUTIVE_CHECK outcome.
type ConsecutiveResult struct {
	Status      Status             `json:"status"`
	TotalIssues int                `json:"total_consecutive_issues"`
	Issues      []ConsecutiveIssue `json:"issues"`
	Message     string             `json:"message"`
}

// =============================================================================
// AGGREGATE REPORT
// =============================================================================

// Validations holds one result per check, keyed by check type in JSON.
type Validations struct {
	Distribution   DistributionResult `json:"DISTRIBUTION_CHECK"`
	BoxComposition CompositionResult  `json:"BOX_COMPOSITION"`
	Consecutive    ConsecutiveResult  `json:"CONSECUTIVE_CHECK"`
}

// Report is the aggregate handed to persistence and report formatters.
type Report struct {
	BatchID     coupon.BatchID `json:"batch_id"`
	Validations Validations    `json:"validations"`
}

// Passed is true when every check passed.
func (r Report) Passed() bool {
	return r.Validations.Distribution.Status == StatusPass &&
		r.Validations.BoxComposition.Status == StatusPass &&
		r.Validations.Consecutive.Status == StatusPass
}

// CheckRecord is one check flattened for storage.
type CheckRecord struct {
	Type    CheckType
	Status  Status
	Details any
}

// Records flattens the report in check order.
func (r Report) Records() []CheckRecord {
	v := r.Validations
	return []CheckRecord{
		{Type: DistributionCheck, Status: v.Distribution.Status, Details: v.Distribution},
		{Type: BoxCompositionCheck, Status: v.BoxComposition.Status, Details: v.BoxComposition},
		{Type: ConsecutiveCheck, Status: v.Consecutive.Status, Details: v.Consecutive},
	}
}
