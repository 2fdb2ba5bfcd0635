package qc

import (
	"fmt"
	"sort"

	"github.com/warp/coupon-engine/coupon"
)

// Input is everything a QC run needs. The pool must be a fresh snapshot
// read from the store, not the one used at generation time.
type Input struct {
	Pool    coupon.Pool
	Layout  coupon.Layout
	Boxes   coupon.BoxRange
	Coupons []coupon.CouponRecord
}

// Run executes all checks for one batch.
func Run(batchID coupon.BatchID, in Input) Report {
	return Report{
		BatchID: batchID,
		Validations: Validations{
			Distribution:   CheckDistribution(in.Pool, in.Layout, in.Coupons),
			BoxComposition: CheckBoxComposition(in.Pool, in.Boxes, in.Coupons),
			Consecutive:    CheckAdjacency(in.Coupons),
		},
	}
}

// =============================================================================
// DISTRIBUTION_CHECK
// =============================================================================

// CheckDistribution compares the winning coupons of a batch against each
// tier's batch share, floor(total / batch count). Winning values that are not
// in the pool are reported with an expected count of zero.
func CheckDistribution(pool coupon.Pool, l coupon.Layout, coupons []coupon.CouponRecord) DistributionResult {
	batches := l.BatchCount()

	expected := make(map[int64]int, len(pool.Tiers))
	for _, t := range pool.Tiers {
		if t.Value <= 0 {
			continue
		}
		if batches > 0 {
			expected[t.Value] = t.TotalCount / batches
		} else {
			expected[t.Value] = 0
		}
	}

	actual := make(map[int64]int)
	for _, c := range coupons {
		if c.Value > 0 {
			actual[c.Value]++
		}
	}

	issues := []DistributionIssue{}
	for _, v := range unionValues(expected, actual) {
		if expected[v] != actual[v] {
			issues = append(issues, DistributionIssue{
				PrizeAmount: v,
				Expected:    expected[v],
				Actual:      actual[v],
				Difference:  actual[v] - expected[v],
			})
		}
	}

	msg := "Prize distribution matches the pool"
	if len(issues) > 0 {
		msg = fmt.Sprintf("%d prize tiers deviate from the expected distribution", len(issues))
	}
	return DistributionResult{
		Status:   statusOf(len(issues) == 0),
		Expected: expected,
		Actual:   actual,
		Issues:   issues,
		Message:  msg,
	}
}

// =============================================================================
// BOX_COMPOSITION
// =============================================================================

// CheckBoxComposition verifies every box carries coupons_per_box coupons of
// each tier. The checked boxes are the batch's own range plus any box that
// shows up in the data, so strays are caught too.
func CheckBoxComposition(pool coupon.Pool, boxes coupon.BoxRange, coupons []coupon.CouponRecord) CompositionResult {
	expected := make(map[int64]int, len(pool.Tiers))
	for _, t := range pool.Tiers {
		if t.Value > 0 {
			expected[t.Value] = t.PerBoxCount
		}
	}

	actual := make(map[int]map[int64]int)
	if boxes.First >= 1 && boxes.Last >= boxes.First {
		for _, b := range boxes.Boxes() {
			actual[b] = make(map[int64]int)
		}
	}
	for _, c := range coupons {
		counts, ok := actual[c.Box]
		if !ok {
			counts = make(map[int64]int)
			actual[c.Box] = counts
		}
		if c.Value > 0 {
			counts[c.Value]++
		}
	}

	checked := make([]int, 0, len(actual))
	for b := range actual {
		checked = append(checked, b)
	}
	sort.Ints(checked)

	issues := []BoxIssue{}
	for _, b := range checked {
		counts := actual[b]
		for _, v := range unionValues(expected, counts) {
			if expected[v] != counts[v] {
				issues = append(issues, BoxIssue{
					BoxNumber:   b,
					PrizeAmount: v,
					Expected:    expected[v],
					Actual:      counts[v],
					Difference:  counts[v] - expected[v],
				})
			}
		}
	}

	msg := fmt.Sprintf("All %d boxes match the per-box composition", len(checked))
	if len(issues) > 0 {
		msg = fmt.Sprintf("%d box composition mismatches found", len(issues))
	}
	return CompositionResult{
		Status:   statusOf(len(issues) == 0),
		Expected: expected,
		Actual:   actual,
		Issues:   issues,
		Message:  msg,
	}
}

// =============================================================================
// CONSECUTIVE_CHECK
// =============================================================================

// CheckAdjacency flags serially adjacent coupons sharing a non-zero prize.
// Pairs are taken after sorting by serial, across box boundaries.
func CheckAdjacency(coupons []coupon.CouponRecord) ConsecutiveResult {
	ordered := make([]coupon.CouponRecord, len(coupons))
	copy(ordered, coupons)
	sort.SliceStable(ordered, func(i, j int) bool {
		return serialLess(ordered[i].Serial, ordered[j].Serial)
	})

	total := 0
	issues := []ConsecutiveIssue{}
	for i := 0; i+1 < len(ordered); i++ {
		a, b := ordered[i], ordered[i+1]
		if a.Value == 0 || a.Value != b.Value {
			continue
		}
		total++
		if len(issues) < MaxReportedConsecutive {
			issues = append(issues, ConsecutiveIssue{
				First:       a.Serial,
				Second:      b.Serial,
				PrizeAmount: a.Value,
			})
		}
	}

	msg := "No consecutive coupons share a prize"
	if total > 0 {
		msg = fmt.Sprintf("%d consecutive pairs share a prize", total)
	}
	return ConsecutiveResult{
		Status:      statusOf(total == 0),
		TotalIssues: total,
		Issues:      issues,
		Message:     msg,
	}
}

// serialLess orders digit strings numerically when widths differ.
func serialLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// unionValues returns the keys of both maps, highest prize first.
func unionValues(a, b map[int64]int) []int64 {
	seen := make(map[int64]bool, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, m := range []map[int64]int{a, b} {
		for v := range m {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}
