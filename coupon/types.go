/*
Package coupon provides the allocation engine for serialized reward coupons.

PURPOSE:
  A production run prints a fixed universe of coupons (e.g. 10,000) split
  into equal boxes (e.g. 10 x 1,000). Every box must carry the same reward
  composition, and no two serially adjacent coupons may carry the same
  non-zero reward. This package turns a prize pool into concrete coupon
  records that satisfy those rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - PrizeTier: a reward value with its universe-wide and per-box counts
  - Pool: an immutable snapshot of the configured tiers
  - Layout: the structural constants (box count, box size, batch size)
  - CouponRecord: one generated coupon, immutable once assembled
  - BatchID / BoxRange: how a batch maps onto box numbers

PIPELINE:
  Pool -> BuildBoxTemplate -> Arranger (shuffle + adjacency repair)
       -> Assembler (serials, boxes, batch) -> persistence (caller)

DESIGN PRINCIPLES:
  1. Snapshots: the pool is passed explicitly; nothing is cached globally
  2. Injectable randomness: every box gets its own Source
  3. Immutability: records are never mutated; regenerate the whole batch

SEE ALSO:
  - template.go: Box template construction
  - repair.go: Shuffle and adjacency repair strategies
  - assembler.go: Batch assembly
  - qc/: Validation of persisted coupons
*/
package coupon

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PRIZE POOL
// =============================================================================

// PrizeTier is one configured reward value.
type PrizeTier struct {
	Value       int64 `json:"prize_amount"`
	TotalCount  int   `json:"total_coupons"`
	PerBoxCount int   `json:"coupons_per_box"`
}

// Payout is the money carried by every coupon of this tier in the universe.
func (t PrizeTier) Payout() decimal.Decimal {
	return decimal.NewFromInt(t.Value).Mul(decimal.NewFromInt(int64(t.TotalCount)))
}

// Pool is a read-only snapshot of the active prize tiers.
type Pool struct {
	Tiers []PrizeTier `json:"tiers"`
}

// NewPool copies tiers into a new snapshot.
func NewPool(tiers ...PrizeTier) Pool {
	cp := make([]PrizeTier, len(tiers))
	copy(cp, tiers)
	return Pool{Tiers: cp}
}

// Sorted returns the tiers in descending value order.
func (p Pool) Sorted() []PrizeTier {
	out := make([]PrizeTier, len(p.Tiers))
	copy(out, p.Tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// Tier returns the tier with the given value.
func (p Pool) Tier(value int64) (PrizeTier, bool) {
	for _, t := range p.Tiers {
		if t.Value == value {
			return t, true
		}
	}
	return PrizeTier{}, false
}

// WinningCount is the number of winning coupons in the universe.
func (p Pool) WinningCount() int {
	n := 0
	for _, t := range p.Tiers {
		n += t.TotalCount
	}
	return n
}

// WinningPerBox is the number of winning coupons in one box.
func (p Pool) WinningPerBox() int {
	n := 0
	for _, t := range p.Tiers {
		n += t.PerBoxCount
	}
	return n
}

// TotalPayout sums the payout of all tiers.
func (p Pool) TotalPayout() decimal.Decimal {
	total := decimal.Zero
	for _, t := range p.Tiers {
		total = total.Add(t.Payout())
	}
	return total
}

// Validate checks the pool against the layout. All violations are reported
// together in a single ConfigurationError.
func (p Pool) Validate(l Layout) error {
	if err := l.Validate(); err != nil {
		return err
	}

	var problems []string
	seen := make(map[int64]bool, len(p.Tiers))
	for _, t := range p.Tiers {
		switch {
		case t.Value <= 0:
			problems = append(problems, fmt.Sprintf("prize %d: value must be positive", t.Value))
			continue
		case seen[t.Value]:
			problems = append(problems, fmt.Sprintf("prize %d: configured more than once", t.Value))
			continue
		case t.TotalCount < 0 || t.PerBoxCount < 0:
			problems = append(problems, fmt.Sprintf("prize %d: counts must not be negative", t.Value))
			continue
		}
		seen[t.Value] = true

		if t.PerBoxCount*l.BoxCount != t.TotalCount {
			problems = append(problems, fmt.Sprintf(
				"prize %d: %d per box x %d boxes != %d total",
				t.Value, t.PerBoxCount, l.BoxCount, t.TotalCount))
		}
	}

	if perBox := p.WinningPerBox(); perBox > l.BoxSize {
		problems = append(problems, fmt.Sprintf(
			"%d winning coupons per box exceed box size %d", perBox, l.BoxSize))
	}
	if total := p.WinningCount(); total >= l.UniverseSize() {
		problems = append(problems, fmt.Sprintf(
			"%d winning coupons leave no non-winning slot in a universe of %d", total, l.UniverseSize()))
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// =============================================================================
// LAYOUT - Structural constants
// =============================================================================

// Layout describes how the universe is cut into boxes and batches.
type Layout struct {
	BoxCount        int    `json:"box_count"`
	BoxSize         int    `json:"box_size"`
	BoxesPerBatch   int    `json:"boxes_per_batch"`
	DigitWidth      int    `json:"coupon_digit_width"`
	NonWinningLabel string `json:"non_winning_label"`
}

// DefaultNonWinningLabel is printed on coupons without a prize.
const DefaultNonWinningLabel = "Anda Belum Beruntung"

// DefaultLayout is 10 boxes of 1,000 coupons in two batches of five boxes.
func DefaultLayout() Layout {
	return Layout{
		BoxCount:        10,
		BoxSize:         1000,
		BoxesPerBatch:   5,
		DigitWidth:      5,
		NonWinningLabel: DefaultNonWinningLabel,
	}
}

// UniverseSize is the number of coupons across all boxes.
func (l Layout) UniverseSize() int { return l.BoxCount * l.BoxSize }

// BatchCount is the number of batches the universe is split into.
func (l Layout) BatchCount() int {
	if l.BoxesPerBatch <= 0 {
		return 0
	}
	return l.BoxCount / l.BoxesPerBatch
}

// BatchSize is the number of coupons in one batch.
func (l Layout) BatchSize() int { return l.BoxesPerBatch * l.BoxSize }

// Validate checks the structural constants.
func (l Layout) Validate() error {
	var problems []string
	if l.BoxCount <= 0 {
		problems = append(problems, "box count must be positive")
	}
	if l.BoxSize <= 0 {
		problems = append(problems, "box size must be positive")
	}
	if l.BoxesPerBatch <= 0 {
		problems = append(problems, "boxes per batch must be positive")
	} else if l.BoxCount > 0 && l.BoxCount%l.BoxesPerBatch != 0 {
		problems = append(problems, fmt.Sprintf(
			"%d boxes cannot be split into batches of %d", l.BoxCount, l.BoxesPerBatch))
	}
	if l.DigitWidth <= 0 {
		problems = append(problems, "coupon digit width must be positive")
	} else if l.BoxCount > 0 && l.BoxSize > 0 && len(fmt.Sprint(l.UniverseSize())) > l.DigitWidth {
		problems = append(problems, fmt.Sprintf(
			"serial %d does not fit in %d digits", l.UniverseSize(), l.DigitWidth))
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// FirstSerial is the first serial number printed in a box.
func (l Layout) FirstSerial(box int) int { return (box-1)*l.BoxSize + 1 }

// FormatSerial renders a serial number zero-padded to the layout width.
func (l Layout) FormatSerial(n int) string {
	return fmt.Sprintf("%0*d", l.DigitWidth, n)
}

// BatchBoxes applies the batch numbering formula: batch n owns boxes
// (n-1)*k+1 .. n*k.
func (l Layout) BatchBoxes(number int) (BoxRange, error) {
	if number < 1 || number > l.BatchCount() {
		return BoxRange{}, &InvalidBatchError{
			Batch:  BatchID(fmt.Sprint(number)),
			Reason: fmt.Sprintf("batch number must be between 1 and %d", l.BatchCount()),
		}
	}
	return BoxRange{
		First: (number-1)*l.BoxesPerBatch + 1,
		Last:  number * l.BoxesPerBatch,
	}, nil
}

// ValidateBoxForBatch reports whether box belongs to batch number.
func (l Layout) ValidateBoxForBatch(number, box int) error {
	r, err := l.BatchBoxes(number)
	if err != nil {
		return err
	}
	if !r.Contains(box) {
		return &InvalidBatchError{
			Batch:  BatchID(fmt.Sprint(number)),
			Reason: fmt.Sprintf("box %d is not part of batch %d (boxes %d-%d)", box, number, r.First, r.Last),
		}
	}
	return nil
}

// =============================================================================
// BATCHES AND BOXES
// =============================================================================

// BatchID is an opaque batch reference owned by the persistence layer.
type BatchID string

// BoxRange is an inclusive range of box numbers.
type BoxRange struct {
	First int `json:"first_box"`
	Last  int `json:"last_box"`
}

func (r BoxRange) Len() int              { return r.Last - r.First + 1 }
func (r BoxRange) Contains(box int) bool { return box >= r.First && box <= r.Last }

// Boxes lists the box numbers in the range.
func (r BoxRange) Boxes() []int {
	out := make([]int, 0, r.Len())
	for b := r.First; b <= r.Last; b++ {
		out = append(out, b)
	}
	return out
}

// BatchResolver maps a batch identifier onto the boxes it owns.
type BatchResolver interface {
	Resolve(batch BatchID) (BoxRange, error)
}

// ResolverFunc adapts a function to BatchResolver.
type ResolverFunc func(batch BatchID) (BoxRange, error)

func (f ResolverFunc) Resolve(batch BatchID) (BoxRange, error) { return f(batch) }

// =============================================================================
// COUPON RECORD
// =============================================================================

// CouponRecord is one printed coupon.
type CouponRecord struct {
	Serial   string  `json:"coupon_number"`
	Value    int64   `json:"prize_amount"`
	Label    string  `json:"prize_description,omitempty"`
	Box      int     `json:"box_number"`
	BatchID  BatchID `json:"batch_id"`
	IsWinner bool    `json:"is_winner"`
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary describes what a pool produces under a layout.
type Summary struct {
	Tiers             []PrizeTier     `json:"tiers"`
	UniverseSize      int             `json:"total_coupons"`
	WinningCoupons    int             `json:"prize_coupons"`
	NonWinningCoupons int             `json:"non_prize_coupons"`
	WinningPerBox     int             `json:"prize_coupons_per_box"`
	TotalPayout       decimal.Decimal `json:"total_payout"`
	Valid             bool            `json:"is_valid"`
	Problems          []string        `json:"problems,omitempty"`
}

// Summarize reports totals for the pool. Invalid pools still get a summary;
// the problems are listed instead of returned as an error.
func Summarize(p Pool, l Layout) Summary {
	s := Summary{
		Tiers:             p.Sorted(),
		UniverseSize:      l.UniverseSize(),
		WinningCoupons:    p.WinningCount(),
		NonWinningCoupons: l.UniverseSize() - p.WinningCount(),
		WinningPerBox:     p.WinningPerBox(),
		TotalPayout:       p.TotalPayout(),
		Valid:             true,
	}
	if err := p.Validate(l); err != nil {
		s.Valid = false
		if ce, ok := err.(*ConfigurationError); ok {
			s.Problems = ce.Problems
		} else {
			s.Problems = []string{err.Error()}
		}
	}
	return s
}
