/*
Package factory provides JSON to Go prize pool conversion.

PURPOSE:
  Converts JSON prize pool definitions into coupon.Pool values. The
  marketing team can describe a campaign's prizes in a file, and the
  factory fills in the derivable counts and validates the result against
  the layout before anything reaches the store.

JSON SCHEMA:
  {
    "tiers": [
      {"prize_amount": 100000, "total_coupons": 50, "coupons_per_box": 5},
      {"prize_amount": 50000, "total_coupons": 100},
      {"prize_amount": 5000, "coupons_per_box": 100}
    ]
  }

DEFAULTS:
  - coupons_per_box omitted: total_coupons / box_count
  - total_coupons omitted: coupons_per_box * box_count
  A tier with neither is rejected.

USAGE:
  f := factory.NewPoolFactory(coupon.DefaultLayout())
  pool, err := f.ParsePool(data)

  // Preset
  pool := factory.StandardPool()

SEE ALSO:
  - coupon/types.go: Pool and PrizeTier
  - production/service.go: SetPool, SeedPool
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/warp/coupon-engine/coupon"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PoolJSON is the JSON representation of a prize pool.
type PoolJSON struct {
	Tiers []TierJSON `json:"tiers" validate:"dive"`
}

// TierJSON is one prize tier. Counts are pointers so an omitted field can
// be told apart from an explicit zero.
type TierJSON struct {
	PrizeAmount   int64 `json:"prize_amount" validate:"gt=0"`
	TotalCoupons  *int  `json:"total_coupons,omitempty" validate:"omitempty,gte=0"`
	CouponsPerBox *int  `json:"coupons_per_box,omitempty" validate:"omitempty,gte=0"`
}

// =============================================================================
// FACTORY
// =============================================================================

// PoolFactory parses prize pools for one layout.
type PoolFactory struct {
	layout   coupon.Layout
	validate *validator.Validate
}

// NewPoolFactory creates a factory for the given layout.
func NewPoolFactory(l coupon.Layout) *PoolFactory {
	return &PoolFactory{layout: l, validate: validator.New()}
}

// ParsePool parses and validates a JSON prize pool.
func (f *PoolFactory) ParsePool(data []byte) (coupon.Pool, error) {
	var pj PoolJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return coupon.Pool{}, fmt.Errorf("invalid pool JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadPoolFile reads and parses a pool file.
func (f *PoolFactory) LoadPoolFile(path string) (coupon.Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return coupon.Pool{}, fmt.Errorf("failed to read pool file: %w", err)
	}
	return f.ParsePool(data)
}

// FromJSON converts the decoded schema into a validated pool.
func (f *PoolFactory) FromJSON(pj PoolJSON) (coupon.Pool, error) {
	if err := f.validate.Struct(pj); err != nil {
		return coupon.Pool{}, &coupon.ConfigurationError{Problems: []string{err.Error()}}
	}

	tiers := make([]coupon.PrizeTier, 0, len(pj.Tiers))
	var problems []string
	for _, tj := range pj.Tiers {
		t, err := f.tier(tj)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		tiers = append(tiers, t)
	}
	if len(problems) > 0 {
		return coupon.Pool{}, &coupon.ConfigurationError{Problems: problems}
	}

	pool := coupon.NewPool(tiers...)
	if err := pool.Validate(f.layout); err != nil {
		return coupon.Pool{}, err
	}
	return pool, nil
}

func (f *PoolFactory) tier(tj TierJSON) (coupon.PrizeTier, error) {
	t := coupon.PrizeTier{Value: tj.PrizeAmount}
	boxes := f.layout.BoxCount

	switch {
	case tj.TotalCoupons != nil && tj.CouponsPerBox != nil:
		t.TotalCount, t.PerBoxCount = *tj.TotalCoupons, *tj.CouponsPerBox
	case tj.TotalCoupons != nil:
		t.TotalCount = *tj.TotalCoupons
		if boxes <= 0 || t.TotalCount%boxes != 0 {
			return t, fmt.Errorf("prize %d: %d coupons cannot be split over %d boxes",
				t.Value, t.TotalCount, boxes)
		}
		t.PerBoxCount = t.TotalCount / boxes
	case tj.CouponsPerBox != nil:
		t.PerBoxCount = *tj.CouponsPerBox
		t.TotalCount = t.PerBoxCount * boxes
	default:
		return t, fmt.Errorf("prize %d: total_coupons or coupons_per_box is required", t.Value)
	}
	return t, nil
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardPoolJSON is the reference campaign: 1,900 winning coupons out of
// 10,000, identical in every box.
const StandardPoolJSON = `{
  "tiers": [
    {"prize_amount": 100000, "total_coupons": 50,   "coupons_per_box": 5},
    {"prize_amount": 50000,  "total_coupons": 100,  "coupons_per_box": 10},
    {"prize_amount": 20000,  "total_coupons": 250,  "coupons_per_box": 25},
    {"prize_amount": 10000,  "total_coupons": 500,  "coupons_per_box": 50},
    {"prize_amount": 5000,   "total_coupons": 1000, "coupons_per_box": 100}
  ]
}`

// StandardPool returns the reference campaign for the default layout.
func StandardPool() coupon.Pool {
	pool, err := NewPoolFactory(coupon.DefaultLayout()).ParsePool([]byte(StandardPoolJSON))
	if err != nil {
		panic(fmt.Sprintf("standard pool preset is invalid: %v", err))
	}
	return pool
}

// ToJSON renders a pool in the factory schema.
func ToJSON(p coupon.Pool) ([]byte, error) {
	pj := PoolJSON{Tiers: make([]TierJSON, 0, len(p.Tiers))}
	for _, t := range p.Sorted() {
		total, perBox := t.TotalCount, t.PerBoxCount
		pj.Tiers = append(pj.Tiers, TierJSON{
			PrizeAmount:   t.Value,
			TotalCoupons:  &total,
			CouponsPerBox: &perBox,
		})
	}
	return json.MarshalIndent(pj, "", "  ")
}
