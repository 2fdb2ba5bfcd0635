package coupon_test

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/coupon-engine/coupon"
)

func seededAssembler(seed uint64) *coupon.Assembler {
	a := coupon.NewAssembler(coupon.DefaultLayout())
	a.Sources = coupon.SeededSources(seed)
	return a
}

// =============================================================================
// BATCH SCENARIOS
// =============================================================================

func TestAssemble_Batch1StandardPool(t *testing.T) {
	// GIVEN: The standard pool, 1,000 coupons per box, 5 boxes per batch
	// WHEN: Generating batch 1
	// THEN: 5,000 coupons, serials 00001-05000, boxes 1-5, 950 winners,
	//       identical composition per box, no adjacent equal prizes

	gen, err := seededAssembler(2024).Assemble("1", standardPool())
	require.NoError(t, err)
	require.NoError(t, gen.Err())

	require.Len(t, gen.Coupons, 5000)
	assert.Equal(t, coupon.BoxRange{First: 1, Last: 5}, gen.Boxes)
	assert.Equal(t, "00001", gen.Coupons[0].Serial)
	assert.Equal(t, "05000", gen.Coupons[4999].Serial)

	seen := make(map[string]bool, len(gen.Coupons))
	perBox := make(map[int]map[int64]int)
	for i, c := range gen.Coupons {
		assert.Equal(t, fmt.Sprintf("%05d", i+1), c.Serial)
		assert.False(t, seen[c.Serial], "duplicate serial %s", c.Serial)
		seen[c.Serial] = true

		assert.Equal(t, i/1000+1, c.Box)
		assert.Equal(t, coupon.BatchID("1"), c.BatchID)
		assert.Equal(t, c.Value > 0, c.IsWinner)
		if c.Value == 0 {
			assert.Equal(t, coupon.DefaultNonWinningLabel, c.Label)
		} else {
			assert.Empty(t, c.Label)
		}

		if perBox[c.Box] == nil {
			perBox[c.Box] = make(map[int64]int)
		}
		perBox[c.Box][c.Value]++
	}

	assert.Equal(t, 950, gen.Winners())
	assert.Equal(t, 4050, len(gen.Coupons)-gen.Winners())
	assert.True(t, gen.Payout().Equal(decimal.NewFromInt(12_500_000)), "payout %s", gen.Payout())

	for box := 1; box <= 5; box++ {
		assert.Equal(t, map[int64]int{
			100000: 5, 50000: 10, 20000: 25, 10000: 50, 5000: 100, 0: 810,
		}, perBox[box], "box %d", box)
	}

	values := make([]int64, len(gen.Coupons))
	for i, c := range gen.Coupons {
		values[i] = c.Value
	}
	assert.Equal(t, 0, coupon.Violations(values), "including box boundaries")
}

func TestAssemble_Batch2SerialRange(t *testing.T) {
	gen, err := seededAssembler(1).Assemble("2", standardPool())
	require.NoError(t, err)

	require.Len(t, gen.Coupons, 5000)
	assert.Equal(t, "05001", gen.Coupons[0].Serial)
	assert.Equal(t, 6, gen.Coupons[0].Box)
	assert.Equal(t, "10000", gen.Coupons[4999].Serial)
	assert.Equal(t, 10, gen.Coupons[4999].Box)
}

func TestAssemble_PerTierCountMatchesBatchShare(t *testing.T) {
	pool := standardPool()
	l := coupon.DefaultLayout()

	for batch := 1; batch <= l.BatchCount(); batch++ {
		gen, err := seededAssembler(uint64(batch)).Assemble(coupon.BatchID(strconv.Itoa(batch)), pool)
		require.NoError(t, err)

		counts := make(map[int64]int)
		for _, c := range gen.Coupons {
			counts[c.Value]++
		}
		for _, tier := range pool.Tiers {
			assert.Equal(t, tier.TotalCount/l.BatchCount(), counts[tier.Value],
				"batch %d prize %d", batch, tier.Value)
		}
	}
}

func TestAssemble_SameSeedReproducesBatch(t *testing.T) {
	a, err := seededAssembler(99).Assemble("1", standardPool())
	require.NoError(t, err)

	b := seededAssembler(99)
	b.Workers = 1
	again, err := b.Assemble("1", standardPool())
	require.NoError(t, err)

	assert.Equal(t, a.Coupons, again.Coupons, "worker count must not change the output")
}

func TestAssemble_DefaultStrategyHasNoWarnings(t *testing.T) {
	for seed := uint64(0); seed < 200; seed++ {
		gen, err := seededAssembler(seed).Assemble("1", standardPool())
		require.NoError(t, err)
		require.Empty(t, gen.Warnings, "seed %d", seed)
	}
}

func TestAssemble_InterleaveStrategy(t *testing.T) {
	a := seededAssembler(5)
	a.Arranger = coupon.Interleave{}

	gen, err := a.Assemble("2", standardPool())
	require.NoError(t, err)
	assert.Empty(t, gen.Warnings)
	assert.Equal(t, 950, gen.Winners())
}

// =============================================================================
// ERROR PATHS
// =============================================================================

func TestAssemble_UnknownBatch(t *testing.T) {
	for _, id := range []coupon.BatchID{"0", "3", "batch-one", ""} {
		gen, err := seededAssembler(1).Assemble(id, standardPool())

		assert.Nil(t, gen, "batch %q", id)
		var batchErr *coupon.InvalidBatchError
		require.ErrorAs(t, err, &batchErr, "batch %q", id)
		assert.Equal(t, id, batchErr.Batch)
		assert.True(t, coupon.IsClientError(err))
		assert.False(t, coupon.IsNotFound(err))
	}
}

func TestAssemble_ResolverOutsideUniverse(t *testing.T) {
	a := seededAssembler(1)
	a.Resolver = coupon.ResolverFunc(func(coupon.BatchID) (coupon.BoxRange, error) {
		return coupon.BoxRange{First: 9, Last: 12}, nil
	})

	gen, err := a.Assemble("x", standardPool())

	assert.Nil(t, gen)
	assert.ErrorIs(t, err, coupon.ErrInvalidBatch)
	assert.Contains(t, err.Error(), "outside 1-10")
}

func TestAssemble_ConfigurationErrorProducesNothing(t *testing.T) {
	pool := coupon.NewPool(coupon.PrizeTier{Value: 20000, TotalCount: 251, PerBoxCount: 25})

	gen, err := seededAssembler(1).Assemble("1", pool)

	assert.Nil(t, gen)
	assert.ErrorIs(t, err, coupon.ErrConfiguration)
}

func TestAssemble_NonConvergenceIsReported(t *testing.T) {
	// GIVEN: A layout where one tier fills three of four slots in every box
	l := coupon.Layout{BoxCount: 2, BoxSize: 4, BoxesPerBatch: 1, DigitWidth: 1, NonWinningLabel: "-"}
	pool := coupon.NewPool(coupon.PrizeTier{Value: 7, TotalCount: 6, PerBoxCount: 3})

	a := coupon.NewAssembler(l)
	a.Sources = coupon.SeededSources(3)

	// WHEN: Assembling batch 2
	gen, err := a.Assemble("2", pool)

	// THEN: Coupons are still produced, but the warning is surfaced
	require.NoError(t, err)
	require.Len(t, gen.Coupons, 4)
	assert.Equal(t, "5", gen.Coupons[0].Serial)
	require.Len(t, gen.Warnings, 1)
	assert.Equal(t, 2, gen.Warnings[0].Box)
	assert.Equal(t, coupon.DefaultMaxPasses, gen.Warnings[0].Passes)
	assert.ErrorIs(t, gen.Err(), coupon.ErrRepairNotConverged)
}
