package production_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/production"
	"github.com/warp/coupon-engine/qc"
	"github.com/warp/coupon-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

func standardPool() coupon.Pool {
	return coupon.NewPool(
		coupon.PrizeTier{Value: 100000, TotalCount: 50, PerBoxCount: 5},
		coupon.PrizeTier{Value: 50000, TotalCount: 100, PerBoxCount: 10},
		coupon.PrizeTier{Value: 20000, TotalCount: 250, PerBoxCount: 25},
		coupon.PrizeTier{Value: 10000, TotalCount: 500, PerBoxCount: 50},
		coupon.PrizeTier{Value: 5000, TotalCount: 1000, PerBoxCount: 100},
	)
}

type fixture struct {
	svc     *production.Service
	store   *memory.Memory
	metrics *production.Metrics
	logs    *bytes.Buffer
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	store := memory.New()
	a := coupon.NewAssembler(coupon.DefaultLayout())
	a.Sources = coupon.SeededSources(2025)
	metrics := production.NewMetrics("test")
	logs := &bytes.Buffer{}

	svc := production.NewService(store, a,
		production.WithMetrics(metrics),
		production.WithLogger(zerolog.New(logs)),
		production.WithClock(func() time.Time { return testNow }),
	)
	_, err := svc.SeedPool(context.Background(), standardPool())
	require.NoError(t, err)

	return fixture{svc: svc, store: store, metrics: metrics, logs: logs}
}

func (f fixture) createBatch(t *testing.T, number int) *production.Batch {
	t.Helper()
	b, err := f.svc.CreateBatch(context.Background(), production.NewBatch{
		Number:       number,
		OperatorName: "Siti",
		Location:     "Line B",
	})
	require.NoError(t, err)
	return b
}

// =============================================================================
// PRIZE POOL
// =============================================================================

func TestService_SeedPoolOnlyWhenEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seeded, err := f.svc.SeedPool(ctx, coupon.NewPool(coupon.PrizeTier{Value: 1, TotalCount: 10, PerBoxCount: 1}))
	require.NoError(t, err)
	assert.False(t, seeded)

	pool, err := f.svc.Pool(ctx)
	require.NoError(t, err)
	assert.Len(t, pool.Tiers, 5)
}

func TestService_Summary(t *testing.T) {
	f := newFixture(t)

	sum, err := f.svc.Summary(context.Background())

	require.NoError(t, err)
	assert.True(t, sum.Valid)
	assert.Equal(t, 1900, sum.WinningCoupons)
	assert.Equal(t, 10000, sum.UniverseSize)
}

func TestService_SetPoolRejectsInvalidPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.SetPool(ctx, coupon.NewPool(coupon.PrizeTier{Value: 100000, TotalCount: 55, PerBoxCount: 5}))

	assert.ErrorIs(t, err, coupon.ErrConfiguration)
	assert.True(t, production.IsClientError(err))
	pool, err := f.svc.Pool(ctx)
	require.NoError(t, err)
	assert.Len(t, pool.Tiers, 5, "active pool must be untouched")
}

// =============================================================================
// BATCHES
// =============================================================================

func TestService_CreateBatch(t *testing.T) {
	f := newFixture(t)

	b := f.createBatch(t, 1)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, production.BatchPending, b.Status)
	assert.Equal(t, testNow, b.ProductionDate, "defaults to now")

	_, err := f.svc.CreateBatch(context.Background(), production.NewBatch{
		Number: 1, OperatorName: "Siti", Location: "Line B",
	})
	assert.ErrorIs(t, err, production.ErrDuplicateBatch)
}

func TestService_CreateBatchRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateBatch(ctx, production.NewBatch{Number: 1})
	assert.ErrorIs(t, err, production.ErrInvalidInput)

	_, err = f.svc.CreateBatch(ctx, production.NewBatch{Number: 3, OperatorName: "x", Location: "y"})
	assert.ErrorIs(t, err, coupon.ErrInvalidBatch)
	assert.True(t, production.IsClientError(err))
}

func TestService_GetBatchNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetBatch(context.Background(), "missing")

	assert.True(t, production.IsNotFound(err))
	assert.False(t, production.IsClientError(err))
}

// =============================================================================
// GENERATION
// =============================================================================

func TestService_GenerateBatch2(t *testing.T) {
	// GIVEN: Batch number 2 registered with a UUID id
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 2)

	// WHEN: Generating it
	res, err := f.svc.GenerateBatch(ctx, b.ID)

	// THEN: Boxes 6-10 are persisted and the batch is marked generated
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, production.BatchGenerated, res.Batch.Status)
	assert.Equal(t, coupon.BoxRange{First: 6, Last: 10}, res.Generation.Boxes)

	stored, err := f.svc.Coupons(ctx, b.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 5000)
	assert.Equal(t, "05001", stored[0].Serial)
	assert.Equal(t, b.ID, stored[0].BatchID)

	got, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.BatchGenerated, got.Status)

	series, err := testutil.GatherAndCount(f.metrics.Registry(), "test_generation_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
	assert.Contains(t, f.logs.String(), "batch generated")
}

func TestService_GenerateUnknownBatchWritesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateBatch(context.Background(), "missing")

	assert.True(t, production.IsNotFound(err))
	logs, err := f.svc.Logs(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestService_GenerateWithBrokenPoolWritesNothing(t *testing.T) {
	// GIVEN: A pool that became inconsistent in the store
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)
	require.NoError(t, f.store.ReplacePool(ctx, coupon.NewPool(
		coupon.PrizeTier{Value: 100000, TotalCount: 55, PerBoxCount: 5},
	)))

	// WHEN: Generating
	_, err := f.svc.GenerateBatch(ctx, b.ID)

	// THEN: Configuration error, no coupons, status unchanged
	assert.ErrorIs(t, err, coupon.ErrConfiguration)
	coupons, err := f.svc.Coupons(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, coupons)
	got, err := f.svc.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, production.BatchPending, got.Status)
}

func TestService_RegenerationReplacesCoupons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)

	_, err := f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)

	stored, err := f.svc.Coupons(ctx, b.ID, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 5000)
}

// =============================================================================
// QC
// =============================================================================

func TestService_ValidateGeneratedBatchPasses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)
	_, err := f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)

	res, err := f.svc.ValidateBatch(ctx, b.ID)

	require.NoError(t, err)
	assert.True(t, res.Report.Passed())
	assert.Equal(t, production.BatchQCPassed, res.Batch.Status)

	records, err := f.svc.Validations(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, ct := range qc.CheckTypes {
		assert.Equal(t, ct, records[i].Type)
		assert.Equal(t, qc.StatusPass, records[i].Status)
	}

	var details qc.DistributionResult
	require.NoError(t, json.Unmarshal(records[0].Details, &details))
	assert.Equal(t, 25, details.Expected[100000])
}

func TestService_ValidateTamperedBatchFails(t *testing.T) {
	// GIVEN: A generated batch where box 2 lost three 50,000 coupons
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)
	_, err := f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)

	coupons, err := f.svc.Coupons(ctx, b.ID, 0)
	require.NoError(t, err)
	changed := 0
	for i := range coupons {
		if coupons[i].Box == 2 && coupons[i].Value == 50000 && changed < 3 {
			coupons[i].Value = 0
			coupons[i].IsWinner = false
			changed++
		}
	}
	require.NoError(t, f.store.ReplaceCoupons(ctx, b.ID, coupons))

	// WHEN: Running QC
	res, err := f.svc.ValidateBatch(ctx, b.ID)

	// THEN: Composition and distribution fail, the batch is qc_failed
	require.NoError(t, err)
	assert.False(t, res.Report.Passed())
	assert.Equal(t, production.BatchQCFailed, res.Batch.Status)
	require.Len(t, res.Report.Validations.BoxComposition.Issues, 1)
	assert.Equal(t, 2, res.Report.Validations.BoxComposition.Issues[0].BoxNumber)
	assert.Equal(t, qc.StatusFail, res.Report.Validations.Distribution.Status)
	assert.Contains(t, f.logs.String(), `"level":"warn"`)
}

func TestService_ValidateUsesFreshPool(t *testing.T) {
	// GIVEN: Batch generated, then the pool is changed
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)
	_, err := f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)

	pool := standardPool()
	pool.Tiers[0] = coupon.PrizeTier{Value: 100000, TotalCount: 60, PerBoxCount: 6}
	require.NoError(t, f.svc.SetPool(ctx, pool))

	// WHEN: Running QC
	res, err := f.svc.ValidateBatch(ctx, b.ID)

	// THEN: The new pool is what the batch is judged against
	require.NoError(t, err)
	assert.Equal(t, 30, res.Report.Validations.Distribution.Expected[100000])
	assert.False(t, res.Report.Passed())
}

func TestService_ValidateBeforeGeneration(t *testing.T) {
	f := newFixture(t)
	b := f.createBatch(t, 1)

	_, err := f.svc.ValidateBatch(context.Background(), b.ID)

	assert.ErrorIs(t, err, production.ErrNoCoupons)
}

// =============================================================================
// COUPONS AND REPORTS
// =============================================================================

func TestService_CouponsByBox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)
	_, err := f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)

	box, err := f.svc.Coupons(ctx, b.ID, 4)
	require.NoError(t, err)
	require.Len(t, box, 1000)
	assert.Equal(t, "03001", box[0].Serial)

	_, err = f.svc.Coupons(ctx, b.ID, 7)
	assert.ErrorIs(t, err, coupon.ErrInvalidBatch)
	assert.Contains(t, err.Error(), "box 7 is not part of batch 1")

	c, err := f.svc.Coupon(ctx, "00010")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Box)

	_, err = f.svc.Coupon(ctx, "99999")
	assert.True(t, production.IsNotFound(err))
}

func TestService_WriteReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)
	_, err := f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteReport(ctx, &buf, b.ID))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "No Batch: 1", lines[0])
	assert.Equal(t, "Nama Operator: Siti", lines[1])
	assert.Equal(t, "Tanggal / Jam: 10-Mar-2025 / 08:30", lines[3])
	assert.Equal(t, "No Box | No Kupon | Nominal | Keterangan", lines[5])
	assert.Len(t, lines, 6+5000)
	assert.True(t, strings.HasPrefix(lines[6], "1 | 00001 | "))
}

func TestService_LogsRecordHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createBatch(t, 1)
	_, err := f.svc.GenerateBatch(ctx, b.ID)
	require.NoError(t, err)
	_, err = f.svc.ValidateBatch(ctx, b.ID)
	require.NoError(t, err)

	logs, err := f.svc.Logs(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, production.ActionQC, logs[0].Action)
	assert.Equal(t, production.ActionGenerated, logs[1].Action)
	assert.Equal(t, production.ActionBatchCreated, logs[2].Action)
}
