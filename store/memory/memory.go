// Package memory provides an in-memory production.Store for tests and dry
// runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/production"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	pool        coupon.Pool
	batches     map[coupon.BatchID]production.Batch
	numbers     map[int]coupon.BatchID
	coupons     map[coupon.BatchID][]coupon.CouponRecord
	serials     map[string]coupon.CouponRecord
	validations []production.ValidationRecord
	logs        []production.LogEntry
}

var _ production.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		batches: make(map[coupon.BatchID]production.Batch),
		numbers: make(map[int]coupon.BatchID),
		coupons: make(map[coupon.BatchID][]coupon.CouponRecord),
		serials: make(map[string]coupon.CouponRecord),
	}
}

// =============================================================================
// POOL
// =============================================================================

func (m *Memory) ActivePool(_ context.Context) (coupon.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return coupon.NewPool(m.pool.Tiers...), nil
}

func (m *Memory) ReplacePool(_ context.Context, pool coupon.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool = coupon.NewPool(pool.Tiers...)
	return nil
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b production.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.numbers[b.Number]; taken {
		return production.ErrDuplicateBatch
	}
	m.batches[b.ID] = b
	m.numbers[b.Number] = b.ID
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id coupon.BatchID) (*production.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) ListBatches(_ context.Context) ([]production.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]production.Batch, 0, len(m.batches))
	for _, b := range m.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) UpdateBatchStatus(_ context.Context, id coupon.BatchID, status production.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return &coupon.InvalidBatchError{Batch: id, Reason: "no such batch", NotFound: true}
	}
	b.Status = status
	m.batches[id] = b
	return nil
}

// =============================================================================
// COUPONS
// =============================================================================

// ReplaceCoupons swaps the batch's coupons under the write lock, so readers
// never see a mix.
func (m *Memory) ReplaceCoupons(_ context.Context, id coupon.BatchID, records []coupon.CouponRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, old := range m.coupons[id] {
		delete(m.serials, old.Serial)
	}

	cp := make([]coupon.CouponRecord, len(records))
	copy(cp, records)
	sort.SliceStable(cp, func(i, j int) bool { return serialLess(cp[i].Serial, cp[j].Serial) })
	for _, c := range cp {
		m.serials[c.Serial] = c
	}
	m.coupons[id] = cp
	return nil
}

func (m *Memory) LoadCoupons(_ context.Context, q production.CouponQuery) ([]coupon.CouponRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []coupon.CouponRecord
	for _, c := range m.coupons[q.BatchID] {
		if q.Box == 0 || c.Box == q.Box {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetCoupon(_ context.Context, serial string) (*coupon.CouponRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.serials[serial]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// =============================================================================
// VALIDATIONS AND LOGS
// =============================================================================

func (m *Memory) SaveValidations(_ context.Context, records []production.ValidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validations = append(m.validations, records...)
	return nil
}

func (m *Memory) ListValidations(_ context.Context, id coupon.BatchID) ([]production.ValidationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest run first, checks of one run in the order they were saved.
	var out []production.ValidationRecord
	for _, v := range m.validations {
		if v.BatchID == id {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ValidatedAt.After(out[j].ValidatedAt) })
	return out, nil
}

func (m *Memory) AppendLog(_ context.Context, e production.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, id coupon.BatchID) ([]production.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []production.LogEntry
	for i := len(m.logs) - 1; i >= 0; i-- {
		if id == "" || m.logs[i].BatchID == id {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func serialLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
