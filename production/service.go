package production

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/qc"
)

// Service runs generation and QC against a Store.
type Service struct {
	store     Store
	assembler *coupon.Assembler
	metrics   *Metrics
	log       zerolog.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithMetrics records generation and QC outcomes.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service. The assembler's resolver is replaced per
// call by one backed by the batch records, so only its layout, arranger,
// sources and worker count matter.
func NewService(store Store, assembler *coupon.Assembler, opts ...Option) *Service {
	s := &Service{
		store:     store,
		assembler: assembler,
		log:       zerolog.Nop(),
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the layout batches are generated with.
func (s *Service) Layout() coupon.Layout {
	return s.assembler.Layout
}

// =============================================================================
// PRIZE POOL
// =============================================================================

// Pool returns the active prize pool.
func (s *Service) Pool(ctx context.Context) (coupon.Pool, error) {
	return s.store.ActivePool(ctx)
}

// Summary reports totals and validity of the active pool.
func (s *Service) Summary(ctx context.Context) (coupon.Summary, error) {
	pool, err := s.store.ActivePool(ctx)
	if err != nil {
		return coupon.Summary{}, err
	}
	return coupon.Summarize(pool, s.Layout()), nil
}

// SetPool validates and activates a new pool. Existing coupons are not
// touched; regenerate batches to apply it.
func (s *Service) SetPool(ctx context.Context, pool coupon.Pool) error {
	if err := pool.Validate(s.Layout()); err != nil {
		return err
	}
	if err := s.store.ReplacePool(ctx, pool); err != nil {
		return fmt.Errorf("failed to save prize pool: %w", err)
	}

	sum := coupon.Summarize(pool, s.Layout())
	s.log.Info().
		Int("tiers", len(pool.Tiers)).
		Int("winning_coupons", sum.WinningCoupons).
		Str("total_payout", sum.TotalPayout.String()).
		Msg("prize pool updated")
	s.appendLog(ctx, "", ActionPoolUpdated, fmt.Sprintf(
		"%d tiers, %d winning coupons, payout %s", len(pool.Tiers), sum.WinningCoupons, sum.TotalPayout))
	return nil
}

// SeedPool activates pool only when the store has no active tiers yet.
// Returns true when it seeded.
func (s *Service) SeedPool(ctx context.Context, pool coupon.Pool) (bool, error) {
	current, err := s.store.ActivePool(ctx)
	if err != nil {
		return false, err
	}
	if len(current.Tiers) > 0 {
		return false, nil
	}
	if err := s.SetPool(ctx, pool); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// BATCHES
// =============================================================================

// CreateBatch registers a new pending batch.
func (s *Service) CreateBatch(ctx context.Context, in NewBatch) (*Batch, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := s.Layout().BatchBoxes(in.Number); err != nil {
		return nil, err
	}

	now := s.now()
	produced := in.ProductionDate
	if produced.IsZero() {
		produced = now
	}
	b := Batch{
		ID:             coupon.BatchID(uuid.NewString()),
		Number:         in.Number,
		OperatorName:   in.OperatorName,
		Location:       in.Location,
		ProductionDate: produced,
		Status:         BatchPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, err
	}

	s.log.Info().Str("batch_id", string(b.ID)).Int("batch_number", b.Number).Msg("batch created")
	s.appendLog(ctx, b.ID, ActionBatchCreated, fmt.Sprintf(
		"batch %d created by %s at %s", b.Number, b.OperatorName, b.Location))
	return &b, nil
}

// GetBatch returns a batch or a not-found error.
func (s *Service) GetBatch(ctx context.Context, id coupon.BatchID) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, notFound(id)
	}
	return b, nil
}

// ListBatches returns every batch ordered by number.
func (s *Service) ListBatches(ctx context.Context) ([]Batch, error) {
	return s.store.ListBatches(ctx)
}

// resolver maps the batch's ID onto the boxes its number owns.
func (s *Service) resolver(b *Batch) coupon.BatchResolver {
	l := s.Layout()
	return coupon.ResolverFunc(func(id coupon.BatchID) (coupon.BoxRange, error) {
		if id != b.ID {
			return coupon.BoxRange{}, notFound(id)
		}
		r, err := l.BatchBoxes(b.Number)
		if err != nil {
			return coupon.BoxRange{}, &coupon.InvalidBatchError{
				Batch:  id,
				Reason: fmt.Sprintf("batch number %d has no boxes in this layout", b.Number),
			}
		}
		return r, nil
	})
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateBatch assembles the batch from a fresh pool snapshot and replaces
// its coupons. Nothing is written when assembly fails. Repair warnings do
// not fail the call; they are logged and returned.
func (s *Service) GenerateBatch(ctx context.Context, id coupon.BatchID) (*GenerateResult, error) {
	start := time.Now()

	gen, b, err := s.generate(ctx, id)
	if err != nil {
		s.metrics.RecordGeneration(time.Since(start), 0, 0, 0, err)
		s.log.Error().Err(err).Str("batch_id", string(id)).Msg("generation failed")
		return nil, err
	}
	s.metrics.RecordGeneration(time.Since(start), gen.Winners(), len(gen.Coupons), len(gen.Warnings), nil)

	for _, w := range gen.Warnings {
		s.log.Warn().
			Str("batch_id", string(id)).
			Int("box", w.Box).
			Int("passes", w.Passes).
			Int("violations", w.Violations).
			Bool("degraded", w.Degraded).
			Msg("adjacency repair did not converge")
		s.appendLog(ctx, id, ActionRepairWarn, w.Error())
	}

	s.log.Info().
		Str("batch_id", string(id)).
		Int("batch_number", b.Number).
		Int("coupons", len(gen.Coupons)).
		Int("winners", gen.Winners()).
		Str("payout", gen.Payout().String()).
		Dur("took", time.Since(start)).
		Msg("batch generated")
	s.appendLog(ctx, id, ActionGenerated, fmt.Sprintf(
		"%d coupons in boxes %d-%d, %d winners, payout %s",
		len(gen.Coupons), gen.Boxes.First, gen.Boxes.Last, gen.Winners(), gen.Payout()))

	return &GenerateResult{Batch: *b, Generation: gen, Warnings: gen.Warnings}, nil
}

func (s *Service) generate(ctx context.Context, id coupon.BatchID) (*coupon.Generation, *Batch, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	pool, err := s.store.ActivePool(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read prize pool: %w", err)
	}

	a := *s.assembler
	a.Resolver = s.resolver(b)
	gen, err := a.Assemble(id, pool)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.ReplaceCoupons(ctx, id, gen.Coupons); err != nil {
		return nil, nil, fmt.Errorf("failed to persist coupons: %w", err)
	}
	if err := s.store.UpdateBatchStatus(ctx, id, BatchGenerated); err != nil {
		return nil, nil, fmt.Errorf("failed to update batch status: %w", err)
	}
	b.Status = BatchGenerated
	b.UpdatedAt = s.now()
	return gen, b, nil
}

// =============================================================================
// QC
// =============================================================================

// ValidateBatch runs every QC check against the persisted coupons and a
// fresh pool snapshot, stores one record per check and moves the batch to
// qc_passed or qc_failed.
func (s *Service) ValidateBatch(ctx context.Context, id coupon.BatchID) (*ValidateResult, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	boxes, err := s.resolver(b).Resolve(id)
	if err != nil {
		return nil, err
	}

	pool, err := s.store.ActivePool(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read prize pool: %w", err)
	}
	coupons, err := s.store.LoadCoupons(ctx, CouponQuery{BatchID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to load coupons: %w", err)
	}
	if len(coupons) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCoupons, id)
	}

	report := qc.Run(id, qc.Input{
		Pool:    pool,
		Layout:  s.Layout(),
		Boxes:   boxes,
		Coupons: coupons,
	})

	now := s.now()
	records := make([]ValidationRecord, 0, len(qc.CheckTypes))
	for _, rec := range report.Records() {
		details, err := json.Marshal(rec.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s details: %w", rec.Type, err)
		}
		records = append(records, ValidationRecord{
			ID:          uuid.NewString(),
			BatchID:     id,
			Type:        rec.Type,
			Status:      rec.Status,
			Details:     details,
			ValidatedAt: now,
		})
	}
	if err := s.store.SaveValidations(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to save validations: %w", err)
	}

	status := BatchQCFailed
	if report.Passed() {
		status = BatchQCPassed
	}
	if err := s.store.UpdateBatchStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("failed to update batch status: %w", err)
	}
	b.Status = status
	b.UpdatedAt = now

	s.metrics.RecordQC(report)
	event := s.log.Info()
	if !report.Passed() {
		event = s.log.Warn()
	}
	event.
		Str("batch_id", string(id)).
		Str("distribution", string(report.Validations.Distribution.Status)).
		Str("box_composition", string(report.Validations.BoxComposition.Status)).
		Str("consecutive", string(report.Validations.Consecutive.Status)).
		Msg("batch validated")
	s.appendLog(ctx, id, ActionQC, fmt.Sprintf("QC %s: %s / %s / %s", status,
		report.Validations.Distribution.Message,
		report.Validations.BoxComposition.Message,
		report.Validations.Consecutive.Message))

	return &ValidateResult{Batch: *b, Report: report}, nil
}

// Validations lists stored QC results for a batch, newest first.
func (s *Service) Validations(ctx context.Context, id coupon.BatchID) ([]ValidationRecord, error) {
	if _, err := s.GetBatch(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListValidations(ctx, id)
}

// =============================================================================
// COUPONS AND REPORTS
// =============================================================================

// Coupons lists a batch's coupons. A non-zero box must belong to the batch.
func (s *Service) Coupons(ctx context.Context, id coupon.BatchID, box int) ([]coupon.CouponRecord, error) {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if box != 0 {
		if err := s.Layout().ValidateBoxForBatch(b.Number, box); err != nil {
			return nil, err
		}
	}
	return s.store.LoadCoupons(ctx, CouponQuery{BatchID: id, Box: box})
}

// Coupon looks up a single coupon by serial.
func (s *Service) Coupon(ctx context.Context, serial string) (*coupon.CouponRecord, error) {
	c, err := s.store.GetCoupon(ctx, serial)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCouponNotFound, serial)
	}
	return c, nil
}

// WriteReport renders the production sheet of a generated batch.
func (s *Service) WriteReport(ctx context.Context, w io.Writer, id coupon.BatchID) error {
	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	coupons, err := s.store.LoadCoupons(ctx, CouponQuery{BatchID: id})
	if err != nil {
		return fmt.Errorf("failed to load coupons: %w", err)
	}
	if len(coupons) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCoupons, id)
	}
	return WriteReport(w, *b, coupons)
}

// Logs lists production log entries. An empty id lists all batches.
func (s *Service) Logs(ctx context.Context, id coupon.BatchID) ([]LogEntry, error) {
	return s.store.ListLogs(ctx, id)
}

// appendLog never fails the calling operation; a lost log line is logged.
func (s *Service) appendLog(ctx context.Context, id coupon.BatchID, action LogAction, desc string) {
	err := s.store.AppendLog(ctx, LogEntry{
		ID:          uuid.NewString(),
		BatchID:     id,
		Action:      action,
		Description: desc,
		At:          s.now(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("action", string(action)).Msg("failed to append production log")
	}
}
