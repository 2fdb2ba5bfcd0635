/*
Package sqlite provides a SQLite-backed implementation of production.Store.

PURPOSE:
  Persists the prize pool, batch records, generated coupons, QC results and
  the production log. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

KEY TABLES:
  prize_config:    Prize tiers; only rows with is_active = 1 are read
  batches:         Production runs, one row per batch number
  coupons:         Generated coupons, one row per serial
  qc_validations:  One row per QC check run, details as JSON
  production_logs: Append-only log of what happened to each batch

ATOMIC REGENERATION:
  ReplaceCoupons deletes and re-inserts a batch's coupons inside a single
  transaction, in multi-row INSERT chunks. A concurrent QC run sees either
  the old batch or the new one, never a mix.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/coupons.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - production/store.go: Interface definitions
  - store/memory: In-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/coupon-engine/coupon"
	"github.com/warp/coupon-engine/production"
	"github.com/warp/coupon-engine/qc"
)

// insertChunk is the number of coupons per multi-row INSERT.
const insertChunk = 500

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements production.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ production.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prize_config (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		prize_amount INTEGER NOT NULL,
		total_coupons INTEGER NOT NULL,
		coupons_per_box INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	-- A prize value can be active only once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_prize_config_active
		ON prize_config(prize_amount) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS batches (
		batch_id TEXT PRIMARY KEY,
		batch_number INTEGER NOT NULL UNIQUE,
		operator_name TEXT NOT NULL,
		location TEXT NOT NULL,
		production_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coupons (
		coupon_number TEXT PRIMARY KEY,
		prize_amount INTEGER NOT NULL,
		prize_description TEXT,
		box_number INTEGER NOT NULL,
		batch_id TEXT NOT NULL REFERENCES batches(batch_id),
		is_winner BOOLEAN NOT NULL
	);

	-- QC and box listings read by batch, then box
	CREATE INDEX IF NOT EXISTS idx_coupons_batch_box
		ON coupons(batch_id, box_number);

	CREATE TABLE IF NOT EXISTS qc_validations (
		validation_id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL REFERENCES batches(batch_id),
		validation_type TEXT NOT NULL,
		validation_status TEXT NOT NULL,
		validation_details TEXT NOT NULL,
		validated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_qc_validations_batch
		ON qc_validations(batch_id, validated_at DESC);

	CREATE TABLE IF NOT EXISTS production_logs (
		log_id TEXT PRIMARY KEY,
		batch_id TEXT,
		action_type TEXT NOT NULL,
		action_description TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_production_logs_batch
		ON production_logs(batch_id, timestamp DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PRIZE POOL (production.PoolStore)
// =============================================================================

// ActivePool returns the active tiers, highest prize first.
func (s *Store) ActivePool(ctx context.Context) (coupon.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT prize_amount, total_coupons, coupons_per_box
		FROM prize_config
		WHERE is_active = 1
		ORDER BY prize_amount DESC
	`)
	if err != nil {
		return coupon.Pool{}, fmt.Errorf("failed to query prize config: %w", err)
	}
	defer rows.Close()

	var tiers []coupon.PrizeTier
	for rows.Next() {
		var t coupon.PrizeTier
		if err := rows.Scan(&t.Value, &t.TotalCount, &t.PerBoxCount); err != nil {
			return coupon.Pool{}, fmt.Errorf("failed to scan prize tier: %w", err)
		}
		tiers = append(tiers, t)
	}
	return coupon.NewPool(tiers...), rows.Err()
}

// ReplacePool deactivates the current tiers and inserts the new ones.
// Old rows are kept for history.
func (s *Store) ReplacePool(ctx context.Context, pool coupon.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE prize_config SET is_active = 0 WHERE is_active = 1"); err != nil {
		return fmt.Errorf("failed to deactivate prize config: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	for _, t := range pool.Tiers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO prize_config (prize_amount, total_coupons, coupons_per_box, is_active, created_at)
			VALUES (?, ?, ?, 1, ?)
		`, t.Value, t.TotalCount, t.PerBoxCount, now)
		if err != nil {
			return fmt.Errorf("failed to insert prize tier %d: %w", t.Value, err)
		}
	}

	return tx.Commit()
}

// =============================================================================
// BATCHES (production.BatchStore)
// =============================================================================

// CreateBatch inserts a new batch.
func (s *Store) CreateBatch(ctx context.Context, b production.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches
		(batch_id, batch_number, operator_name, location, production_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(b.ID),
		b.Number,
		b.OperatorName,
		b.Location,
		b.ProductionDate.UTC().Format(timeLayout),
		string(b.Status),
		b.CreatedAt.UTC().Format(timeLayout),
		b.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return production.ErrDuplicateBatch
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

const batchColumns = `batch_id, batch_number, operator_name, location, production_date, status, created_at, updated_at`

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, id coupon.BatchID) (*production.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM batches WHERE batch_id = ?", string(id))
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches returns all batches ordered by number.
func (s *Store) ListBatches(ctx context.Context) ([]production.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+batchColumns+" FROM batches ORDER BY batch_number")
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var batches []production.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateBatchStatus sets a batch's lifecycle status.
func (s *Store) UpdateBatchStatus(ctx context.Context, id coupon.BatchID, status production.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE batches SET status = ?, updated_at = ? WHERE batch_id = ?",
		string(status), time.Now().UTC().Format(timeLayout), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &coupon.InvalidBatchError{Batch: id, Reason: "no such batch", NotFound: true}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (production.Batch, error) {
	var (
		b                              production.Batch
		id, status                     string
		produced, createdAt, updatedAt string
	)
	err := row.Scan(&id, &b.Number, &b.OperatorName, &b.Location, &produced, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return b, err
	}
	if err != nil {
		return b, fmt.Errorf("failed to scan batch: %w", err)
	}
	b.ID = coupon.BatchID(id)
	b.Status = production.BatchStatus(status)
	b.ProductionDate, _ = time.Parse(timeLayout, produced)
	b.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	b.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return b, nil
}

// =============================================================================
// COUPONS (production.CouponStore)
// =============================================================================

// ReplaceCoupons swaps all coupons of a batch in one transaction.
func (s *Store) ReplaceCoupons(ctx context.Context, id coupon.BatchID, records []coupon.CouponRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM coupons WHERE batch_id = ?", string(id)); err != nil {
		return fmt.Errorf("failed to delete old coupons: %w", err)
	}

	for start := 0; start < len(records); start += insertChunk {
		end := min(start+insertChunk, len(records))
		if err := insertCoupons(ctx, tx, records[start:end]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertCoupons(ctx context.Context, tx *sql.Tx, chunk []coupon.CouponRecord) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO coupons
		(coupon_number, prize_amount, prize_description, box_number, batch_id, is_winner)
		VALUES `)

	args := make([]any, 0, len(chunk)*6)
	for i, c := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, c.Serial, c.Value, nullString(c.Label), c.Box, string(c.BatchID), c.IsWinner)
	}

	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("coupon serial already used by another batch: %w", err)
		}
		return fmt.Errorf("failed to insert coupons: %w", err)
	}
	return nil
}

const couponColumns = `coupon_number, prize_amount, prize_description, box_number, batch_id, is_winner`

// LoadCoupons returns a batch's coupons ordered by serial.
func (s *Store) LoadCoupons(ctx context.Context, q production.CouponQuery) ([]coupon.CouponRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + couponColumns + " FROM coupons WHERE batch_id = ?"
	args := []any{string(q.BatchID)}
	if q.Box != 0 {
		query += " AND box_number = ?"
		args = append(args, q.Box)
	}
	query += " ORDER BY length(coupon_number), coupon_number"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coupons: %w", err)
	}
	defer rows.Close()

	var coupons []coupon.CouponRecord
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// GetCoupon retrieves a coupon by serial.
func (s *Store) GetCoupon(ctx context.Context, serial string) (*coupon.CouponRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanCoupon(s.db.QueryRowContext(ctx,
		"SELECT "+couponColumns+" FROM coupons WHERE coupon_number = ?", serial))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCoupon(row scanner) (coupon.CouponRecord, error) {
	var (
		c       coupon.CouponRecord
		label   sql.NullString
		batchID string
	)
	err := row.Scan(&c.Serial, &c.Value, &label, &c.Box, &batchID, &c.IsWinner)
	if err == sql.ErrNoRows {
		return c, err
	}
	if err != nil {
		return c, fmt.Errorf("failed to scan coupon: %w", err)
	}
	c.Label = label.String
	c.BatchID = coupon.BatchID(batchID)
	return c, nil
}

// =============================================================================
// QC VALIDATIONS (production.ValidationStore)
// =============================================================================

// SaveValidations stores the checks of one QC run atomically.
func (s *Store) SaveValidations(ctx context.Context, records []production.ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO qc_validations
			(validation_id, batch_id, validation_type, validation_status, validation_details, validated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.ID, string(r.BatchID), string(r.Type), string(r.Status), string(r.Details),
			r.ValidatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("failed to insert validation: %w", err)
		}
	}

	return tx.Commit()
}

// ListValidations returns the newest run first, checks in saved order.
func (s *Store) ListValidations(ctx context.Context, id coupon.BatchID) ([]production.ValidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT validation_id, batch_id, validation_type, validation_status, validation_details, validated_at
		FROM qc_validations
		WHERE batch_id = ?
		ORDER BY validated_at DESC, rowid ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query validations: %w", err)
	}
	defer rows.Close()

	var out []production.ValidationRecord
	for rows.Next() {
		var (
			r                             production.ValidationRecord
			batchID, typ, status, details string
			validatedAt                   string
		)
		if err := rows.Scan(&r.ID, &batchID, &typ, &status, &details, &validatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation: %w", err)
		}
		r.BatchID = coupon.BatchID(batchID)
		r.Type = qc.CheckType(typ)
		r.Status = qc.Status(status)
		r.Details = []byte(details)
		r.ValidatedAt, _ = time.Parse(timeLayout, validatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// PRODUCTION LOG (production.LogStore)
// =============================================================================

// AppendLog adds a log entry. Append-only.
func (s *Store) AppendLog(ctx context.Context, e production.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO production_logs (log_id, batch_id, action_type, action_description, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, nullString(string(e.BatchID)), string(e.Action), e.Description, e.At.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// ListLogs returns entries newest first.
func (s *Store) ListLogs(ctx context.Context, id coupon.BatchID) ([]production.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT log_id, batch_id, action_type, action_description, timestamp FROM production_logs"
	var args []any
	if id != "" {
		query += " WHERE batch_id = ?"
		args = append(args, string(id))
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var out []production.LogEntry
	for rows.Next() {
		var (
			e          production.LogEntry
			batchID    sql.NullString
			action, at string
		)
		if err := rows.Scan(&e.ID, &batchID, &action, &e.Description, &at); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.BatchID = coupon.BatchID(batchID.String)
		e.Action = production.LogAction(action)
		e.At, _ = time.Parse(timeLayout, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"qc_validations", "production_logs", "coupons", "batches", "prize_config"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
