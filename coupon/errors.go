/*
errors.go - Error types for the allocation engine

ERROR CATEGORIES:
  1. Configuration errors - the prize pool or layout is inconsistent
  2. Batch errors - a batch does not map onto a configured box range
  3. Repair warnings - the adjacency heuristic gave up (soft failure)

Validation mismatches are NOT errors. The qc package reports them as FAIL
results because finding bad data is the expected outcome of a check.

USAGE:
  gen, err := assembler.Assemble(batchID, pool)
  if coupon.IsClientError(err) {
      // bad pool or unknown batch, nothing was produced
  }
  for _, w := range gen.Warnings {
      log.Warn().Err(w).Msg("repair did not converge")
  }
*/
package coupon

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned when the prize pool or layout is
	// internally inconsistent. Not retryable.
	ErrConfiguration = errors.New("invalid prize configuration")

	// ErrInvalidBatch is returned when a batch has no configured box range.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrRepairNotConverged marks a box whose adjacency repair hit its
	// pass limit with violations left.
	ErrRepairNotConverged = errors.New("adjacency repair did not converge")

	// ErrBatchNotFound is returned by stores when a batch does not exist.
	ErrBatchNotFound = errors.New("batch not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError lists every inconsistency found in a pool or layout.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid prize configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// InvalidBatchError reports a batch that cannot be mapped to boxes.
type InvalidBatchError struct {
	Batch  BatchID
	Reason string
	// NotFound is set when the batch does not exist at all.
	NotFound bool
}

func (e *InvalidBatchError) Error() string {
	return fmt.Sprintf("invalid batch %q: %s", e.Batch, e.Reason)
}

func (e *InvalidBatchError) Unwrap() []error {
	if e.NotFound {
		return []error{ErrInvalidBatch, ErrBatchNotFound}
	}
	return []error{ErrInvalidBatch}
}

// RepairNotConvergedWarning describes one box whose arrangement still has
// adjacent equal prizes, or whose multiset had to be forced back to size.
type RepairNotConvergedWarning struct {
	Box        int
	Passes     int
	Violations int
	// Degraded is set when the pad/truncate fallback rewrote the box.
	Degraded bool
}

func (w *RepairNotConvergedWarning) Error() string {
	msg := fmt.Sprintf("box %d: adjacency repair stopped after %d passes with %d violations",
		w.Box, w.Passes, w.Violations)
	if w.Degraded {
		msg += " (box contents forced back to template size)"
	}
	return msg
}

func (w *RepairNotConvergedWarning) Unwrap() error {
	return ErrRepairNotConverged
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is caused by the caller's input or
// configuration rather than by the engine.
func IsClientError(err error) bool {
	return (errors.Is(err, ErrConfiguration) || errors.Is(err, ErrInvalidBatch)) &&
		!IsNotFound(err)
}

// IsNotFound returns true if the error indicates a missing batch.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound)
}
