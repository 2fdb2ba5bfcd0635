/*
assembler.go - Batch assembly

PURPOSE:
  Maps the box template onto the concrete boxes and serial numbers a batch
  owns and produces the coupon records for persistence.

SERIAL NUMBERING:
  Box b holds serials (b-1)*BoxSize+1 .. b*BoxSize, zero padded to
  Layout.DigitWidth. With the default layout batch 1 is 00001-05000 in
  boxes 1-5 and batch 2 is 05001-10000 in boxes 6-10.

CONCURRENCY:
  Boxes are arranged in parallel. Each box gets its own Source from the
  SourceFunc and writes to its own slot, so nothing is shared except the
  read-only template.

BOX BOUNDARIES:
  The last coupon of box b and the first of box b+1 are serially adjacent
  too. After the parallel phase the boxes are stitched in order: if the
  first value of a box repeats the previous box's last prize, it is swapped
  with the nearest position inside the same box that keeps every local pair
  clean. Composition per box is unchanged and the result stays a pure
  function of the per-box sources.

ERRORS:
  Configuration and batch errors are returned before any box is arranged;
  no partial output is ever produced. Repair non-convergence is collected
  per box into Generation.Warnings.
*/
package coupon

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Assembler generates the coupons of one batch.
type Assembler struct {
	Layout   Layout
	Arranger Arranger
	Sources  SourceFunc
	Resolver BatchResolver
	// Workers caps parallel box arrangement. Zero means GOMAXPROCS.
	Workers int
}

// NewAssembler wires an assembler with the default strategy and fresh
// randomness. Batch IDs are resolved by the numbering formula, so the ID
// must be the decimal batch number.
func NewAssembler(l Layout) *Assembler {
	return &Assembler{
		Layout:   l,
		Arranger: SwapRepair{MaxPasses: DefaultMaxPasses},
		Sources:  RandomSources(),
		Resolver: NumberResolver(l),
	}
}

// NumberResolver resolves batch IDs that are plain batch numbers.
func NumberResolver(l Layout) BatchResolver {
	return ResolverFunc(func(batch BatchID) (BoxRange, error) {
		n, err := strconv.Atoi(string(batch))
		if err != nil {
			return BoxRange{}, &InvalidBatchError{Batch: batch, Reason: "not a batch number"}
		}
		r, err := l.BatchBoxes(n)
		if err != nil {
			var ib *InvalidBatchError
			if errors.As(err, &ib) {
				ib.Batch = batch
			}
			return BoxRange{}, err
		}
		return r, nil
	})
}

// Generation is the output of one Assemble call.
type Generation struct {
	BatchID  BatchID                      `json:"batch_id"`
	Boxes    BoxRange                     `json:"boxes"`
	Coupons  []CouponRecord               `json:"coupons"`
	Warnings []*RepairNotConvergedWarning `json:"-"`
}

// Winners counts the winning coupons.
func (g *Generation) Winners() int {
	n := 0
	for _, c := range g.Coupons {
		if c.IsWinner {
			n++
		}
	}
	return n
}

// Payout sums the prize money in the batch.
func (g *Generation) Payout() decimal.Decimal {
	total := decimal.Zero
	for _, c := range g.Coupons {
		if c.Value > 0 {
			total = total.Add(decimal.NewFromInt(c.Value))
		}
	}
	return total
}

// Err joins the repair warnings, or returns nil when every box converged.
func (g *Generation) Err() error {
	if len(g.Warnings) == 0 {
		return nil
	}
	errs := make([]error, len(g.Warnings))
	for i, w := range g.Warnings {
		errs[i] = w
	}
	return errors.Join(errs...)
}

// Assemble generates every coupon of the batch from a fresh pool snapshot.
func (a *Assembler) Assemble(batch BatchID, pool Pool) (*Generation, error) {
	tmpl, err := BuildBoxTemplate(pool, a.Layout)
	if err != nil {
		return nil, err
	}

	if a.Resolver == nil {
		return nil, &InvalidBatchError{Batch: batch, Reason: "no batch resolver configured"}
	}
	boxes, err := a.Resolver.Resolve(batch)
	if err != nil {
		return nil, err
	}
	if boxes.First < 1 || boxes.Last > a.Layout.BoxCount || boxes.Len() <= 0 {
		return nil, &InvalidBatchError{
			Batch:  batch,
			Reason: fmt.Sprintf("boxes %d-%d are outside 1-%d", boxes.First, boxes.Last, a.Layout.BoxCount),
		}
	}

	arranger := a.Arranger
	if arranger == nil {
		arranger = SwapRepair{}
	}
	sources := a.Sources
	if sources == nil {
		sources = RandomSources()
	}
	workers := a.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	arranged := make([]Arrangement, boxes.Len())
	var g errgroup.Group
	g.SetLimit(workers)
	for i, box := range boxes.Boxes() {
		g.Go(func() error {
			arranged[i] = arranger.Arrange(tmpl, sources(box))
			return nil
		})
	}
	_ = g.Wait()

	gen := &Generation{
		BatchID: batch,
		Boxes:   boxes,
		Coupons: make([]CouponRecord, 0, boxes.Len()*a.Layout.BoxSize),
	}
	var prevLast int64
	for i, box := range boxes.Boxes() {
		arr := arranged[i]
		if i > 0 && !separate(prevLast, arr.Values) {
			arr.Violations++
			arr.Converged = false
		}
		if len(arr.Values) > 0 {
			prevLast = arr.Values[len(arr.Values)-1]
		}
		if !arr.Converged {
			gen.Warnings = append(gen.Warnings, &RepairNotConvergedWarning{
				Box:        box,
				Passes:     arr.Passes,
				Violations: arr.Violations,
				Degraded:   arr.Degraded,
			})
		}
		gen.Coupons = append(gen.Coupons, a.records(batch, box, arr.Values)...)
	}
	return gen, nil
}

// separate makes v[0] differ from the previous box's last prize.
func separate(prev int64, v []int64) bool {
	if prev == 0 || len(v) == 0 || v[0] != prev {
		return true
	}
	for j := 1; j < len(v); j++ {
		if v[j] == prev {
			continue
		}
		v[0], v[j] = v[j], v[0]
		if cleanPair(v, 0) && cleanPair(v, j-1) && cleanPair(v, j) {
			return true
		}
		v[0], v[j] = v[j], v[0]
	}
	return false
}

func cleanPair(v []int64, i int) bool {
	if i < 0 || i+1 >= len(v) {
		return true
	}
	return v[i] == 0 || v[i] != v[i+1]
}

func (a *Assembler) records(batch BatchID, box int, values []int64) []CouponRecord {
	first := a.Layout.FirstSerial(box)
	out := make([]CouponRecord, len(values))
	for i, v := range values {
		rec := CouponRecord{
			Serial:   a.Layout.FormatSerial(first + i),
			Value:    v,
			Box:      box,
			BatchID:  batch,
			IsWinner: v > 0,
		}
		if v == 0 {
			rec.Label = a.Layout.NonWinningLabel
		}
		out[i] = rec
	}
	return out
}
