/*
repair.go - Shuffle and adjacency repair strategies

PURPOSE:
  Turns a box template into a printable order: uniformly shuffled, with no
  two serially adjacent coupons carrying the same non-zero prize.

STRATEGIES:
  SwapRepair (default):
    Fisher-Yates shuffle, then repeated left-to-right passes. A violation at
    (i, i+1) swaps i+1 with the nearest later position holding a different
    value, or failing that the first differing position from the start of
    the box. Stops after a clean pass
    or MaxPasses. Not guaranteed to converge: a tier holding more than half
    of the box can never be separated.

  Interleave:
    Orders the winning coupons with a randomized greedy that only picks a
    value if the rest can still be arranged, then scatters the non-winning
    coupons across the gaps at random. Never leaves a violation when a valid
    order exists. When none exists, non-winning coupons are spent on the
    unavoidable gaps first and the remainder is reported.

POST-CONDITION:
  Both strategies return a permutation of the template. If that ever fails,
  the box is padded with zeros / truncated back to size and flagged as
  Degraded so the caller can surface it.
*/
package coupon

import "sort"

// DefaultMaxPasses bounds SwapRepair.
const DefaultMaxPasses = 100

// Arrangement is the printable order for one box.
type Arrangement struct {
	Values     []int64
	Passes     int
	Violations int
	Converged  bool
	Degraded   bool
}

// Arranger produces a box order from a template.
type Arranger interface {
	Arrange(t Template, rng Source) Arrangement
}

// Violations counts adjacent pairs sharing the same non-zero value.
func Violations(values []int64) int {
	n := 0
	for i := 0; i+1 < len(values); i++ {
		if values[i] != 0 && values[i] == values[i+1] {
			n++
		}
	}
	return n
}

// =============================================================================
// SWAP REPAIR
// =============================================================================

// SwapRepair is the bounded shuffle-then-swap heuristic.
type SwapRepair struct {
	MaxPasses int
}

func (s SwapRepair) Arrange(t Template, rng Source) Arrangement {
	maxPasses := s.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}

	values := Shuffle(t, rng)
	passes := 0
	for passes < maxPasses {
		if !repairPass(values) {
			break
		}
		passes++
	}

	return finish(t, values, passes)
}

// repairPass runs one left-to-right scan and reports whether it found any
// violation.
func repairPass(v []int64) bool {
	found := false
	for i := 0; i+1 < len(v); i++ {
		if v[i] == 0 || v[i] != v[i+1] {
			continue
		}
		found = true

		j := i + 2
		for j < len(v) && v[j] == v[i] {
			j++
		}
		if j < len(v) {
			v[i+1], v[j] = v[j], v[i+1]
			continue
		}
		// Scan from the front. Taking the nearest earlier slot would pick the
		// value a forward swap just moved in and undo it on the next pass.
		for k := 0; k < i; k++ {
			if v[k] != v[i] {
				v[i+1], v[k] = v[k], v[i+1]
				break
			}
		}
	}
	return found
}

// =============================================================================
// INTERLEAVE
// =============================================================================

// Interleave is the feasibility-checked arrangement strategy.
type Interleave struct{}

func (Interleave) Arrange(t Template, rng Source) Arrangement {
	counts := make(map[int64]int)
	zeros := 0
	for _, v := range t {
		if v == 0 {
			zeros++
			continue
		}
		counts[v]++
	}

	distinct := make([]int64, 0, len(counts))
	for v := range counts {
		distinct = append(distinct, v)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] > distinct[j] })

	remaining := len(t) - zeros
	winners := make([]int64, 0, remaining)
	var prev int64
	for remaining > 0 {
		v := pickNext(distinct, counts, prev, remaining, rng)
		winners = append(winners, v)
		counts[v]--
		remaining--
		prev = v
	}

	// gaps[g] holds the zeros printed before winners[g]; gaps[len] trails.
	gaps := make([]int, len(winners)+1)
	free := zeros
	for i := 1; i < len(winners); i++ {
		if winners[i-1] == winners[i] && free > 0 {
			gaps[i]++
			free--
		}
	}

	// Uniform composition of the remaining zeros over all gaps.
	markers := make([]bool, len(winners)+free)
	for i := 0; i < len(winners); i++ {
		markers[i] = true
	}
	for i := len(markers) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		markers[i], markers[j] = markers[j], markers[i]
	}
	g := 0
	for _, isWinner := range markers {
		if isWinner {
			g++
			continue
		}
		gaps[g]++
	}

	values := make([]int64, 0, len(t))
	for i, w := range winners {
		for z := 0; z < gaps[i]; z++ {
			values = append(values, 0)
		}
		values = append(values, w)
	}
	for z := 0; z < gaps[len(winners)]; z++ {
		values = append(values, 0)
	}

	return finish(t, values, 1)
}

// pickNext chooses the next winning value. A value is feasible when the
// coupons left after it can still be ordered with no equal neighbours; among
// feasible values the choice is weighted by remaining count. When nothing is
// feasible the most frequent value different from prev is taken, leaving a
// gap that must be filled with a non-winning coupon.
func pickNext(distinct []int64, counts map[int64]int, prev int64, remaining int, rng Source) int64 {
	half := remaining / 2
	ceilHalf := (remaining + 1) / 2

	var feasible []int64
	weight := 0
	for _, x := range distinct {
		if x == prev || counts[x] == 0 || counts[x] > ceilHalf {
			continue
		}
		ok := true
		for _, y := range distinct {
			if y != x && counts[y] > half {
				ok = false
				break
			}
		}
		if ok {
			feasible = append(feasible, x)
			weight += counts[x]
		}
	}

	if len(feasible) > 0 {
		r := rng.IntN(weight)
		for _, x := range feasible {
			r -= counts[x]
			if r < 0 {
				return x
			}
		}
	}

	var best int64
	for _, x := range distinct {
		if x == prev || counts[x] == 0 {
			continue
		}
		if best == 0 || counts[x] > counts[best] {
			best = x
		}
	}
	if best == 0 {
		best = prev
	}
	return best
}

// =============================================================================
// POST-CONDITION
// =============================================================================

func finish(t Template, values []int64, passes int) Arrangement {
	a := Arrangement{Values: values, Passes: passes}
	if !sameMultiset(t, values) {
		a.Values = enforceSize(values, len(t))
		a.Degraded = true
	}
	a.Violations = Violations(a.Values)
	a.Converged = a.Violations == 0 && !a.Degraded
	return a
}

// enforceSize pads with non-winning entries or truncates to size.
func enforceSize(values []int64, size int) []int64 {
	out := make([]int64, 0, size)
	out = append(out, values...)
	for len(out) < size {
		out = append(out, 0)
	}
	return out[:size]
}
