package coupon

import (
	"math/rand/v2"
)

// Source is the randomness a single box arrangement draws from.
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

// SourceFunc hands out an independent Source per box so boxes can be
// arranged in parallel without sharing generator state.
type SourceFunc func(box int) Source

// SeededSources derives one PCG stream per box from a fixed seed. The same
// seed always reproduces the same batch.
func SeededSources(seed uint64) SourceFunc {
	return func(box int) Source {
		return rand.New(rand.NewPCG(seed, uint64(box)))
	}
}

// RandomSources seeds every box from the runtime's global generator.
func RandomSources() SourceFunc {
	return func(int) Source {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// Shuffle returns a uniformly permuted copy of values (Fisher-Yates).
func Shuffle(values []int64, rng Source) []int64 {
	out := make([]int64, len(values))
	copy(out, values)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
