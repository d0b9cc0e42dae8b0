package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Subset is a view of selected examples of another dataset.
type Subset struct {
	Dataset
	indices []int
}

// NewSubset returns a view of ds restricted to indices, in that order.
func NewSubset(ds Dataset, indices []int) *Subset {
	return &Subset{Dataset: ds, indices: indices}
}

// Len implements Dataset.
func (s *Subset) Len() int {
	return len(s.indices)
}

// Example implements Dataset.
func (s *Subset) Example(i int) ([]float32, int32, error) {
	if i < 0 || i >= len(s.indices) {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", i, len(s.indices))
	}
	return s.Dataset.Example(s.indices[i])
}

// Limit returns the first n examples of ds, or ds itself when n <= 0 or ds
// is not larger than n.
func Limit(ds Dataset, n int) Dataset {
	if n <= 0 || ds.Len() <= n {
		return ds
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return NewSubset(ds, indices)
}

// Shuffle returns a copy of d with its examples in a seeded random order.
// Pixel slices are shared.
func (d *InMemory) Shuffle(seed int64) *InMemory {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // Shuffling order is not security-critical
	out := *d
	out.Images = append([][]float32(nil), d.Images...)
	out.Labels = append([]int32(nil), d.Labels...)
	rng.Shuffle(len(out.Images), func(i, j int) {
		out.Images[i], out.Images[j] = out.Images[j], out.Images[i]
		out.Labels[i], out.Labels[j] = out.Labels[j], out.Labels[i]
	})
	return &out
}
