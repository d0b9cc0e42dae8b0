package dataset

import (
	"io"
	"math/rand"
	"time"

	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// Batch represents a mini-batch for training.
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B] // [size, channels, height, width]
	Labels *tensor.Tensor[int32, B]   // [size]
	Size   int

	// Indices are the dataset positions of the examples, in batch order.
	Indices []int
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	BatchSize int  // Examples per batch (>= 1)
	Shuffle   bool // Reshuffle on every traversal
	Seed      int64 // Shuffle seed; 0 seeds from the clock
	DropLast  bool // Drop the trailing partial batch
}

// Loader iterates a Dataset in fixed-size batches.
//
// A traversal yields NumBatches batches and then io.EOF. Reset starts a new
// traversal, with a fresh permutation when shuffling is enabled. Only the last
// batch of a traversal may hold fewer than BatchSize examples.
type Loader[B tensor.Backend] struct {
	ds      Dataset
	cfg     LoaderConfig
	backend B

	rng   *rand.Rand
	order []int
	pos   int
}

// NewLoader creates a loader over ds and positions it at the start of the
// first traversal.
func NewLoader[B tensor.Backend](ds Dataset, cfg LoaderConfig, backend B) (*Loader[B], error) {
	if cfg.BatchSize < 1 {
		return nil, errors.Wrapf(ErrBadBatchSize, "got %d", cfg.BatchSize)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	l := &Loader[B]{
		ds:      ds,
		cfg:     cfg,
		backend: backend,
		rng:     rand.New(rand.NewSource(seed)), //nolint:gosec // Shuffling order is not security-critical
		order:   make([]int, ds.Len()),
	}
	l.Reset()
	return l, nil
}

// Dataset returns the underlying dataset.
func (l *Loader[B]) Dataset() Dataset {
	return l.ds
}

// BatchSize returns the configured batch size.
func (l *Loader[B]) BatchSize() int {
	return l.cfg.BatchSize
}

// NumBatches returns the number of batches of one traversal.
func (l *Loader[B]) NumBatches() int {
	n := l.ds.Len()
	if l.cfg.DropLast {
		return n / l.cfg.BatchSize
	}
	return (n + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Reset restarts the traversal.
func (l *Loader[B]) Reset() {
	for i := range l.order {
		l.order[i] = i
	}
	if l.cfg.Shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
}

// Next returns the next batch, or io.EOF once the traversal is exhausted.
func (l *Loader[B]) Next() (*Batch[B], error) {
	n := len(l.order)
	remaining := n - l.pos
	if remaining <= 0 || (l.cfg.DropLast && remaining < l.cfg.BatchSize) {
		return nil, io.EOF
	}
	size := min(l.cfg.BatchSize, remaining)
	indices := l.order[l.pos : l.pos+size]
	l.pos += size

	batch, err := l.collate(indices)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// collate copies the given examples into freshly allocated batch tensors.
func (l *Loader[B]) collate(indices []int) (*Batch[B], error) {
	c, h, w := l.ds.Shape()
	size := len(indices)
	stride := c * h * w

	imagesRaw, err := tensor.NewRaw(tensor.Shape{size, c, h, w}, tensor.Float32, l.backend.Device())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create images tensor")
	}
	labelsRaw, err := tensor.NewRaw(tensor.Shape{size}, tensor.Int32, l.backend.Device())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create labels tensor")
	}

	imagesData := imagesRaw.AsFloat32()
	labelsData := labelsRaw.AsInt32()
	numClasses := len(l.ds.Classes())
	for j, idx := range indices {
		pixels, label, err := l.ds.Example(idx)
		if err != nil {
			return nil, errors.WithMessagef(err, "example %d", idx)
		}
		if len(pixels) != stride {
			return nil, errors.Errorf("example %d has %d values, want %d", idx, len(pixels), stride)
		}
		if err := checkLabel(label, numClasses); err != nil {
			return nil, errors.WithMessagef(err, "example %d", idx)
		}
		copy(imagesData[j*stride:(j+1)*stride], pixels)
		labelsData[j] = label
	}

	return &Batch[B]{
		Images:  tensor.New[float32, B](imagesRaw, l.backend),
		Labels:  tensor.New[int32, B](labelsRaw, l.backend),
		Size:    size,
		Indices: append([]int(nil), indices...),
	}, nil
}
