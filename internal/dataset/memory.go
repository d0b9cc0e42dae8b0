package dataset

import (
	"fmt"
	"math/rand"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// InMemory holds a fully materialized dataset.
type InMemory struct {
	Images [][]float32 // [num_samples][channels*height*width]
	Labels []int32     // [num_samples]

	channels, height, width int
	classes                 []string
}

// NewInMemory validates images and labels and wraps them as a Dataset.
func NewInMemory(images [][]float32, labels []int32, channels, height, width int, classes []string) (*InMemory, error) {
	if len(images) != len(labels) {
		return nil, errors.Errorf("image count (%d) != label count (%d)", len(images), len(labels))
	}
	if len(classes) == 0 {
		return nil, errors.New("at least one class is required")
	}
	d := &InMemory{
		Images:   images,
		Labels:   labels,
		channels: channels,
		height:   height,
		width:    width,
		classes:  classes,
	}
	stride := exampleSize(d)
	for i := range images {
		if len(images[i]) != stride {
			return nil, errors.Errorf("image %d has %d values, want %d", i, len(images[i]), stride)
		}
		if err := checkLabel(labels[i], len(classes)); err != nil {
			return nil, errors.WithMessagef(err, "image %d", i)
		}
	}
	return d, nil
}

// Len implements Dataset.
func (d *InMemory) Len() int {
	return len(d.Images)
}

// Example implements Dataset.
func (d *InMemory) Example(i int) ([]float32, int32, error) {
	if i < 0 || i >= len(d.Images) {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", i, len(d.Images))
	}
	return d.Images[i], d.Labels[i], nil
}

// Shape implements Dataset.
func (d *InMemory) Shape() (channels, height, width int) {
	return d.channels, d.height, d.width
}

// Classes implements Dataset.
func (d *InMemory) Classes() []string {
	return d.classes
}

// Split splits the dataset into train and validation sets.
//
// The last validationRatio fraction of examples goes to validation. Both halves
// share the underlying image slices.
func (d *InMemory) Split(validationRatio float32) (*InMemory, *InMemory) {
	splitIdx := int(float32(d.Len()) * (1.0 - validationRatio))
	train := *d
	train.Images, train.Labels = d.Images[:splitIdx], d.Labels[:splitIdx]
	val := *d
	val.Images, val.Labels = d.Images[splitIdx:], d.Labels[splitIdx:]
	return &train, &val
}

// Materialize reads every example of ds into memory.
func Materialize(ds Dataset) (*InMemory, error) {
	c, h, w := ds.Shape()
	images := make([][]float32, ds.Len())
	labels := make([]int32, ds.Len())
	for i := range images {
		pixels, label, err := ds.Example(i)
		if err != nil {
			return nil, errors.WithMessagef(err, "example %d", i)
		}
		images[i] = append([]float32(nil), pixels...)
		labels[i] = label
	}
	return NewInMemory(images, labels, c, h, w, ds.Classes())
}

// Synthetic is NewSynthetic for arguments known to be valid. It panics on
// error.
func Synthetic(n, channels, height, width, numClasses int, seed int64) *InMemory {
	return must.M1(NewSynthetic(n, channels, height, width, numClasses, seed))
}

// NewSynthetic creates a dataset of n random images with class-dependent
// patterns, for smoke tests and demos without downloads.
//
// Example i gets label i % numClasses. Each class brightens its own
// horizontal band on top of uniform noise, so a model can learn to separate
// them.
func NewSynthetic(n, channels, height, width, numClasses int, seed int64) (*InMemory, error) {
	if numClasses < 1 {
		return nil, errors.Errorf("synthetic dataset needs at least one class, got %d", numClasses)
	}
	if n < 0 || channels < 1 || height < 1 || width < 1 {
		return nil, errors.Errorf("invalid synthetic dataset shape: n=%d, %dx%dx%d", n, channels, height, width)
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // Deterministic synthetic data
	classes := make([]string, numClasses)
	for k := range classes {
		classes[k] = fmt.Sprintf("class_%d", k)
	}

	bandHeight := max(height/numClasses, 1)
	images := make([][]float32, n)
	labels := make([]int32, n)
	for i := range images {
		label := i % numClasses
		img := make([]float32, channels*height*width)
		for j := range img {
			img[j] = rng.Float32() * 0.2
		}
		top := (label * bandHeight) % height
		for c := 0; c < channels; c++ {
			for y := top; y < min(top+bandHeight, height); y++ {
				row := img[c*height*width+y*width : c*height*width+(y+1)*width]
				for x := range row {
					row[x] += 0.8
				}
			}
		}
		images[i] = img
		labels[i] = int32(label)
	}

	return &InMemory{
		Images:   images,
		Labels:   labels,
		channels: channels,
		height:   height,
		width:    width,
		classes:  classes,
	}, nil
}
