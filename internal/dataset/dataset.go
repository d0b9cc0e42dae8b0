// Package dataset provides labeled image datasets and the batch loader that
// feeds them to a model.
//
// Images are stored channel-first (CHW) as float32, the layout Conv2D expects.
package dataset

import (
	"github.com/pkg/errors"
)

// Dataset is a finite, randomly addressable collection of labeled images.
type Dataset interface {
	// Len returns the number of examples.
	Len() int

	// Example returns the CHW pixels and the label of example i.
	// The returned slice must not be modified by the caller.
	Example(i int) ([]float32, int32, error)

	// Shape returns the per-example image dimensions.
	Shape() (channels, height, width int)

	// Classes returns the class names, indexed by label.
	Classes() []string
}

// ErrBadBatchSize is returned when a loader is configured with a batch size below 1.
var ErrBadBatchSize = errors.New("batch size must be at least 1")

// exampleSize returns the number of float32 values of one example of ds.
func exampleSize(ds Dataset) int {
	c, h, w := ds.Shape()
	return c * h * w
}

// checkLabel validates that a label indexes into classes.
func checkLabel(label int32, numClasses int) error {
	if label < 0 || int(label) >= numClasses {
		return errors.Errorf("label %d out of range [0, %d)", label, numClasses)
	}
	return nil
}
