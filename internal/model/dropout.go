package model

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Dropout zeroes each activation with probability p during training and
// scales the survivors by 1/(1-p). In evaluation mode it is the identity.
//
// The mask is a constant tensor multiplied in with Tensor.Mul, so the
// autodiff tape routes gradients only through the kept activations.
type Dropout[B tensor.Backend] struct {
	p        float32
	training bool
	rng      *rand.Rand
	backend  B
}

// NewDropout creates a dropout layer in training mode.
func NewDropout[B tensor.Backend](p float32, seed int64, backend B) *Dropout[B] {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("dropout: probability must be in [0, 1), got %v", p))
	}
	return &Dropout[B]{
		p:        p,
		training: true,
		rng:      rand.New(rand.NewSource(seed)), //nolint:gosec // Dropout masks are not security-critical
		backend:  backend,
	}
}

// Forward applies the dropout mask.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !d.training || d.p == 0 {
		return input
	}
	scale := 1 / (1 - d.p)
	mask := make([]float32, input.NumElements())
	for i := range mask {
		if d.rng.Float32() >= d.p {
			mask[i] = scale
		}
	}
	maskTensor, err := tensor.FromSlice(mask, input.Shape(), d.backend)
	if err != nil {
		panic(fmt.Sprintf("dropout: %v", err))
	}
	return input.Mul(maskTensor)
}

// Parameters returns nil; dropout has no trainable parameters.
func (d *Dropout[B]) Parameters() []*nn.Parameter[B] {
	return nil
}

// SetTraining switches between training and evaluation mode.
func (d *Dropout[B]) SetTraining(training bool) {
	d.training = training
}

// String returns a string representation of the layer.
func (d *Dropout[B]) String() string {
	return fmt.Sprintf("Dropout(p=%.2f)", d.p)
}
