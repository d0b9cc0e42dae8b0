package model

import (
	"testing"

	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
)

func TestDropout_Training(t *testing.T) {
	backend := newBackend()
	d := NewDropout(0.5, 42, backend)

	x := tensor.Ones[float32](tensor.Shape{100, 100}, backend)
	out := d.Forward(x).Data()

	zeros := 0
	for _, v := range out {
		switch v {
		case 0:
			zeros++
		default:
			assert.InDelta(t, 2.0, v, 1e-6, "survivors are scaled by 1/(1-p)")
		}
	}
	assert.InDelta(t, 0.5, float64(zeros)/float64(len(out)), 0.05)
}

func TestDropout_EvalIsIdentity(t *testing.T) {
	backend := newBackend()
	d := NewDropout(0.3, 1, backend)
	d.SetTraining(false)

	x := tensor.Randn[float32](tensor.Shape{4, 8}, backend)
	assert.Same(t, x, d.Forward(x))
}

func TestDropout_ZeroProbability(t *testing.T) {
	backend := newBackend()
	d := NewDropout(0, 1, backend)
	x := tensor.Randn[float32](tensor.Shape{2, 3}, backend)
	assert.Same(t, x, d.Forward(x))
}

func TestDropout_SeededMasksRepeat(t *testing.T) {
	backend := newBackend()
	x := tensor.Ones[float32](tensor.Shape{8, 8}, backend)

	a := NewDropout(0.5, 7, backend).Forward(x).Data()
	b := NewDropout(0.5, 7, backend).Forward(x).Data()
	assert.Equal(t, a, b)
}

func TestNewDropout_InvalidProbability(t *testing.T) {
	assert.Panics(t, func() { NewDropout(1, 0, newBackend()) })
	assert.Panics(t, func() { NewDropout(-0.1, 0, newBackend()) })
	assert.Contains(t, NewDropout(0.25, 0, newBackend()).String(), "p=0.25")
}
