// Package model defines the image classifiers: a baseline CNN trained from
// scratch and a transfer model that trains a new head on top of a frozen,
// pretrained VGG-style backbone.
package model

import (
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// Classifier maps a batch of images [N, C, H, W] to logits [N, classes].
//
// Classifiers are nn.Modules, so they can be saved and loaded with nn.Save
// and nn.Load.
type Classifier[B tensor.Backend] interface {
	nn.Module[B]

	// Trainable returns the parameters the optimizer updates. It is a
	// subset of Parameters.
	Trainable() []*nn.Parameter[B]

	// Train enables dropout.
	Train()

	// Eval disables dropout, making Forward deterministic.
	Eval()

	// Training reports whether the classifier is in training mode.
	Training() bool

	// NumClasses is the width of the logits.
	NumClasses() int

	fmt.Stringer
}

// Kind names a classifier variant.
type Kind string

const (
	KindBaseline Kind = "baseline"
	KindTransfer Kind = "transfer"
)

// ParseKind validates a variant name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindBaseline, KindTransfer:
		return k, nil
	default:
		return "", errors.Errorf("unknown model %q (want %q or %q)", s, KindBaseline, KindTransfer)
	}
}

// CountParameters returns the number of scalar values in params.
func CountParameters[B tensor.Backend](params []*nn.Parameter[B]) int {
	total := 0
	for _, param := range params {
		total += param.Tensor().Shape().NumElements()
	}
	return total
}

// namedParam ties a parameter to its state dict key.
type namedParam[B tensor.Backend] struct {
	name  string
	param *nn.Parameter[B]
}

// convParams names the weight and bias of a Conv2D under prefix.
func convParams[B tensor.Backend](prefix string, conv *nn.Conv2D[B]) []namedParam[B] {
	params := conv.Parameters()
	named := []namedParam[B]{{prefix + ".weight", params[0]}}
	if len(params) > 1 {
		named = append(named, namedParam[B]{prefix + ".bias", params[1]})
	}
	return named
}

// linearParams names the weight and bias of a Linear under prefix.
func linearParams[B tensor.Backend](prefix string, l *nn.Linear[B]) []namedParam[B] {
	named := []namedParam[B]{{prefix + ".weight", l.Weight()}}
	if l.Bias() != nil {
		named = append(named, namedParam[B]{prefix + ".bias", l.Bias()})
	}
	return named
}

func stateDict[B tensor.Backend](named []namedParam[B]) map[string]*tensor.RawTensor {
	sd := make(map[string]*tensor.RawTensor, len(named))
	for _, np := range named {
		sd[np.name] = np.param.Tensor().Raw()
	}
	return sd
}

// loadStateDict copies every named parameter from sd. All keys must be
// present with matching shape and dtype; extra keys are ignored.
func loadStateDict[B tensor.Backend](named []namedParam[B], sd map[string]*tensor.RawTensor) error {
	for _, np := range named {
		raw, ok := sd[np.name]
		if !ok {
			return errors.Errorf("missing %s in state dict", np.name)
		}
		if err := copyInto(np.param, raw); err != nil {
			return errors.WithMessage(err, np.name)
		}
	}
	return nil
}

// copyInto overwrites a parameter's values with raw.
func copyInto[B tensor.Backend](param *nn.Parameter[B], raw *tensor.RawTensor) error {
	want := param.Tensor().Shape()
	if !raw.Shape().Equal(want) {
		return errors.Errorf("shape mismatch: expected %v, got %v", want, raw.Shape())
	}
	if raw.DType() != tensor.Float32 {
		return errors.Errorf("dtype mismatch: expected float32, got %v", raw.DType())
	}
	copy(param.Tensor().Raw().AsFloat32(), raw.AsFloat32())
	return nil
}

func params[B tensor.Backend](named []namedParam[B]) []*nn.Parameter[B] {
	out := make([]*nn.Parameter[B], len(named))
	for i, np := range named {
		out[i] = np.param
	}
	return out
}

// tapeBackend is implemented by autodiff backends.
type tapeBackend interface {
	GetTape() *autodiff.GradientTape
}

// withoutTape runs fn with gradient recording paused, if backend records.
// Nothing computed inside fn receives gradients.
func withoutTape[B tensor.Backend](backend B, fn func()) {
	if tb, ok := any(backend).(tapeBackend); ok {
		tape := tb.GetTape()
		if tape.IsRecording() {
			tape.StopRecording()
			defer tape.StartRecording()
		}
	}
	fn()
}

// flatten reshapes [N, ...] to [N, features].
func flatten[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	features := 1
	for _, dim := range shape[1:] {
		features *= dim
	}
	return x.Reshape(shape[0], features)
}
