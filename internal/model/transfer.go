package model

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// TransferConfig configures the fine-tuned model.
type TransferConfig struct {
	InputSize  int     // Input height and width (default: 224)
	NumClasses int     // Output classes (required)
	Hidden     int     // Width of the head's hidden layer (default: 256)
	Dropout    float32 // Dropout inside the head (default: 0.5)
	NoDropout  bool    // Disable dropout; Dropout is ignored
	Seed       int64   // Dropout seed
}

// Transfer is a frozen feature extractor topped by a trainable head.
//
//	Input: [batch, 3, 224, 224]
//	Backbone (frozen, e.g. VGG11 features) -> [batch, 512, 7, 7]
//	Flatten -> [batch, 25088]
//	Head: Linear 25088 → 256 + ReLU + Dropout + Linear 256 → classes
//
// The backbone runs with the gradient tape paused: its parameters take part
// in the forward computation but never receive gradients.
type Transfer[B tensor.Backend] struct {
	cfg      TransferConfig
	backbone *Features[B]
	fc1      *nn.Linear[B]
	relu     *nn.ReLU[B]
	dropout  *Dropout[B]
	fc2      *nn.Linear[B]
	flat     int
	backend  B
}

// NewTransfer attaches a new head to backbone. Load the backbone's
// pretrained weights before or after; they are never trained.
func NewTransfer[B tensor.Backend](backbone *Features[B], cfg TransferConfig, backend B) (*Transfer[B], error) {
	if cfg.InputSize == 0 {
		cfg.InputSize = 224
	}
	if cfg.Hidden == 0 {
		cfg.Hidden = 256
	}
	switch {
	case cfg.NoDropout:
		cfg.Dropout = 0
	case cfg.Dropout == 0:
		cfg.Dropout = 0.5
	case cfg.Dropout < 0 || cfg.Dropout >= 1:
		return nil, errors.Errorf("head dropout must be in [0, 1), got %v", cfg.Dropout)
	}
	if cfg.NumClasses < 2 {
		return nil, errors.Errorf("transfer model needs at least 2 classes, got %d", cfg.NumClasses)
	}
	if step := backbone.Downsampling(); cfg.InputSize < step || cfg.InputSize%step != 0 {
		return nil, errors.Errorf("input size %d must be a positive multiple of %d for this backbone", cfg.InputSize, step)
	}
	out := backbone.OutputShape(cfg.InputSize, cfg.InputSize)
	flat := out[0] * out[1] * out[2]
	return &Transfer[B]{
		cfg:      cfg,
		backbone: backbone,
		fc1:      nn.NewLinear(flat, cfg.Hidden, backend),
		relu:     nn.NewReLU[B](),
		dropout:  NewDropout(cfg.Dropout, cfg.Seed, backend),
		fc2:      nn.NewLinear(cfg.Hidden, cfg.NumClasses, backend),
		flat:     flat,
		backend:  backend,
	}, nil
}

// Forward maps [batch, 3, H, W] images to [batch, classes] logits.
func (m *Transfer[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	var features *tensor.Tensor[float32, B]
	withoutTape(m.backend, func() {
		features = m.backbone.Forward(input)
	})
	x := flatten(features)
	x = m.relu.Forward(m.fc1.Forward(x))
	x = m.dropout.Forward(x)
	return m.fc2.Forward(x)
}

// Backbone returns the frozen feature extractor.
func (m *Transfer[B]) Backbone() *Features[B] {
	return m.backbone
}

func (m *Transfer[B]) head() []namedParam[B] {
	named := linearParams("head.fc1", m.fc1)
	return append(named, linearParams("head.fc2", m.fc2)...)
}

func (m *Transfer[B]) named() []namedParam[B] {
	return append(m.backbone.named(), m.head()...)
}

// Parameters returns the backbone and head parameters.
func (m *Transfer[B]) Parameters() []*nn.Parameter[B] {
	return params(m.named())
}

// Trainable returns the head parameters only.
func (m *Transfer[B]) Trainable() []*nn.Parameter[B] {
	return params(m.head())
}

// Frozen returns the backbone parameters.
func (m *Transfer[B]) Frozen() []*nn.Parameter[B] {
	return m.backbone.Parameters()
}

// StateDict implements nn.Module.
func (m *Transfer[B]) StateDict() map[string]*tensor.RawTensor {
	return stateDict(m.named())
}

// LoadStateDict implements nn.Module.
func (m *Transfer[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	return loadStateDict(m.named(), sd)
}

// Train enables dropout in the head. The backbone has no dropout.
func (m *Transfer[B]) Train() { m.dropout.SetTraining(true) }

// Eval disables dropout.
func (m *Transfer[B]) Eval() { m.dropout.SetTraining(false) }

// Training reports the current mode.
func (m *Transfer[B]) Training() bool { return m.dropout.training }

// NumClasses returns the number of output classes.
func (m *Transfer[B]) NumClasses() int { return m.cfg.NumClasses }

// String returns a string representation of the model architecture.
func (m *Transfer[B]) String() string {
	return fmt.Sprintf("Transfer(\n  backbone (frozen): %s\n  head: Linear(in=%d, out=%d) ReLU() %s Linear(in=%d, out=%d)\n)",
		m.backbone, m.flat, m.cfg.Hidden, m.dropout, m.cfg.Hidden, m.cfg.NumClasses)
}
