package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/pkg/errors"
)

// BaselineConfig configures the from-scratch CNN.
type BaselineConfig struct {
	InputSize  int     // Input height and width (default: 224)
	Channels   int     // Input channels (default: 3)
	NumClasses int     // Output classes (required)
	Hidden     int     // Width of the hidden fully connected layer (default: 128)
	Dropout    float32 // Dropout before the last layer (default: 0.5)
	NoDropout  bool    // Disable dropout; Dropout is ignored
	Seed       int64   // Dropout seed
}

// convStage is Conv2D -> ReLU -> MaxPool2D.
type convStage[B tensor.Backend] struct {
	conv *nn.Conv2D[B]
	relu *nn.ReLU[B]
	pool *nn.MaxPool2D[B]
}

func (s *convStage[B]) forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return s.pool.Forward(s.relu.Forward(s.conv.Forward(x)))
}

// Baseline is a small CNN trained from scratch.
//
// Architecture (InputSize=224):
//
//	Input: [batch, 3, 224, 224]
//	Conv 3 → 16, 5x5, pad 2 + ReLU + MaxPool 2x2  -> [batch, 16, 112, 112]
//	Conv 16 → 32, 5x5, pad 2 + ReLU + MaxPool 2x2 -> [batch, 32, 56, 56]
//	Conv 32 → 64, 5x5, pad 2 + ReLU + MaxPool 2x2 -> [batch, 64, 28, 28]
//	Flatten -> [batch, 50176]
//	FC1: 50176 → 128 + ReLU + Dropout
//	FC2: 128 → classes (logits)
//
// All parameters are trainable.
type Baseline[B tensor.Backend] struct {
	cfg     BaselineConfig
	stages  [3]*convStage[B]
	fc1     *nn.Linear[B]
	relu    *nn.ReLU[B]
	dropout *Dropout[B]
	fc2     *nn.Linear[B]
	flat    int
}

// NewBaseline creates the baseline CNN in training mode.
func NewBaseline[B tensor.Backend](cfg BaselineConfig, backend B) (*Baseline[B], error) {
	if cfg.InputSize == 0 {
		cfg.InputSize = 224
	}
	if cfg.Channels == 0 {
		cfg.Channels = 3
	}
	if cfg.Hidden == 0 {
		cfg.Hidden = 128
	}
	switch {
	case cfg.NoDropout:
		cfg.Dropout = 0
	case cfg.Dropout == 0:
		cfg.Dropout = 0.5
	case cfg.Dropout < 0 || cfg.Dropout >= 1:
		return nil, errors.Errorf("baseline dropout must be in [0, 1), got %v", cfg.Dropout)
	}
	if cfg.NumClasses < 2 {
		return nil, errors.Errorf("baseline needs at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.InputSize%8 != 0 {
		return nil, errors.Errorf("baseline input size must be a multiple of 8, got %d", cfg.InputSize)
	}

	m := &Baseline[B]{cfg: cfg, relu: nn.NewReLU[B]()}
	channels := []int{cfg.Channels, 16, 32, 64}
	size := [2]int{cfg.InputSize, cfg.InputSize}
	for i := range m.stages {
		stage := &convStage[B]{
			conv: nn.NewConv2D(channels[i], channels[i+1], 5, 5, 1, 2, true, backend),
			relu: nn.NewReLU[B](),
			pool: nn.NewMaxPool2D(2, 2, backend),
		}
		size = stage.conv.ComputeOutputSize(size[0], size[1])
		size = stage.pool.ComputeOutputSize(size[0], size[1])
		m.stages[i] = stage
	}
	m.flat = channels[3] * size[0] * size[1]
	m.fc1 = nn.NewLinear(m.flat, cfg.Hidden, backend)
	m.dropout = NewDropout(cfg.Dropout, cfg.Seed, backend)
	m.fc2 = nn.NewLinear(cfg.Hidden, cfg.NumClasses, backend)
	return m, nil
}

// Forward maps [batch, C, H, W] images to [batch, classes] logits.
func (m *Baseline[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := input
	for _, stage := range m.stages {
		x = stage.forward(x)
	}
	x = flatten(x)
	x = m.relu.Forward(m.fc1.Forward(x))
	x = m.dropout.Forward(x)
	return m.fc2.Forward(x)
}

func (m *Baseline[B]) named() []namedParam[B] {
	var named []namedParam[B]
	for i, stage := range m.stages {
		named = append(named, convParams(fmt.Sprintf("conv%d", i+1), stage.conv)...)
	}
	named = append(named, linearParams("fc1", m.fc1)...)
	named = append(named, linearParams("fc2", m.fc2)...)
	return named
}

// Parameters returns all parameters.
func (m *Baseline[B]) Parameters() []*nn.Parameter[B] {
	return params(m.named())
}

// Trainable returns all parameters; nothing is frozen.
func (m *Baseline[B]) Trainable() []*nn.Parameter[B] {
	return m.Parameters()
}

// StateDict implements nn.Module.
func (m *Baseline[B]) StateDict() map[string]*tensor.RawTensor {
	return stateDict(m.named())
}

// LoadStateDict implements nn.Module.
func (m *Baseline[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	return loadStateDict(m.named(), sd)
}

// Train enables dropout.
func (m *Baseline[B]) Train() { m.dropout.SetTraining(true) }

// Eval disables dropout.
func (m *Baseline[B]) Eval() { m.dropout.SetTraining(false) }

// Training reports the current mode.
func (m *Baseline[B]) Training() bool { return m.dropout.training }

// NumClasses returns the number of output classes.
func (m *Baseline[B]) NumClasses() int { return m.cfg.NumClasses }

// String returns a string representation of the model architecture.
func (m *Baseline[B]) String() string {
	var sb strings.Builder
	sb.WriteString("Baseline(\n")
	for _, stage := range m.stages {
		fmt.Fprintf(&sb, "  %s\n  ReLU()\n  %s\n", stage.conv, stage.pool)
	}
	fmt.Fprintf(&sb, "  Linear(in=%d, out=%d)\n  ReLU()\n  %s\n  Linear(in=%d, out=%d)\n)",
		m.flat, m.cfg.Hidden, m.dropout, m.cfg.Hidden, m.cfg.NumClasses)
	return sb.String()
}
