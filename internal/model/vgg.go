package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// M marks a 2x2 max-pool in a feature configuration. Any other value is a
// 3x3 convolution (padding 1) with that many output channels, followed by ReLU.
const M = 0

// Feature configurations of the VGG family (Simonyan & Zisserman, 2014).
var (
	VGG11 = []int{64, M, 128, M, 256, 256, M, 512, 512, M, 512, 512, M}
	VGG13 = []int{64, 64, M, 128, 128, M, 256, 256, M, 512, 512, M, 512, 512, M}
)

// featureLayer is one entry of the stack: a conv+ReLU or a pool.
type featureLayer[B tensor.Backend] struct {
	index int // Position in the torchvision "features" Sequential
	conv  *nn.Conv2D[B]
	relu  *nn.ReLU[B]
	pool  *nn.MaxPool2D[B]
}

// Features is a VGG-style convolutional feature extractor.
//
// Parameter names follow torchvision ("features.<i>.weight", "features.<i>.bias",
// where a ReLU occupies the index after each conv), so weights exported from
// torchvision or timm load without renaming.
type Features[B tensor.Backend] struct {
	layers      []featureLayer[B]
	inChannels  int
	outChannels int
}

// NewFeatures builds a feature stack from a configuration such as VGG11.
func NewFeatures[B tensor.Backend](cfg []int, inChannels int, backend B) *Features[B] {
	f := &Features[B]{inChannels: inChannels, outChannels: inChannels}
	index := 0
	for _, v := range cfg {
		if v == M {
			f.layers = append(f.layers, featureLayer[B]{index: index, pool: nn.NewMaxPool2D(2, 2, backend)})
			index++
			continue
		}
		f.layers = append(f.layers, featureLayer[B]{
			index: index,
			conv:  nn.NewConv2D(f.outChannels, v, 3, 3, 1, 1, true, backend),
			relu:  nn.NewReLU[B](),
		})
		f.outChannels = v
		index += 2
	}
	return f
}

// Forward runs the stack on [batch, C, H, W] images.
func (f *Features[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := input
	for _, layer := range f.layers {
		if layer.pool != nil {
			x = layer.pool.Forward(x)
			continue
		}
		x = layer.relu.Forward(layer.conv.Forward(x))
	}
	return x
}

// OutputShape returns the [channels, height, width] of the features for an
// input of the given spatial size.
func (f *Features[B]) OutputShape(height, width int) [3]int {
	size := [2]int{height, width}
	for _, layer := range f.layers {
		if layer.pool != nil {
			size = layer.pool.ComputeOutputSize(size[0], size[1])
		} else {
			size = layer.conv.ComputeOutputSize(size[0], size[1])
		}
	}
	return [3]int{f.outChannels, size[0], size[1]}
}

// Downsampling returns the factor by which the stack shrinks each spatial
// dimension. Inputs must be a multiple of it.
func (f *Features[B]) Downsampling() int {
	factor := 1
	for _, layer := range f.layers {
		if layer.pool != nil {
			factor *= 2
		}
	}
	return factor
}

// InChannels returns the expected number of input channels.
func (f *Features[B]) InChannels() int {
	return f.inChannels
}

func (f *Features[B]) named() []namedParam[B] {
	var named []namedParam[B]
	for _, layer := range f.layers {
		if layer.conv != nil {
			named = append(named, convParams(fmt.Sprintf("features.%d", layer.index), layer.conv)...)
		}
	}
	return named
}

// Parameters returns the conv weights and biases.
func (f *Features[B]) Parameters() []*nn.Parameter[B] {
	return params(f.named())
}

// StateDict implements nn.Module.
func (f *Features[B]) StateDict() map[string]*tensor.RawTensor {
	return stateDict(f.named())
}

// LoadStateDict implements nn.Module.
func (f *Features[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	return loadStateDict(f.named(), sd)
}

// String returns a string representation of the stack.
func (f *Features[B]) String() string {
	var sb strings.Builder
	sb.WriteString("Features(\n")
	for _, layer := range f.layers {
		if layer.pool != nil {
			fmt.Fprintf(&sb, "  (%d): %s\n", layer.index, layer.pool)
			continue
		}
		fmt.Fprintf(&sb, "  (%d): %s\n  (%d): ReLU()\n", layer.index, layer.conv, layer.index+1)
	}
	sb.WriteString(")")
	return sb.String()
}
