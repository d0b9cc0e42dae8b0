package model

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackend = *autodiff.Backend[*cpu.Backend]

var (
	_ Classifier[testBackend] = (*Baseline[testBackend])(nil)
	_ Classifier[testBackend] = (*Transfer[testBackend])(nil)
	_ nn.Module[testBackend]  = (*Features[testBackend])(nil)
)

// tinyVGG keeps backbone tests fast.
var tinyVGG = []int{4, M, 8, M}

func newBackend() testBackend {
	return autodiff.New(cpu.New())
}

func newTiny(t *testing.T, backend testBackend, size int) *Transfer[testBackend] {
	t.Helper()
	m, err := NewTransfer(NewFeatures(tinyVGG, 3, backend), TransferConfig{InputSize: size, NumClasses: 3, Hidden: 16, Seed: 1}, backend)
	require.NoError(t, err)
	return m
}

func randImages(backend testBackend, n, size int) *tensor.Tensor[float32, testBackend] {
	return tensor.Randn[float32](tensor.Shape{n, 3, size, size}, backend)
}

func TestClassifier_OutputShape(t *testing.T) {
	backend := newBackend()

	baseline, err := NewBaseline(BaselineConfig{NumClasses: 10, Seed: 1}, backend)
	require.NoError(t, err)
	transfer := newTiny(t, backend, 224)

	for _, tc := range []struct {
		name  string
		model Classifier[testBackend]
		want  int
	}{
		{"baseline", baseline, 10},
		{"transfer", transfer, 3},
	} {
		for _, n := range []int{1, 3} {
			logits := tc.model.Forward(randImages(backend, n, 224))
			assert.Equal(t, tensor.Shape{n, tc.want}, logits.Shape(), "%s with batch %d", tc.name, n)
		}
	}
}

func TestNewBaseline_Defaults(t *testing.T) {
	m, err := NewBaseline(BaselineConfig{NumClasses: 2}, newBackend())
	require.NoError(t, err)
	assert.Equal(t, 64*28*28, m.flat)
	assert.Equal(t, 2, m.NumClasses())
	assert.True(t, m.Training())
	assert.Len(t, m.Parameters(), 10)
	assert.Equal(t, m.Parameters(), m.Trainable())
	assert.Contains(t, m.String(), "Linear(in=50176, out=128)")
}

func TestNewBaseline_Errors(t *testing.T) {
	_, err := NewBaseline(BaselineConfig{NumClasses: 1}, newBackend())
	assert.Error(t, err)
	_, err = NewBaseline(BaselineConfig{NumClasses: 2, InputSize: 30}, newBackend())
	assert.Error(t, err)
}

func TestNoDropout(t *testing.T) {
	backend := newBackend()
	baseline, err := NewBaseline(BaselineConfig{InputSize: 16, NumClasses: 2, Dropout: 0.9, NoDropout: true, Seed: 3}, backend)
	require.NoError(t, err)
	transfer, err := NewTransfer(NewFeatures(tinyVGG, 3, backend),
		TransferConfig{InputSize: 16, NumClasses: 2, Hidden: 16, NoDropout: true, Seed: 3}, backend)
	require.NoError(t, err)

	for _, m := range []Classifier[testBackend]{baseline, transfer} {
		assert.Contains(t, fmt.Sprint(m), "Dropout(p=0.00)")
		// Training mode without dropout is deterministic.
		assert.True(t, m.Training())
		x := randImages(backend, 2, 16)
		first := append([]float32(nil), m.Forward(x).Data()...)
		assert.Equal(t, first, m.Forward(x).Data())
	}

	def, err := NewBaseline(BaselineConfig{InputSize: 16, NumClasses: 2}, backend)
	require.NoError(t, err)
	assert.Contains(t, def.String(), "Dropout(p=0.50)")

	_, err = NewBaseline(BaselineConfig{InputSize: 16, NumClasses: 2, Dropout: 1}, backend)
	assert.Error(t, err)
	_, err = NewTransfer(NewFeatures(tinyVGG, 3, backend), TransferConfig{InputSize: 16, NumClasses: 2, Dropout: -0.5}, backend)
	assert.Error(t, err)
}

func TestTransfer_GradientsReachHeadOnly(t *testing.T) {
	backend := newBackend()
	m := newTiny(t, backend, 16)

	backend.Tape().StartRecording()
	defer backend.Tape().StopRecording()

	labels, err := tensor.FromSlice([]int32{0, 2}, tensor.Shape{2}, backend)
	require.NoError(t, err)
	loss := nn.NewCrossEntropyLoss(backend).Forward(m.Forward(randImages(backend, 2, 16)), labels)
	grads := autodiff.Backward(loss, backend)

	for _, p := range m.Trainable() {
		assert.NotNil(t, grads[p.Tensor().Raw()], "trainable %s", p.Name())
	}
	for _, p := range m.Frozen() {
		assert.Nil(t, grads[p.Tensor().Raw()], "frozen %s", p.Name())
	}
	assert.True(t, backend.Tape().IsRecording(), "recording must resume after the backbone")
}

func TestTransfer_ParameterPartition(t *testing.T) {
	m := newTiny(t, newBackend(), 16)
	assert.Len(t, m.Frozen(), 4)
	assert.Len(t, m.Trainable(), 4)
	assert.Len(t, m.Parameters(), 8)
	assert.Equal(t, 8*4*4, m.flat)

	_, err := NewTransfer(NewFeatures(tinyVGG, 3, newBackend()), TransferConfig{InputSize: 2, NumClasses: 2}, newBackend())
	assert.Error(t, err)
}

func TestClassifier_EvalDeterministic(t *testing.T) {
	backend := newBackend()
	baseline, err := NewBaseline(BaselineConfig{InputSize: 16, NumClasses: 4, Dropout: 0.9, Seed: 3}, backend)
	require.NoError(t, err)

	for _, m := range []Classifier[testBackend]{baseline, newTiny(t, backend, 16)} {
		m.Eval()
		m.Eval()
		assert.False(t, m.Training())

		x := randImages(backend, 2, 16)
		first := append([]float32(nil), m.Forward(x).Data()...)
		second := m.Forward(x).Data()
		assert.Equal(t, first, second)

		m.Train()
		assert.True(t, m.Training())
	}
}

func TestFeatures_VGG11(t *testing.T) {
	f := NewFeatures(VGG11, 3, newBackend())

	assert.Equal(t, [3]int{512, 7, 7}, f.OutputShape(224, 224))
	sd := f.StateDict()
	assert.Len(t, sd, 16)
	for _, idx := range []int{0, 3, 6, 8, 11, 13, 16, 18} {
		assert.Contains(t, sd, fmt.Sprintf("features.%d.weight", idx))
		assert.Contains(t, sd, fmt.Sprintf("features.%d.bias", idx))
	}
	assert.Equal(t, tensor.Shape{64, 3, 3, 3}, sd["features.0.weight"].Shape())
	assert.Contains(t, f.String(), "(2): MaxPool2D")
}

func TestClassifier_SaveLoadRoundTrip(t *testing.T) {
	backend := newBackend()
	path := filepath.Join(t.TempDir(), "baseline.born")

	src, err := NewBaseline(BaselineConfig{InputSize: 16, NumClasses: 3}, backend)
	require.NoError(t, err)
	require.NoError(t, nn.Save[testBackend](src, path, "Baseline", map[string]string{"classes": "3"}))

	dst, err := NewBaseline(BaselineConfig{InputSize: 16, NumClasses: 3}, backend)
	require.NoError(t, err)
	header, err := nn.Load[testBackend](path, backend, dst)
	require.NoError(t, err)
	assert.Equal(t, "Baseline", header.ModelType)

	src.Eval()
	dst.Eval()
	x := randImages(backend, 1, 16)
	assert.InDeltaSlice(t, src.Forward(x).Data(), dst.Forward(x).Data(), 1e-6)
}

func TestLoadStateDict_Errors(t *testing.T) {
	backend := newBackend()
	m := newTiny(t, backend, 16)

	sd := m.StateDict()
	delete(sd, "head.fc2.bias")
	assert.ErrorContains(t, m.LoadStateDict(sd), "missing head.fc2.bias")

	other := NewFeatures([]int{5, M}, 3, backend)
	sd = m.StateDict()
	sd["features.0.weight"] = other.StateDict()["features.0.weight"]
	assert.ErrorContains(t, m.LoadStateDict(sd), "shape mismatch")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("transfer")
	require.NoError(t, err)
	assert.Equal(t, KindTransfer, k)

	_, err = ParseKind("resnet")
	assert.Error(t, err)
}

func TestCountParameters(t *testing.T) {
	f := NewFeatures([]int{2, M}, 3, newBackend())
	assert.Equal(t, 2*3*3*3+2, CountParameters(f.Parameters()))
}
