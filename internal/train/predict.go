package train

import (
	"math"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/transfer/internal/dataset"
	"github.com/born-ml/transfer/internal/model"
	"gonum.org/v1/gonum/floats"
)

// Prediction is the top-1 output for one example of a batch.
type Prediction struct {
	Index      int   // Dataset position of the example
	Label      int32 // Ground truth
	Predicted  int32
	Confidence float32   // Softmax probability of Predicted
	Probs      []float32 // Softmax over all classes
}

// Correct reports whether the prediction matches the label.
func (p Prediction) Correct() bool {
	return p.Predicted == p.Label
}

// Predict runs m in eval mode on batch and returns one Prediction per
// example. The tape is paused if backend records.
func Predict[B Backend](m model.Classifier[B], batch *dataset.Batch[B], backend B) ([]Prediction, error) {
	m.Eval()
	tape := backend.GetTape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	var logits *tensor.Tensor[float32, B]
	if err := try(func() { logits = m.Forward(batch.Images) }); err != nil {
		return nil, err
	}

	numClasses := m.NumClasses()
	data := logits.Data()
	labels := batch.Labels.Data()
	preds := make([]Prediction, batch.Size)
	for i := range preds {
		probs := softmax(data[i*numClasses : (i+1)*numClasses])
		top := floats.MaxIdx(probs)
		p := Prediction{
			Label:      labels[i],
			Predicted:  int32(top),
			Confidence: float32(probs[top]),
			Probs:      make([]float32, numClasses),
		}
		if i < len(batch.Indices) {
			p.Index = batch.Indices[i]
		}
		for j, v := range probs {
			p.Probs[j] = float32(v)
		}
		preds[i] = p
	}
	return preds, nil
}

func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = float64(v)
	}
	maxLogit := floats.Max(out)
	for i := range out {
		out[i] = math.Exp(out[i] - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}
