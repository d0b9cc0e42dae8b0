// Package train fits a model.Classifier with Adam and mean softmax
// cross-entropy, reporting progress the way a notebook would:
//
//	| epoch: 1 | 4*200 images | loss = 1.873 |
//	| Test loss = 1.652 | Test accuracy = 41% |
//
// The report lines go to Config.Out. Diagnostics go to klog.
package train

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/transfer/internal/dataset"
	"github.com/born-ml/transfer/internal/model"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"
)

// Backend is a tensor backend that records operations on a gradient tape,
// such as *autodiff.Backend[*cpu.Backend].
type Backend interface {
	tensor.Backend
	GetTape() *autodiff.GradientTape
}

// ErrEmptyEvaluation is returned when a validation loader yields no batches.
var ErrEmptyEvaluation = errors.New("empty validation set")

// Config holds training hyperparameters.
type Config struct {
	Epochs    int       // Passes over the training set (default: 1)
	BatchSize int       // Shown in the progress line (default: the training loader's)
	LR        float32   // Adam learning rate (default: 0.001)
	LogEvery  int       // Batches between progress lines (default: 200)
	Out       io.Writer // Progress sink (default: os.Stdout)
}

func (c Config) withDefaults() Config {
	if c.Epochs == 0 {
		c.Epochs = 1
	}
	if c.LR == 0 {
		c.LR = 0.001
	}
	if c.LogEvery == 0 {
		c.LogEvery = 200
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	return c
}

// Loss is the mean softmax cross-entropy of logits [N, classes] against
// labels [N]. The result has shape [1] and is recorded on the tape.
func Loss[B tensor.Backend](logits *tensor.Tensor[float32, B], labels *tensor.Tensor[int32, B], backend B) *tensor.Tensor[float32, B] {
	return nn.NewCrossEntropyLoss(backend).Forward(logits, labels)
}

// EvalResult summarizes one pass over a validation loader.
type EvalResult struct {
	Loss     float32 // Sum of batch losses divided by the number of batches
	Accuracy float32 // Percentage of correct top-1 predictions, in [0, 100]
	Correct  int
	Total    int
	Batches  int
}

// Trainer runs the optimization loop for one model.
//
// Only model.Trainable() parameters are handed to the optimizer, and only
// their gradients are kept after each backward pass.
type Trainer[B Backend] struct {
	cfg       Config
	model     model.Classifier[B]
	trainable []*nn.Parameter[B]
	optimizer *optim.Adam[B]
	criterion *nn.CrossEntropyLoss[B]
	backend   B

	steps   int
	window  []float64
	history *History
}

// NewTrainer creates a trainer for m.
func NewTrainer[B Backend](m model.Classifier[B], cfg Config, backend B) *Trainer[B] {
	cfg = cfg.withDefaults()
	trainable := m.Trainable()
	return &Trainer[B]{
		cfg:       cfg,
		model:     m,
		trainable: trainable,
		optimizer: optim.NewAdam(trainable, optim.AdamConfig{
			LR:    cfg.LR,
			Betas: [2]float32{0.9, 0.999},
			Eps:   1e-8,
		}, backend),
		criterion: nn.NewCrossEntropyLoss(backend),
		backend:   backend,
		history:   &History{},
	}
}

// Config returns the effective configuration, defaults included.
func (t *Trainer[B]) Config() Config {
	return t.cfg
}

// Model returns the model being trained.
func (t *Trainer[B]) Model() model.Classifier[B] {
	return t.model
}

// Steps returns the number of optimizer steps taken so far.
func (t *Trainer[B]) Steps() int {
	return t.steps
}

// History returns the per-epoch metrics recorded by Fit.
func (t *Trainer[B]) History() *History {
	return t.history
}

// ZeroGrad clears the gradients of the trainable parameters.
func (t *Trainer[B]) ZeroGrad() {
	t.optimizer.ZeroGrad()
}

// Step runs one forward/backward pass on batch and applies one Adam update.
// It returns the batch loss, measured before the update.
func (t *Trainer[B]) Step(batch *dataset.Batch[B]) (float32, error) {
	var loss float32
	err := try(func() { loss = t.step(batch) })
	if err != nil {
		return 0, errors.WithMessagef(err, "training step %d", t.steps+1)
	}
	t.steps++
	return loss, nil
}

func (t *Trainer[B]) step(batch *dataset.Batch[B]) float32 {
	tape := t.backend.GetTape()
	t.optimizer.ZeroGrad()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	logits := t.model.Forward(batch.Images)
	loss := t.criterion.Forward(logits, batch.Labels)
	lossValue := loss.Raw().AsFloat32()[0]
	grads := autodiff.Backward(loss, t.backend)
	tape.StopRecording()

	kept := make(map[*tensor.RawTensor]*tensor.RawTensor, len(t.trainable))
	for _, p := range t.trainable {
		grad, ok := grads[p.Tensor().Raw()]
		if !ok {
			continue
		}
		kept[p.Tensor().Raw()] = grad
		p.SetGrad(tensor.New[float32, B](grad, t.backend))
	}
	t.optimizer.Step(kept)
	return lossValue
}

// Evaluate runs the model in eval mode over one traversal of loader, with
// the tape stopped. The loader is reset first.
func (t *Trainer[B]) Evaluate(loader *dataset.Loader[B]) (EvalResult, error) {
	t.model.Eval()
	tape := t.backend.GetTape()
	if tape.IsRecording() {
		tape.StopRecording()
		defer tape.StartRecording()
	}

	var (
		res       EvalResult
		totalLoss float64
	)
	loader.Reset()
	for {
		batch, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, errors.WithMessagef(err, "validation batch %d", res.Batches+1)
		}
		var (
			loss    float32
			correct int
		)
		err = try(func() {
			logits := t.model.Forward(batch.Images)
			loss = t.criterion.Forward(logits, batch.Labels).Raw().AsFloat32()[0]
			correct = countCorrect(logits.Data(), batch.Labels.Data(), t.model.NumClasses())
		})
		if err != nil {
			return res, errors.WithMessagef(err, "validation batch %d", res.Batches+1)
		}
		totalLoss += float64(loss)
		res.Correct += correct
		res.Total += batch.Size
		res.Batches++
		klog.V(2).Infof("validation batch %d: loss=%.4f correct=%d/%d", res.Batches, loss, correct, batch.Size)
	}
	if res.Batches == 0 || res.Total == 0 {
		return res, ErrEmptyEvaluation
	}
	res.Loss = float32(totalLoss / float64(res.Batches))
	res.Accuracy = float32(100 * float64(res.Correct) / float64(res.Total))
	return res, nil
}

// Fit trains for Config.Epochs epochs, validating on test after each one.
// The first failing batch aborts the run.
func (t *Trainer[B]) Fit(ctx context.Context, train, test *dataset.Loader[B]) (*History, error) {
	if t.cfg.BatchSize == 0 {
		t.cfg.BatchSize = train.BatchSize()
	}
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		start := time.Now()
		trainLoss, err := t.trainEpoch(ctx, epoch, train)
		if err != nil {
			return t.history, errors.WithMessagef(err, "epoch %d", epoch)
		}
		res, err := t.Evaluate(test)
		if err != nil {
			return t.history, errors.WithMessagef(err, "epoch %d", epoch)
		}
		t.ReportEvaluation(res)
		t.history.add(EpochStats{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			TestLoss:     res.Loss,
			TestAccuracy: res.Accuracy,
			Duration:     time.Since(start),
		})
		klog.V(1).Infof("epoch %d done in %s", epoch, time.Since(start).Round(time.Millisecond))
	}
	return t.history, nil
}

// trainEpoch runs one training traversal and returns the mean batch loss.
func (t *Trainer[B]) trainEpoch(ctx context.Context, epoch int, loader *dataset.Loader[B]) (float32, error) {
	t.model.Train()
	t.window = t.window[:0]
	var total float64
	batches := 0

	loader.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := loader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, errors.WithMessagef(err, "training batch %d", batches+1)
		}
		loss, err := t.Step(batch)
		if err != nil {
			return 0, err
		}
		batches++
		total += float64(loss)
		t.window = append(t.window, float64(loss))
		klog.V(2).Infof("epoch %d batch %d: loss=%.4f", epoch, batches, loss)

		if batches%t.cfg.LogEvery == 0 {
			t.ReportProgress(epoch, batches, float32(floats.Sum(t.window)/float64(len(t.window))))
			t.window = t.window[:0]
		}
	}
	if batches == 0 {
		return 0, errors.New("training loader yielded no batches")
	}
	return float32(total / float64(batches)), nil
}

// ReportProgress writes the periodic training line.
func (t *Trainer[B]) ReportProgress(epoch, batchIndex int, loss float32) {
	fmt.Fprintf(t.cfg.Out, "| epoch: %d | %d*%d images | loss = %.3f |\n", epoch, t.cfg.BatchSize, batchIndex, loss)
}

// ReportEvaluation writes the end-of-epoch validation line.
func (t *Trainer[B]) ReportEvaluation(res EvalResult) {
	fmt.Fprintf(t.cfg.Out, "| Test loss = %.3f | Test accuracy = %.0f%% |\n", res.Loss, res.Accuracy)
}

// countCorrect counts rows of logits whose arg-max equals the label.
func countCorrect(logits []float32, labels []int32, numClasses int) int {
	row := make([]float64, numClasses)
	correct := 0
	for i, label := range labels {
		for j := range row {
			row[j] = float64(logits[i*numClasses+j])
		}
		if floats.MaxIdx(row) == int(label) {
			correct++
		}
	}
	return correct
}

// try converts a panic raised by fn into an error.
func try(fn func()) error {
	exception := exceptions.Try(fn)
	if exception == nil {
		return nil
	}
	if err, ok := exception.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("%v", exception)
}
