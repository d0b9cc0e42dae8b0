package main

import (
	"context"
	"fmt"
	"os"

	"github.com/born-ml/transfer/internal/dataset"
	"github.com/born-ml/transfer/internal/model"
	"github.com/born-ml/transfer/internal/pretrained"
	"github.com/born-ml/transfer/internal/train"
	"github.com/born-ml/transfer/internal/visualize"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const mosaicColumns = 4

func execute[B train.Backend](ctx context.Context, cmd string, o *options, backend B) error {
	klog.Infof("Backend: %s", backend.Name())
	switch cmd {
	case "train":
		return runTrain(ctx, o, backend)
	case "eval":
		return runEval(ctx, o, backend)
	case "predict":
		return runPredict(ctx, o, backend)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

// recipe describes the model to build.
type recipe struct {
	kind       model.Kind
	arch       string
	inputSize  int
	numClasses int
	seed       int64
}

// buildModel creates the classifier. With pretrained set, the transfer
// backbone gets its pretrained weights; otherwise they are expected to come
// from a checkpoint.
func buildModel[B train.Backend](ctx context.Context, s recipe, o *options, pretrainedWeights bool, backend B) (model.Classifier[B], error) {
	switch s.kind {
	case model.KindBaseline:
		return model.NewBaseline(model.BaselineConfig{InputSize: s.inputSize, NumClasses: s.numClasses, Seed: s.seed}, backend)
	case model.KindTransfer:
		var backbone *model.Features[B]
		if pretrainedWeights {
			var err error
			backbone, err = pretrained.NewBackbone(ctx, s.arch, pretrained.Options{CacheDir: o.cache, Weights: o.weights}, backend)
			if err != nil {
				return nil, err
			}
		} else {
			arch, err := pretrained.Lookup(s.arch)
			if err != nil {
				return nil, err
			}
			backbone = model.NewFeatures(arch.Layers, 3, backend)
		}
		return model.NewTransfer(backbone, model.TransferConfig{InputSize: s.inputSize, NumClasses: s.numClasses, Seed: s.seed}, backend)
	default:
		return nil, errors.Errorf("unknown model kind %q", s.kind)
	}
}

func newLoaders[B train.Backend](trainDS, testDS dataset.Dataset, o *options, backend B) (*dataset.Loader[B], *dataset.Loader[B], error) {
	var trainLoader *dataset.Loader[B]
	if trainDS != nil {
		var err error
		trainLoader, err = dataset.NewLoader(trainDS, dataset.LoaderConfig{BatchSize: o.batch, Shuffle: true, Seed: o.seed}, backend)
		if err != nil {
			return nil, nil, err
		}
	}
	testLoader, err := dataset.NewLoader(testDS, dataset.LoaderConfig{BatchSize: o.batch, Seed: o.seed}, backend)
	if err != nil {
		return nil, nil, err
	}
	return trainLoader, testLoader, nil
}

func runTrain[B train.Backend](ctx context.Context, o *options, backend B) error {
	kind, err := model.ParseKind(o.model)
	if err != nil {
		return err
	}
	trainDS, testDS, _, err := loadData(ctx, o)
	if err != nil {
		return err
	}
	classes := trainDS.Classes()
	s := recipe{kind: kind, arch: o.arch, inputSize: o.imageSize, numClasses: len(classes), seed: o.seed}
	if kind == model.KindBaseline {
		s.arch = ""
	}
	m, err := buildModel(ctx, s, o, true, backend)
	if err != nil {
		return err
	}
	klog.Infof("Model: %s", m)
	klog.Infof("Parameters: %s trainable of %s", humanize.Comma(int64(model.CountParameters(m.Trainable()))),
		humanize.Comma(int64(model.CountParameters(m.Parameters()))))

	trainLoader, testLoader, err := newLoaders(trainDS, testDS, o, backend)
	if err != nil {
		return err
	}
	trainer := train.NewTrainer(m, train.Config{
		Epochs:    o.epochs,
		BatchSize: o.batch,
		LR:        float32(o.lr),
		LogEvery:  o.logEvery,
		Out:       os.Stdout,
	}, backend)
	history, err := trainer.Fit(ctx, trainLoader, testLoader)
	if err != nil {
		return err
	}
	fmt.Println(visualize.HistoryTable(history))

	if o.save != "" {
		ckpt := train.NewCheckpoint(kind, s.arch, o.imageSize, classes, history)
		if err := train.SaveCheckpoint(o.save, m, ckpt); err != nil {
			return err
		}
		klog.Infof("Saved checkpoint %s (run %s)", o.save, ckpt.RunID)
	}
	if o.plot != "" {
		if err := visualize.PlotHistory(history, o.plot); err != nil {
			return err
		}
		klog.Infof("Saved curves to %s", o.plot)
	}
	return nil
}

// restore builds the model described by the checkpoint and loads it.
func restore[B train.Backend](ctx context.Context, o *options, backend B) (model.Classifier[B], train.Checkpoint, error) {
	ckpt, err := train.ReadCheckpoint(o.checkpoint, backend)
	if err != nil {
		return nil, ckpt, err
	}
	s := recipe{kind: ckpt.Kind, arch: ckpt.Arch, inputSize: ckpt.InputSize, numClasses: len(ckpt.Classes), seed: o.seed}
	m, err := buildModel(ctx, s, o, false, backend)
	if err != nil {
		return nil, ckpt, err
	}
	if _, err := train.LoadCheckpoint(o.checkpoint, m, backend); err != nil {
		return nil, ckpt, err
	}
	klog.Infof("Restored %s model from %s (run %s, epoch %d)", ckpt.Kind, o.checkpoint, ckpt.RunID, ckpt.Epoch)
	o.imageSize = ckpt.InputSize
	return m, ckpt, nil
}

func loadTestSplit(ctx context.Context, o *options, ckpt train.Checkpoint) (dataset.Dataset, *dataset.Normalization, error) {
	_, testDS, norm, err := loadData(ctx, o)
	if err != nil {
		return nil, nil, err
	}
	if got := len(testDS.Classes()); got != len(ckpt.Classes) {
		return nil, nil, errors.Errorf("dataset has %d classes, checkpoint was trained on %d", got, len(ckpt.Classes))
	}
	return testDS, norm, nil
}

func runEval[B train.Backend](ctx context.Context, o *options, backend B) error {
	m, ckpt, err := restore(ctx, o, backend)
	if err != nil {
		return err
	}
	testDS, _, err := loadTestSplit(ctx, o, ckpt)
	if err != nil {
		return err
	}
	_, testLoader, err := newLoaders(nil, testDS, o, backend)
	if err != nil {
		return err
	}
	trainer := train.NewTrainer(m, train.Config{BatchSize: o.batch, Out: os.Stdout}, backend)
	res, err := trainer.Evaluate(testLoader)
	if err != nil {
		return err
	}
	trainer.ReportEvaluation(res)
	return nil
}

func runPredict[B train.Backend](ctx context.Context, o *options, backend B) error {
	m, ckpt, err := restore(ctx, o, backend)
	if err != nil {
		return err
	}
	testDS, norm, err := loadTestSplit(ctx, o, ckpt)
	if err != nil {
		return err
	}
	loader, err := dataset.NewLoader(testDS, dataset.LoaderConfig{BatchSize: o.n, Shuffle: true, Seed: o.seed}, backend)
	if err != nil {
		return err
	}
	batch, err := loader.Next()
	if err != nil {
		return errors.Wrap(err, "reading test images")
	}
	preds, err := train.Predict(m, batch, backend)
	if err != nil {
		return err
	}
	fmt.Print(visualize.PredictionTable(preds, ckpt.Classes))

	if o.mosaic != "" {
		tiles, err := visualize.TilesFromBatch(batch, preds, norm)
		if err != nil {
			return err
		}
		if err := visualize.SaveMosaic(o.mosaic, tiles, mosaicColumns); err != nil {
			return err
		}
		klog.Infof("Saved mosaic to %s", o.mosaic)
	}
	return nil
}
