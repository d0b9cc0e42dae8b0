// Command transfer trains and evaluates image classifiers: a small CNN
// trained from scratch, or a new head fine-tuned on a frozen pretrained
// VGG backbone.
//
// Usage:
//
//	transfer train   -model transfer -arch vgg11 -dataset cifar10 -epochs 2
//	transfer eval    -checkpoint run.born -dataset cifar10
//	transfer predict -checkpoint run.born -dataset folder -data ./photos -n 8
//	transfer version
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/born-ml/transfer/internal/device"
	"github.com/born-ml/transfer/internal/download"
	"github.com/born-ml/transfer/internal/pretrained"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

// options holds the flags of every subcommand; each one registers the
// subset it uses.
type options struct {
	model   string
	arch    string
	weights string

	dataset   string
	data      string
	cache     string
	imageSize int
	limit     int
	classes   int

	epochs   int
	batch    int
	lr       float64
	logEvery int
	device   string
	seed     int64

	save       string
	plot       string
	checkpoint string
	n          int
	mosaic     string
}

func (o *options) registerData(fs *flag.FlagSet) {
	fs.StringVar(&o.dataset, "dataset", "cifar10", "Dataset: cifar10, folder or synthetic")
	fs.StringVar(&o.data, "data", "", "Dataset directory (default: <cache>/cifar10 for cifar10; required for folder)")
	fs.StringVar(&o.cache, "cache", download.CacheDir(), "Cache directory for datasets and pretrained weights")
	fs.IntVar(&o.imageSize, "image-size", 224, "Input height and width")
	fs.IntVar(&o.limit, "limit", 0, "Max examples per split (0 = all; synthetic defaults to 64)")
	fs.IntVar(&o.classes, "classes", 10, "Number of classes of the synthetic dataset")
	fs.StringVar(&o.device, "device", string(device.CPU), "Compute device: cpu or webgpu")
	fs.Int64Var(&o.seed, "seed", 42, "Seed for initialization, shuffling and dropout")
	fs.IntVar(&o.batch, "batch", 4, "Batch size")
}

func newFlagSet(name string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	klog.InitFlags(fs)
	o.registerData(fs)
	return fs
}

func usage() {
	fmt.Fprintf(os.Stderr, "transfer %s: image classification with transfer learning\n\n", version)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  train      Train a model and report test metrics every epoch")
	fmt.Fprintln(os.Stderr, "  eval       Evaluate a checkpoint on the test split")
	fmt.Fprintln(os.Stderr, "  predict    Show predictions of a checkpoint on a few test images")
	fmt.Fprintln(os.Stderr, "  version    Show version")
	fmt.Fprintf(os.Stderr, "\nPretrained architectures: %v\n", pretrained.Names())
	fmt.Fprintln(os.Stderr, "Run 'transfer <command> -h' for the flags of a command.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	o := &options{}
	fs := newFlagSet(cmd, o)
	switch cmd {
	case "version":
		fmt.Printf("transfer %s\n", version)
		return
	case "train":
		fs.StringVar(&o.model, "model", "transfer", "Model: baseline or transfer")
		fs.StringVar(&o.arch, "arch", "vgg11", "Pretrained backbone of the transfer model")
		fs.StringVar(&o.weights, "weights", "", "Backbone weights file (.safetensors or .born); downloaded if empty")
		fs.IntVar(&o.epochs, "epochs", 2, "Number of epochs")
		fs.Float64Var(&o.lr, "lr", 0.001, "Adam learning rate")
		fs.IntVar(&o.logEvery, "log-every", 200, "Batches between progress lines")
		fs.StringVar(&o.save, "save", "", "Write a checkpoint (.born) after training")
		fs.StringVar(&o.plot, "plot", "", "Write the loss and accuracy curves to a PNG")
	case "eval":
		fs.StringVar(&o.checkpoint, "checkpoint", "", "Checkpoint written by 'transfer train -save'")
	case "predict":
		fs.StringVar(&o.checkpoint, "checkpoint", "", "Checkpoint written by 'transfer train -save'")
		fs.IntVar(&o.n, "n", 8, "Number of test images")
		fs.StringVar(&o.mosaic, "mosaic", "", "Write the images with correct/wrong bars to this file")
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	must.M(fs.Parse(args))
	defer klog.Flush()

	if (cmd == "eval" || cmd == "predict") && o.checkpoint == "" {
		klog.Exitf("%s requires -checkpoint", cmd)
	}
	must.M1(device.Select(o.device))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cmd, o); err != nil {
		klog.Fatalf("%s failed: %+v", cmd, err)
	}
}
