// Package visualize renders training curves, prediction tables and image
// mosaics.
package visualize

import (
	"os"

	"github.com/born-ml/transfer/internal/train"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// PlotHistory writes a PNG with the loss curves on the left and the test
// accuracy on the right, one point per epoch.
func PlotHistory(h *train.History, path string) error {
	if h.Len() == 0 {
		return errors.New("no epochs to plot")
	}
	trainLoss := make(plotter.XYs, h.Len())
	testLoss := make(plotter.XYs, h.Len())
	accuracy := make(plotter.XYs, h.Len())
	for i, s := range h.Epochs {
		x := float64(s.Epoch)
		trainLoss[i] = plotter.XY{X: x, Y: float64(s.TrainLoss)}
		testLoss[i] = plotter.XY{X: x, Y: float64(s.TestLoss)}
		accuracy[i] = plotter.XY{X: x, Y: float64(s.TestAccuracy)}
	}

	lossPlot := plot.New()
	lossPlot.Title.Text = "Loss"
	lossPlot.X.Label.Text = "epoch"
	lossPlot.Y.Label.Text = "cross-entropy"
	if err := plotutil.AddLinePoints(lossPlot, "train", trainLoss, "test", testLoss); err != nil {
		return errors.Wrap(err, "failed to plot loss")
	}

	accPlot := plot.New()
	accPlot.Title.Text = "Test accuracy"
	accPlot.X.Label.Text = "epoch"
	accPlot.Y.Label.Text = "%"
	accPlot.Y.Min = 0
	accPlot.Y.Max = 100
	if err := plotutil.AddLinePoints(accPlot, "test", accuracy); err != nil {
		return errors.Wrap(err, "failed to plot accuracy")
	}

	img := vgimg.New(12*vg.Inch, 5*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 1, Cols: 2, PadX: vg.Millimeter * 5, PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 2}
	canvases := plot.Align([][]*plot.Plot{{lossPlot, accPlot}}, tiles, dc)
	lossPlot.Draw(canvases[0][0])
	accPlot.Draw(canvases[0][1])

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write %q", path)
	}
	return errors.Wrapf(f.Close(), "failed to close %q", path)
}
