package visualize

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/transfer/internal/dataset"
	"github.com/born-ml/transfer/internal/train"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() *train.History {
	return &train.History{Epochs: []train.EpochStats{
		{Epoch: 1, TrainLoss: 1.2, TestLoss: 1.0, TestAccuracy: 45, Duration: 3 * time.Second},
		{Epoch: 2, TrainLoss: 0.8, TestLoss: 0.7, TestAccuracy: 71, Duration: 2 * time.Second},
	}}
}

func TestPlotHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curves.png")
	require.NoError(t, PlotHistory(sampleHistory(), path))

	img, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), img.Bounds().Dy())

	assert.Error(t, PlotHistory(&train.History{}, path))
}

func TestPredictionTable(t *testing.T) {
	preds := []train.Prediction{
		{Index: 7, Label: 0, Predicted: 0, Confidence: 0.9},
		{Index: 3, Label: 1, Predicted: 0, Confidence: 0.55},
	}
	out := PredictionTable(preds, []string{"cat", "dog"})
	assert.Contains(t, out, "Predicted")
	assert.Contains(t, out, "cat")
	assert.Contains(t, out, "dog")
	assert.Contains(t, out, "90.0%")
	assert.Contains(t, out, "1 of 2 correct")
}

func TestHistoryTable(t *testing.T) {
	out := HistoryTable(sampleHistory())
	assert.Contains(t, out, "2 *")
	assert.Contains(t, out, "0.700")
	assert.Contains(t, out, "71%")
}

func TestMosaic(t *testing.T) {
	tiles := []Tile{
		{Image: imaging.New(8, 8, color.Black), Correct: true},
		{Image: imaging.New(8, 8, color.Black), Correct: false},
		{Image: imaging.New(16, 16, color.Black), Correct: true},
	}
	img, err := Mosaic(tiles, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2*(8+tileMargin)+tileMargin, 2*(8+barHeight+tileMargin)+tileMargin), img.Bounds())

	assert.Equal(t, correctColor, img.NRGBAAt(tileMargin, tileMargin+8))
	assert.Equal(t, wrongColor, img.NRGBAAt(2*tileMargin+8, tileMargin+8))

	_, err = Mosaic(nil, 2)
	assert.Error(t, err)
}

func TestTilesFromBatch(t *testing.T) {
	backend := autodiff.New(cpu.New())
	ds := dataset.Synthetic(3, 3, 8, 8, 3, 1)
	loader, err := dataset.NewLoader(ds, dataset.LoaderConfig{BatchSize: 3}, backend)
	require.NoError(t, err)
	batch, err := loader.Next()
	require.NoError(t, err)

	preds := []train.Prediction{{Label: 0, Predicted: 0}, {Label: 1, Predicted: 2}, {Label: 2, Predicted: 2}}
	tiles, err := TilesFromBatch(batch, preds, nil)
	require.NoError(t, err)
	require.Len(t, tiles, 3)
	assert.Equal(t, []bool{true, false, true}, []bool{tiles[0].Correct, tiles[1].Correct, tiles[2].Correct})
	assert.Equal(t, image.Rect(0, 0, 8, 8), tiles[0].Image.Bounds())

	_, err = TilesFromBatch(batch, preds[:1], nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "mosaic.png")
	require.NoError(t, SaveMosaic(path, tiles, 3))
	assert.FileExists(t, path)
}
