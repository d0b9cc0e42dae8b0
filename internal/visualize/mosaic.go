package visualize

import (
	"image"
	"image/color"

	"github.com/born-ml/born/tensor"
	"github.com/born-ml/transfer/internal/dataset"
	"github.com/born-ml/transfer/internal/train"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

const (
	tileMargin = 4
	barHeight  = 6
)

var (
	correctColor = color.NRGBA{R: 46, G: 160, B: 67, A: 255}
	wrongColor   = color.NRGBA{R: 218, G: 54, B: 51, A: 255}
)

// Tile is one image of a mosaic with the outcome of its prediction.
type Tile struct {
	Image   image.Image
	Correct bool
}

// TilesFromBatch converts the images of batch back to pixels, undoing norm,
// and pairs them with preds.
func TilesFromBatch[B tensor.Backend](batch *dataset.Batch[B], preds []train.Prediction, norm *dataset.Normalization) ([]Tile, error) {
	if len(preds) != batch.Size {
		return nil, errors.Errorf("%d predictions for a batch of %d", len(preds), batch.Size)
	}
	shape := batch.Images.Shape()
	c, h, w := shape[1], shape[2], shape[3]
	stride := c * h * w
	data := batch.Images.Data()
	tiles := make([]Tile, batch.Size)
	for i := range tiles {
		pixels := append([]float32(nil), data[i*stride:(i+1)*stride]...)
		norm.Invert(pixels, c, h, w)
		tiles[i] = Tile{Image: dataset.ToImage(pixels, c, h, w), Correct: preds[i].Correct()}
	}
	return tiles, nil
}

// Mosaic lays tiles out in a grid with cols columns. Every tile gets a bar
// underneath: green when the prediction was right, red otherwise. Tiles
// are drawn at the size of the first one.
func Mosaic(tiles []Tile, cols int) (*image.NRGBA, error) {
	if len(tiles) == 0 {
		return nil, errors.New("no tiles")
	}
	if cols < 1 {
		cols = 1
	}
	cols = min(cols, len(tiles))
	rows := (len(tiles) + cols - 1) / cols
	bounds := tiles[0].Image.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	cellW, cellH := w+tileMargin, h+barHeight+tileMargin

	canvas := imaging.New(cols*cellW+tileMargin, rows*cellH+tileMargin, color.White)
	for i, tile := range tiles {
		x := tileMargin + (i%cols)*cellW
		y := tileMargin + (i/cols)*cellH
		img := tile.Image
		if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
			img = imaging.Resize(img, w, h, imaging.Lanczos)
		}
		canvas = imaging.Paste(canvas, img, image.Pt(x, y))
		bar := correctColor
		if !tile.Correct {
			bar = wrongColor
		}
		canvas = imaging.Paste(canvas, imaging.New(w, barHeight, bar), image.Pt(x, y+h))
	}
	return canvas, nil
}

// SaveMosaic renders tiles and writes them to path. The format follows the
// file extension.
func SaveMosaic(path string, tiles []Tile, cols int) error {
	img, err := Mosaic(tiles, cols)
	if err != nil {
		return err
	}
	return errors.Wrapf(imaging.Save(img, path), "failed to save mosaic %q", path)
}
