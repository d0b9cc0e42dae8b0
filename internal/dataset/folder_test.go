package dataset

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImage writes a solid-color PNG of the given size.
func writeImage(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
}

func TestImageFolder_Discovery(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "cats", "a.png"), 20, 10, color.NRGBA{R: 255, A: 255})
	writeImage(t, filepath.Join(root, "cats", "b.png"), 10, 20, color.NRGBA{R: 255, A: 255})
	writeImage(t, filepath.Join(root, "dogs", "c.png"), 16, 16, color.NRGBA{B: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(root, "dogs", "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	f, err := NewImageFolder(root, FolderOptions{Size: 8})
	require.NoError(t, err)

	assert.Equal(t, []string{"cats", "dogs"}, f.Classes())
	assert.Equal(t, 3, f.Len())
	c, h, w := f.Shape()
	assert.Equal(t, []int{3, 8, 8}, []int{c, h, w})

	pixels, label, err := f.Example(2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), label)
	require.Len(t, pixels, 3*8*8)
	// Solid blue: R and G planes are 0, B plane is 1.
	assert.InDelta(t, 0, pixels[0], 0.01)
	assert.InDelta(t, 0, pixels[64], 0.01)
	assert.InDelta(t, 1, pixels[128], 0.01)
}

func TestImageFolder_Normalization(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "only", "x.png"), 4, 4, color.NRGBA{A: 255})

	f, err := NewImageFolder(root, FolderOptions{Size: 4, Normalization: ImageNet})
	require.NoError(t, err)

	pixels, _, err := f.Example(0)
	require.NoError(t, err)
	assert.InDelta(t, -0.485/0.229, pixels[0], 0.05)
}

func TestImageFolder_Errors(t *testing.T) {
	_, err := NewImageFolder(filepath.Join(t.TempDir(), "missing"), FolderOptions{})
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = NewImageFolder(empty, FolderOptions{})
	assert.ErrorContains(t, err, "no images")
}

func TestToImage_FromImage(t *testing.T) {
	img := imaging.New(6, 6, color.NRGBA{R: 255, G: 128, A: 255})
	pixels := FromImage(img, 6)
	back := ToImage(pixels, 3, 6, 6)

	r, g, b, _ := back.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.InDelta(t, 128, g>>8, 1)
	assert.Equal(t, uint32(0), b)
}
