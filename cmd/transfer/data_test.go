package main

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadData_Synthetic(t *testing.T) {
	o := &options{dataset: "synthetic", imageSize: 8, classes: 3, seed: 1}
	train, test, norm, err := loadData(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, syntheticDefault, train.Len())
	assert.Equal(t, syntheticDefault, test.Len())
	assert.Len(t, train.Classes(), 3)
	assert.Nil(t, norm)

	o.limit = 5
	train, _, _, err = loadData(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, 5, train.Len())
}

func TestLoadData_Errors(t *testing.T) {
	_, _, _, err := loadData(context.Background(), &options{dataset: "imagenet"})
	assert.ErrorContains(t, err, "unknown dataset")

	_, _, _, err = loadData(context.Background(), &options{dataset: "folder"})
	assert.ErrorContains(t, err, "-data is required")

	_, _, _, err = loadData(context.Background(), &options{dataset: "synthetic", imageSize: 8, classes: 0})
	assert.ErrorContains(t, err, "at least one class")
}

func writeImages(t *testing.T, dir string, classes []string, perClass int) {
	t.Helper()
	for _, class := range classes {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, class), 0o755))
		for i := range perClass {
			img := imaging.New(12, 10, color.NRGBA{R: uint8(40 * i), G: 100, B: 200, A: 255})
			require.NoError(t, imaging.Save(img, filepath.Join(dir, class, fmt.Sprintf("%d.png", i))))
		}
	}
}

func TestLoadData_FolderSplit(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, []string{"cats", "dogs"}, 5)

	train, test, norm, err := loadData(context.Background(), &options{dataset: "folder", data: dir, imageSize: 8, seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, test.Len())
	assert.Equal(t, []string{"cats", "dogs"}, test.Classes())
	assert.NotNil(t, norm)
}

func TestLoadData_FolderTrainTest(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, filepath.Join(dir, "train"), []string{"a", "b"}, 3)
	writeImages(t, filepath.Join(dir, "test"), []string{"a", "b"}, 2)

	train, test, _, err := loadData(context.Background(), &options{dataset: "folder", data: dir, imageSize: 8, limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, train.Len())
	assert.Equal(t, 4, test.Len())

	c, h, w := train.Shape()
	assert.Equal(t, [3]int{3, 8, 8}, [3]int{c, h, w})
}
