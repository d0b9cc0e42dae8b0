package cifar

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/transfer/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// record builds one binary record whose red plane is r, green g, blue b.
func record(label, r, g, b byte) []byte {
	rec := make([]byte, recordSize)
	rec[0] = label
	plane := Width * Height
	for i := 0; i < plane; i++ {
		rec[1+i] = r
		rec[1+plane+i] = g
		rec[1+2*plane+i] = b
	}
	return rec
}

// writeBatches lays out a fake extracted archive under dir.
func writeBatches(t *testing.T, dir string, perFile int) {
	t.Helper()
	sub := filepath.Join(dir, SubDir)
	require.NoError(t, os.MkdirAll(sub, 0o755))
	for _, name := range append(append([]string{}, trainFiles...), testFiles...) {
		var buf bytes.Buffer
		for i := 0; i < perFile; i++ {
			buf.Write(record(byte(i%len(Labels)), 255, 0, byte(i)))
		}
		require.NoError(t, os.WriteFile(filepath.Join(sub, name), buf.Bytes(), 0o600))
	}
}

func TestReadRecords(t *testing.T) {
	data := append(record(3, 0, 0, 0), record(9, 1, 2, 3)...)
	records, err := ReadRecords(bytes.NewReader(data))
	require.NoError(t, err)

	ds := NewDataset(records, Width, nil)
	assert.Equal(t, 2, ds.Len())

	pixels, label, err := ds.Example(1)
	require.NoError(t, err)
	assert.Equal(t, int32(9), label)
	require.Len(t, pixels, imageSizeBytes)
	assert.InDelta(t, 1.0/255, pixels[0], 1e-6)
	assert.InDelta(t, 3.0/255, pixels[2*Width*Height], 1e-6)
}

func TestReadRecords_Errors(t *testing.T) {
	_, err := ReadRecords(bytes.NewReader(make([]byte, recordSize+1)))
	assert.ErrorContains(t, err, "truncated")

	_, err = ReadRecords(bytes.NewReader(record(10, 0, 0, 0)))
	assert.ErrorContains(t, err, "label 10")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, 3)

	train, test, err := Load(context.Background(), Config{Dir: dir, ImageSize: 32})
	require.NoError(t, err)
	assert.Equal(t, 15, train.Len())
	assert.Equal(t, 3, test.Len())
	assert.Equal(t, Labels, train.Classes())
}

func TestLoad_LimitAndResize(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, 4)

	train, test, err := Load(context.Background(), Config{Dir: dir, ImageSize: 64, Limit: 6, Normalization: dataset.ImageNet})
	require.NoError(t, err)
	assert.Equal(t, 6, train.Len())
	assert.Equal(t, 4, test.Len())

	c, h, w := train.Shape()
	assert.Equal(t, []int{3, 64, 64}, []int{c, h, w})

	pixels, _, err := train.Example(0)
	require.NoError(t, err)
	require.Len(t, pixels, 3*64*64)
	// Solid red upscaled, then normalized.
	assert.InDelta(t, (1-0.485)/0.229, pixels[0], 0.05)
	assert.InDelta(t, (0-0.456)/0.224, pixels[64*64], 0.05)
}

func TestDataset_BatchesThroughLoader(t *testing.T) {
	dir := t.TempDir()
	writeBatches(t, dir, 2)
	_, test, err := Load(context.Background(), Config{Dir: dir, ImageSize: 32})
	require.NoError(t, err)

	l, err := dataset.NewLoader(test, dataset.LoaderConfig{BatchSize: 4}, cpu.New())
	require.NoError(t, err)
	batch, err := l.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Size)
	assert.Equal(t, []int32{0, 1}, batch.Labels.Raw().AsInt32())
}

func TestLoad_MissingFiles(t *testing.T) {
	_, _, err := Load(context.Background(), Config{Dir: t.TempDir()})
	assert.Error(t, err)
}
