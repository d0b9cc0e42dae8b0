// Package cifar downloads and reads the CIFAR-10 dataset in its binary
// format. Information about it in https://www.cs.toronto.edu/~kriz/cifar.html
package cifar

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/born-ml/transfer/internal/dataset"
	"github.com/born-ml/transfer/internal/download"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	URL     = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	TarName = "cifar-10-binary.tar.gz"
	SubDir  = "cifar-10-batches-bin"
	SHA256  = "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd"

	// ExamplesPerFile is the number of records in each batch file.
	ExamplesPerFile = 10000
)

// Width, Height and Depth are the dimensions of the stored images.
const (
	Width  = 32
	Height = 32
	Depth  = 3

	imageSizeBytes = Width * Height * Depth
	recordSize     = 1 + imageSizeBytes
)

// Labels are the CIFAR-10 class names, indexed by label.
var Labels = []string{"airplane", "automobile", "bird", "cat", "deer", "dog", "frog", "horse", "ship", "truck"}

var (
	trainFiles = []string{"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin"}
	testFiles  = []string{"test_batch.bin"}
)

// Config configures loading.
type Config struct {
	Dir           string                 // Base directory; the archive is extracted into Dir/cifar-10-batches-bin
	ImageSize     int                    // Output height and width (default: 224)
	Normalization *dataset.Normalization // nil keeps pixels in [0, 1]
	Limit         int                    // Max examples per split (0 = all)
	Download      bool                   // Download the archive if missing
}

// Download fetches and extracts CIFAR-10 into baseDir, if not there yet.
func Download(ctx context.Context, baseDir string) error {
	return download.AndUntarIfMissing(ctx, URL, baseDir, TarName, SubDir, SHA256)
}

// Load reads the training and test partitions.
func Load(ctx context.Context, cfg Config) (train, test *Dataset, err error) {
	if cfg.ImageSize == 0 {
		cfg.ImageSize = 224
	}
	if cfg.Download {
		if err = Download(ctx, cfg.Dir); err != nil {
			return nil, nil, err
		}
	}
	dir := filepath.Join(cfg.Dir, SubDir)
	if train, err = loadFiles(dir, trainFiles, cfg); err != nil {
		return nil, nil, errors.WithMessage(err, "loading CIFAR-10 train partition")
	}
	if test, err = loadFiles(dir, testFiles, cfg); err != nil {
		return nil, nil, errors.WithMessage(err, "loading CIFAR-10 test partition")
	}
	klog.Infof("CIFAR-10: %d train / %d test examples (%s raw)", train.Len(), test.Len(),
		humanize.IBytes(uint64(len(train.records)+len(test.records))))
	return train, test, nil
}

func loadFiles(dir string, names []string, cfg Config) (*Dataset, error) {
	d := &Dataset{size: cfg.ImageSize, norm: cfg.Normalization}
	for _, name := range names {
		if cfg.Limit > 0 && d.Len() >= cfg.Limit {
			break
		}
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open %q", path)
		}
		records, err := ReadRecords(bufio.NewReader(f))
		_ = f.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "file %q", path)
		}
		d.records = append(d.records, records...)
	}
	if cfg.Limit > 0 && d.Len() > cfg.Limit {
		d.records = d.records[:cfg.Limit*recordSize]
	}
	return d, nil
}

// ReadRecords reads binary records (one label byte followed by 3072 CHW
// pixel bytes) until EOF.
func ReadRecords(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read records")
	}
	if len(data)%recordSize != 0 {
		return nil, errors.Errorf("truncated data: %d bytes is not a multiple of the %d-byte record", len(data), recordSize)
	}
	for i := 0; i < len(data); i += recordSize {
		if int(data[i]) >= len(Labels) {
			return nil, errors.Errorf("record %d has label %d, want < %d", i/recordSize, data[i], len(Labels))
		}
	}
	return data, nil
}

// Dataset is one CIFAR-10 partition held as raw records. Examples are
// upscaled to the configured size when read.
type Dataset struct {
	records []byte
	size    int
	norm    *dataset.Normalization
}

// NewDataset wraps raw records, as returned by ReadRecords.
func NewDataset(records []byte, imageSize int, norm *dataset.Normalization) *Dataset {
	return &Dataset{records: records, size: imageSize, norm: norm}
}

// Len implements dataset.Dataset.
func (d *Dataset) Len() int {
	return len(d.records) / recordSize
}

// Example implements dataset.Dataset.
func (d *Dataset) Example(i int) ([]float32, int32, error) {
	if i < 0 || i >= d.Len() {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", i, d.Len())
	}
	record := d.records[i*recordSize : (i+1)*recordSize]
	label := int32(record[0])
	var pixels []float32
	if d.size == Width {
		pixels = make([]float32, imageSizeBytes)
		for j, b := range record[1:] {
			pixels[j] = float32(b) / 255
		}
	} else {
		pixels = dataset.FromImage(d.Image(i), d.size)
	}
	d.norm.Apply(pixels, Depth, d.size, d.size)
	return pixels, label, nil
}

// Image returns example i at its native 32x32 resolution.
func (d *Dataset) Image(i int) image.Image {
	record := d.records[i*recordSize : (i+1)*recordSize]
	img := image.NewNRGBA(image.Rect(0, 0, Width, Height))
	plane := Width * Height
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			pos := y*Width + x
			off := img.PixOffset(x, y)
			img.Pix[off] = record[1+pos]
			img.Pix[off+1] = record[1+plane+pos]
			img.Pix[off+2] = record[1+2*plane+pos]
			img.Pix[off+3] = 255
		}
	}
	return img
}

// Shape implements dataset.Dataset.
func (d *Dataset) Shape() (channels, height, width int) {
	return Depth, d.size, d.size
}

// Classes implements dataset.Dataset.
func (d *Dataset) Classes() []string {
	return Labels
}

// String implements fmt.Stringer.
func (d *Dataset) String() string {
	return fmt.Sprintf("CIFAR-10(%d examples, %dx%d)", d.Len(), d.size, d.size)
}
