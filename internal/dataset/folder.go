package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// imageExtensions lists the formats imaging can decode.
var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true,
}

// FolderOptions configures an ImageFolder.
type FolderOptions struct {
	Size          int            // Output height and width (default: 224)
	Flip          bool           // Random horizontal flips
	Seed          int64          // Seed for the flip decisions
	Normalization *Normalization // nil keeps pixels in [0, 1]
}

// ImageFolder is a dataset laid out as root/<class>/<image>, one
// sub-directory per class. Labels follow the sorted directory names.
// Images are decoded on demand.
type ImageFolder struct {
	root    string
	opts    FolderOptions
	classes []string
	files   []string
	labels  []int32
	rng     *rand.Rand
}

// NewImageFolder scans root for class directories and their images.
func NewImageFolder(root string, opts FolderOptions) (*ImageFolder, error) {
	if opts.Size == 0 {
		opts.Size = 224
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image folder %q", root)
	}

	f := &ImageFolder{
		root: root,
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)), //nolint:gosec // Augmentation only
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label := int32(len(f.classes))
		classDir := filepath.Join(root, entry.Name())
		images, err := os.ReadDir(classDir)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read class directory %q", classDir)
		}
		count := 0
		for _, img := range images {
			if img.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(img.Name()))] {
				continue
			}
			f.files = append(f.files, filepath.Join(classDir, img.Name()))
			f.labels = append(f.labels, label)
			count++
		}
		if count == 0 {
			klog.Warningf("Class directory %q has no images, skipping", classDir)
			continue
		}
		f.classes = append(f.classes, entry.Name())
	}
	if len(f.files) == 0 {
		return nil, errors.Errorf("no images found under %q", root)
	}
	return f, nil
}

// Len implements Dataset.
func (f *ImageFolder) Len() int {
	return len(f.files)
}

// Example implements Dataset. It decodes, crops and normalizes the image.
func (f *ImageFolder) Example(i int) ([]float32, int32, error) {
	if i < 0 || i >= len(f.files) {
		return nil, 0, errors.Errorf("index %d out of range [0, %d)", i, len(f.files))
	}
	img, err := imaging.Open(f.files[i], imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "failed to decode %q", f.files[i])
	}
	if f.opts.Flip && f.rng.Intn(2) == 0 {
		img = imaging.FlipH(img)
	}
	pixels := FromImage(img, f.opts.Size)
	f.opts.Normalization.Apply(pixels, 3, f.opts.Size, f.opts.Size)
	return pixels, f.labels[i], nil
}

// Shape implements Dataset.
func (f *ImageFolder) Shape() (channels, height, width int) {
	return 3, f.opts.Size, f.opts.Size
}

// Classes implements Dataset.
func (f *ImageFolder) Classes() []string {
	return f.classes
}

// Path returns the file backing example i.
func (f *ImageFolder) Path(i int) string {
	return f.files[i]
}
