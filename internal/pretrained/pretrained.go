// Package pretrained resolves pretrained backbone weights by architecture
// name, downloads them into a cache and loads them into a model.Features.
//
// Supported artifacts:
//   - .safetensors with torchvision/timm naming ("features.<i>.weight")
//   - .born files written by nn.Save or SaveBackbone
package pretrained

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/born-ml/born/loader"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/transfer/internal/download"
	"github.com/born-ml/transfer/internal/model"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnknownArchitecture is returned by Lookup for unregistered names.
var ErrUnknownArchitecture = errors.New("unknown architecture")

// Architecture describes a backbone and where to get its weights.
type Architecture struct {
	Name   string
	Layers []int  // Feature configuration, see model.NewFeatures
	URL    string // Weights download location
	File   string // File name inside the cache directory
	SHA256 string // Optional hex digest of the weights file
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Architecture{}
)

func init() {
	Register(Architecture{
		Name:   "vgg11",
		Layers: model.VGG11,
		URL:    "https://huggingface.co/timm/vgg11.tv_in1k/resolve/main/model.safetensors",
		File:   "vgg11.tv_in1k.safetensors",
	})
	Register(Architecture{
		Name:   "vgg13",
		Layers: model.VGG13,
		URL:    "https://huggingface.co/timm/vgg13.tv_in1k/resolve/main/model.safetensors",
		File:   "vgg13.tv_in1k.safetensors",
	})
}

// Register adds or replaces an architecture.
func Register(arch Architecture) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[arch.Name] = arch
}

// Lookup returns the architecture registered under name.
func Lookup(name string) (Architecture, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	arch, ok := registry[name]
	if !ok {
		return Architecture{}, errors.Wrapf(ErrUnknownArchitecture, "%q (known: %s)", name, strings.Join(namesLocked(), ", "))
	}
	return arch, nil
}

// Names lists the registered architectures, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fetch makes sure the weights of arch are in cacheDir and returns their path.
func Fetch(ctx context.Context, arch Architecture, cacheDir string) (string, error) {
	path := filepath.Join(cacheDir, arch.File)
	if err := download.IfMissing(ctx, arch.URL, path, arch.SHA256); err != nil {
		return "", errors.WithMessagef(err, "fetching %s weights", arch.Name)
	}
	return path, nil
}

// Options configures NewBackbone.
type Options struct {
	CacheDir string // Where downloaded weights live (default: download.CacheDir())
	Weights  string // Explicit weights file; skips the download
}

// NewBackbone builds the named architecture and loads its pretrained weights.
func NewBackbone[B tensor.Backend](ctx context.Context, name string, opts Options, backend B) (*model.Features[B], error) {
	arch, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	path := opts.Weights
	if path == "" {
		cacheDir := opts.CacheDir
		if cacheDir == "" {
			cacheDir = download.CacheDir()
		}
		if path, err = Fetch(ctx, arch, cacheDir); err != nil {
			return nil, err
		}
	}
	backbone := model.NewFeatures(arch.Layers, 3, backend)
	if err := LoadBackbone(path, backbone, backend); err != nil {
		return nil, errors.WithMessagef(err, "loading %s", name)
	}
	klog.Infof("Loaded %s backbone from %s (%d parameters)", name, path, model.CountParameters(backbone.Parameters()))
	return backbone, nil
}

// LoadBackbone reads weights into backbone, choosing the reader by file
// extension.
func LoadBackbone[B tensor.Backend](path string, backbone *model.Features[B], backend B) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return loadSafeTensors(path, backbone, backend)
	case ".born":
		if _, err := nn.Load[B](path, backend, backbone); err != nil {
			return errors.Wrapf(err, "failed to load %q", path)
		}
		return nil
	default:
		return errors.Errorf("unsupported weights file %q (expected .safetensors or .born)", path)
	}
}

// loadSafeTensors copies the backbone's tensors out of a safetensors file.
// Tensors the backbone does not use, such as a classifier head, are skipped.
func loadSafeTensors[B tensor.Backend](path string, backbone *model.Features[B], backend B) error {
	reader, err := loader.OpenModel(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = reader.Close() }()

	want := backbone.StateDict()
	sd := make(map[string]*tensor.RawTensor, len(want))
	skipped := 0
	for _, name := range reader.TensorNames() {
		if _, ok := want[name]; !ok {
			skipped++
			continue
		}
		raw, err := reader.LoadTensor(name, backend)
		if err != nil {
			return errors.Wrapf(err, "failed to read tensor %q", name)
		}
		sd[name] = raw
	}
	if skipped > 0 {
		klog.V(1).Infof("Skipped %d tensors of %q not used by the backbone", skipped, path)
	}
	return backbone.LoadStateDict(sd)
}

// SaveBackbone writes backbone weights as a .born file.
func SaveBackbone[B tensor.Backend](path, name string, backbone *model.Features[B]) error {
	if err := nn.Save[B](backbone, path, "Features", map[string]string{"architecture": name}); err != nil {
		return errors.Wrapf(err, "failed to save %q", path)
	}
	return nil
}
