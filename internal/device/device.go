// Package device selects the compute backend. The selection is process-wide
// and defaults to the CPU.
package device

import (
	"strings"
	"sync"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kind names a compute device.
type Kind string

const (
	CPU    Kind = "cpu"
	WebGPU Kind = "webgpu"
)

// ErrUnavailable is returned when selecting a device this machine or build
// cannot use.
var ErrUnavailable = errors.New("device unavailable")

var (
	mu      sync.Mutex
	current = CPU
)

// Parse validates a device name. Matching is case-insensitive.
func Parse(name string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(name))); k {
	case CPU, WebGPU:
		return k, nil
	default:
		return "", errors.Errorf("unknown device %q (want %q or %q)", name, CPU, WebGPU)
	}
}

// Available reports whether k can be used.
func Available(k Kind) bool {
	switch k {
	case CPU:
		return true
	case WebGPU:
		return webgpuAvailable()
	default:
		return false
	}
}

// Select makes the named device current. The previous choice is kept when
// the device is unknown or unavailable.
func Select(name string) (Kind, error) {
	k, err := Parse(name)
	if err != nil {
		return "", err
	}
	if !Available(k) {
		return "", errors.Wrapf(ErrUnavailable, "%s", k)
	}
	mu.Lock()
	current = k
	mu.Unlock()
	klog.V(1).Infof("Selected device %s", k)
	return k, nil
}

// Current returns the selected device.
func Current() Kind {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// NewCPU returns an autodiff backend over the CPU. Its tape starts stopped.
func NewCPU() *autodiff.Backend[*cpu.Backend] {
	return autodiff.New(cpu.New())
}
