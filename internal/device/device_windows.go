//go:build windows

package device

import (
	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/webgpu"
	"github.com/pkg/errors"
)

func webgpuAvailable() bool {
	return webgpu.IsAvailable()
}

// NewWebGPU returns an autodiff backend over the GPU and a function that
// releases it.
func NewWebGPU() (*autodiff.Backend[*webgpu.Backend], func(), error) {
	gpu, err := webgpu.New()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to initialize WebGPU")
	}
	return autodiff.New(gpu), gpu.Release, nil
}
