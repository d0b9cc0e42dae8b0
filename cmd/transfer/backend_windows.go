//go:build windows

package main

import (
	"context"

	"github.com/born-ml/transfer/internal/device"
)

func run(ctx context.Context, cmd string, o *options) error {
	if device.Current() == device.WebGPU {
		backend, release, err := device.NewWebGPU()
		if err != nil {
			return err
		}
		defer release()
		return execute(ctx, cmd, o, backend)
	}
	return execute(ctx, cmd, o, device.NewCPU())
}
