//go:build !windows

package main

import (
	"context"

	"github.com/born-ml/transfer/internal/device"
)

func run(ctx context.Context, cmd string, o *options) error {
	return execute(ctx, cmd, o, device.NewCPU())
}
