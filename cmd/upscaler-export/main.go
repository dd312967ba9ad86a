// Command upscaler-export converts a .pth checkpoint into the simple 4x
// upscaler ONNX graph.
//
// Usage:
//
//	upscaler-export [--config file] [--parity] input.pth output.onnx
package main

import (
	"os"

	"github.com/born-ml/modelexport/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewUpscalerCommand(), os.Args[1:], os.Stdout, os.Stderr))
}
