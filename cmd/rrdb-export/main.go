// Command rrdb-export loads RRDBNet (ESRGAN) weights with strict, renamed and
// partial fallback, then exports the network to ONNX.
//
// Usage:
//
//	rrdb-export [--config file] [--parity] input.pth output.onnx
package main

import (
	"os"

	"github.com/born-ml/modelexport/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRRDBCommand(), os.Args[1:], os.Stdout, os.Stderr))
}
