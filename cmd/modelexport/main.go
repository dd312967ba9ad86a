// Command modelexport inspects and checks ONNX files and seeds weight files.
package main

import (
	"os"

	"github.com/born-ml/modelexport/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewToolCommand(), os.Args[1:], os.Stdout, os.Stderr))
}
