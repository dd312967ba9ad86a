// Command classifier-export writes the LeNet-style image classifier, with
// freshly initialized weights, to an ONNX file.
package main

import (
	"os"

	"github.com/born-ml/modelexport/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewClassifierCommand(), os.Args[1:], os.Stdout, os.Stderr))
}
