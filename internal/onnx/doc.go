// Package onnx reads, writes, builds, checks and executes ONNX models.
//
// ONNX (Open Neural Network Exchange) is a framework-independent format for a
// computation graph plus its learned parameters. This package keeps its own
// hand-written message structs and encodes them with protowire, so the
// exporters need no generated code.
//
// Key components:
//   - ModelProto and friends: the subset of onnx.proto the exporters produce
//   - Marshal / WriteFile and Parse / ParseFile: deterministic wire codec
//   - GraphBuilder: incremental graph construction used by nn layers
//   - Load / Model.Forward: a small CPU interpreter for parity checks
//   - Inspect: summary of an .onnx file
//
// Example usage:
//
//	b := onnx.NewGraphBuilder("classifier")
//	b.AddInput("input", onnx.TensorProtoFloat, onnx.FixedDims(1, 1, 32, 32))
//	out := b.AddNode("Relu", "relu", []string{"input"})
//	b.AddOutput(out, onnx.TensorProtoFloat, onnx.FixedDims(1, 1, 32, 32))
//	model := b.Model(onnx.ModelOptions{Opset: 11})
//	if err := onnx.WriteFile("relu.onnx", model); err != nil {
//	    log.Fatal(err)
//	}
package onnx
