// Package operators implements the ONNX operators the exporters emit, on
// top of the CPU kernels. The graph interpreter dispatches every node
// through a Registry.
package operators
