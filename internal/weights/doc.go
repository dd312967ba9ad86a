// Package weights reads parameter containers and applies them to networks.
//
// Two encodings are supported:
//   - SafeTensors: JSON header plus raw little-endian data (F32, F64, F16, BF16).
//   - PyTorch: zip archives written by torch.save, decoded with gopickle.
//
// Open detects the encoding from the leading bytes. LoadWithFallback applies
// a container to a module in up to three attempts (strict, strict after key
// rewriting, partial) and reports which one succeeded.
package weights
