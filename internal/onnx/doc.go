// Package onnx reads the parts of an exported ONNX model needed to check
// it: IR version, operator-set imports, graph inputs and outputs with
// their shapes, and the metadata properties exporters attach.
//
// Only the fields listed in model.go are decoded; nodes and weight
// initializers are counted by name without copying their payloads, so
// inspecting a large model costs one read of the file.
package onnx
