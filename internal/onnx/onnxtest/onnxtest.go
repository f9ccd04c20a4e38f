// Package onnxtest builds small ONNX ModelProto payloads for tests.
package onnxtest

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Options describes a synthetic detection model.
type Options struct {
	Opset     int64
	ImageSize int64
	Classes   int
	Task      string
	// Anchors is the last output dimension; 0 leaves it symbolic.
	Anchors int64
}

// Detector returns a YOLO-like detection model with the given opset, a
// single [1,3,S,S] float input and an output [1,4+classes,anchors].
func Detector(o Options) []byte {
	if o.Task == "" {
		o.Task = "detect"
	}

	names := make([]string, o.Classes)
	for i := range names {
		names[i] = fmt.Sprintf("%d: 'class%d'", i, i)
	}

	var b []byte
	b = appendVarint(b, 1, 8) // ir_version
	b = appendString(b, 2, "pytorch")
	b = appendString(b, 3, "2.3.0")
	b = appendBytes(b, 7, graph(o))
	b = appendBytes(b, 8, opset("", o.Opset))
	b = appendBytes(b, 14, entry("task", o.Task))
	b = appendBytes(b, 14, entry("imgsz", fmt.Sprintf("[%d, %d]", o.ImageSize, o.ImageSize)))
	b = appendBytes(b, 14, entry("names", "{"+strings.Join(names, ", ")+"}"))
	return b
}

func graph(o Options) []byte {
	var g []byte
	g = appendBytes(g, 1, node("Conv", ""))
	g = appendBytes(g, 1, node("Sigmoid", ""))
	g = appendString(g, 2, "main_graph")
	g = appendBytes(g, 5, initializer("model.0.conv.weight"))
	g = appendBytes(g, 11, valueInfo("images", 1, dim(1), dim(3), dim(o.ImageSize), dim(o.ImageSize)))
	g = appendBytes(g, 11, valueInfo("model.0.conv.weight", 1, dim(16), dim(3), dim(3), dim(3)))

	anchors := symbolic("anchors")
	if o.Anchors > 0 {
		anchors = dim(o.Anchors)
	}
	g = appendBytes(g, 12, valueInfo("output0", 1, dim(1), dim(int64(4+o.Classes)), anchors))
	return g
}

func node(opType, domain string) []byte {
	var b []byte
	b = appendString(b, 4, opType)
	if domain != "" {
		b = appendString(b, 7, domain)
	}
	return b
}

func initializer(name string) []byte {
	var b []byte
	b = appendVarint(b, 1, 16) // dims
	b = appendVarint(b, 2, 1)  // data_type
	b = appendString(b, 8, name)
	return b
}

func valueInfo(name string, elem uint64, dims ...[]byte) []byte {
	var shape []byte
	for _, d := range dims {
		shape = appendBytes(shape, 1, d)
	}

	var tensor []byte
	tensor = appendVarint(tensor, 1, elem)
	tensor = appendBytes(tensor, 2, shape)

	var typ []byte
	typ = appendBytes(typ, 1, tensor)

	var b []byte
	b = appendString(b, 1, name)
	b = appendBytes(b, 2, typ)
	return b
}

func dim(v int64) []byte {
	return appendVarint(nil, 1, uint64(v))
}

func symbolic(name string) []byte {
	return appendString(nil, 2, name)
}

func opset(domain string, version int64) []byte {
	var b []byte
	if domain != "" {
		b = appendString(b, 1, domain)
	}
	return appendVarint(b, 2, uint64(version))
}

func entry(key, value string) []byte {
	var b []byte
	b = appendString(b, 1, key)
	return appendString(b, 2, value)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
