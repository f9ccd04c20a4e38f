package onnx

import (
	"fmt"
	"strings"
)

// DefaultDomain is the operator-set domain of the standard ONNX operators.
const DefaultDomain = "ai.onnx"

// Element types used in graph signatures (TensorProto.DataType).
const (
	ElemFloat   int32 = 1
	ElemUint8   int32 = 2
	ElemInt8    int32 = 3
	ElemInt32   int32 = 6
	ElemInt64   int32 = 7
	ElemFloat16 int32 = 10
	ElemDouble  int32 = 11
)

// Model is the decoded subset of an ONNX ModelProto.
type Model struct {
	IRVersion       int64             `json:"ir_version"`
	ProducerName    string            `json:"producer_name,omitempty"`
	ProducerVersion string            `json:"producer_version,omitempty"`
	Domain          string            `json:"domain,omitempty"`
	ModelVersion    int64             `json:"model_version,omitempty"`
	DocString       string            `json:"doc_string,omitempty"`
	Opsets          []OperatorSet     `json:"opsets"`
	Graph           Graph             `json:"graph"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// OperatorSet is one opset_import entry.
type OperatorSet struct {
	Domain  string `json:"domain"`
	Version int64  `json:"version"`
}

// Graph is the decoded subset of a GraphProto.
type Graph struct {
	Name         string         `json:"name,omitempty"`
	Inputs       []ValueInfo    `json:"inputs"`
	Outputs      []ValueInfo    `json:"outputs"`
	NodeCount    int            `json:"node_count"`
	OpTypes      map[string]int `json:"op_types,omitempty"`
	Initializers int            `json:"initializers"`

	initializerNames map[string]bool
}

// ValueInfo is a graph input or output.
type ValueInfo struct {
	Name     string      `json:"name"`
	ElemType int32       `json:"elem_type"`
	Dims     []Dimension `json:"dims"`
}

// Dimension is a fixed size or a symbolic name.
type Dimension struct {
	Value int64  `json:"value,omitempty"`
	Param string `json:"param,omitempty"`
}

// Opset returns the version imported for domain, treating "" and
// "ai.onnx" as the same domain.
func (m *Model) Opset(domain string) (int64, bool) {
	for _, o := range m.Opsets {
		if normalizeDomain(o.Domain) == normalizeDomain(domain) {
			return o.Version, true
		}
	}
	return 0, false
}

// RealInputs returns graph inputs that are not weight initializers.
func (g *Graph) RealInputs() []ValueInfo {
	inputs := make([]ValueInfo, 0, len(g.Inputs))
	for _, in := range g.Inputs {
		if !g.initializerNames[in.Name] {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

// Shape renders the dimensions as [1 3 640 640], using names for symbolic dims.
func (v ValueInfo) Shape() string {
	parts := make([]string, len(v.Dims))
	for i, d := range v.Dims {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// String returns the size or the symbolic name.
func (d Dimension) String() string {
	if d.Param != "" {
		return d.Param
	}
	return fmt.Sprintf("%d", d.Value)
}

// IsFixed reports whether the dimension has a static size.
func (d Dimension) IsFixed() bool {
	return d.Param == "" && d.Value > 0
}

// ElemTypeName returns a readable name for an element type.
func ElemTypeName(t int32) string {
	switch t {
	case ElemFloat:
		return "float32"
	case ElemUint8:
		return "uint8"
	case ElemInt8:
		return "int8"
	case ElemInt32:
		return "int32"
	case ElemInt64:
		return "int64"
	case ElemFloat16:
		return "float16"
	case ElemDouble:
		return "float64"
	default:
		return fmt.Sprintf("type(%d)", t)
	}
}

func normalizeDomain(d string) string {
	if d == "" {
		return DefaultDomain
	}
	return d
}
