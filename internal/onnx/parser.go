package onnx

import (
	"errors"
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidModel is returned for input that does not decode as a ModelProto.
var ErrInvalidModel = errors.New("invalid onnx model")

// ParseFile parses an ONNX model from file.
func ParseFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*Model, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidModel)
	}

	m := &Model{Metadata: map[string]string{}}
	if err := readModel(data, m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModel, err)
	}
	if m.IRVersion == 0 && len(m.Opsets) == 0 {
		return nil, fmt.Errorf("%w: no ir_version or opset_import", ErrInvalidModel)
	}

	return m, nil
}

// field is one decoded protobuf field. Length-delimited payloads alias the input.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// decode walks the fields of a message, skipping fixed-width values.
func decode(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}

	return nil
}

// readModel reads ModelProto.
func readModel(b []byte, m *Model) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1: // ir_version
			m.IRVersion = int64(f.varint)
		case 2: // producer_name
			m.ProducerName = string(f.bytes)
		case 3: // producer_version
			m.ProducerVersion = string(f.bytes)
		case 4: // domain
			m.Domain = string(f.bytes)
		case 5: // model_version
			m.ModelVersion = int64(f.varint)
		case 6: // doc_string
			m.DocString = string(f.bytes)
		case 7: // graph
			return readGraph(f.bytes, &m.Graph)
		case 8: // opset_import
			var o OperatorSet
			err := decode(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					o.Domain = string(f.bytes)
				case 2:
					o.Version = int64(f.varint)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("opset_import: %w", err)
			}
			m.Opsets = append(m.Opsets, o)
		case 14: // metadata_props
			var key, value string
			err := decode(f.bytes, func(f field) error {
				switch f.num {
				case 1:
					key = string(f.bytes)
				case 2:
					value = string(f.bytes)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("metadata_props: %w", err)
			}
			m.Metadata[key] = value
		}
		return nil
	})
}

// readGraph reads GraphProto.
func readGraph(b []byte, g *Graph) error {
	g.OpTypes = map[string]int{}
	g.initializerNames = map[string]bool{}

	return decode(b, func(f field) error {
		switch f.num {
		case 1: // node
			g.NodeCount++
			var opType, domain string
			err := decode(f.bytes, func(f field) error {
				switch f.num {
				case 4:
					opType = string(f.bytes)
				case 7:
					domain = string(f.bytes)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("node: %w", err)
			}
			if domain != "" && domain != DefaultDomain {
				opType = domain + "::" + opType
			}
			g.OpTypes[opType]++
		case 2: // name
			g.Name = string(f.bytes)
		case 5: // initializer
			g.Initializers++
			err := decode(f.bytes, func(f field) error {
				if f.num == 8 { // name
					g.initializerNames[string(f.bytes)] = true
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("initializer: %w", err)
			}
		case 11: // input
			vi, err := readValueInfo(f.bytes)
			if err != nil {
				return fmt.Errorf("input: %w", err)
			}
			g.Inputs = append(g.Inputs, vi)
		case 12: // output
			vi, err := readValueInfo(f.bytes)
			if err != nil {
				return fmt.Errorf("output: %w", err)
			}
			g.Outputs = append(g.Outputs, vi)
		}
		return nil
	})
}

// readValueInfo reads ValueInfoProto and its tensor type.
func readValueInfo(b []byte) (ValueInfo, error) {
	var vi ValueInfo

	err := decode(b, func(f field) error {
		switch f.num {
		case 1: // name
			vi.Name = string(f.bytes)
		case 2: // type
			return decode(f.bytes, func(f field) error {
				if f.num != 1 { // tensor_type
					return nil
				}
				return readTensorType(f.bytes, &vi)
			})
		}
		return nil
	})

	return vi, err
}

// readTensorType reads TypeProto.Tensor.
func readTensorType(b []byte, vi *ValueInfo) error {
	return decode(b, func(f field) error {
		switch f.num {
		case 1: // elem_type
			vi.ElemType = int32(f.varint)
		case 2: // shape
			return decode(f.bytes, func(f field) error {
				if f.num != 1 { // dim
					return nil
				}
				var d Dimension
				err := decode(f.bytes, func(f field) error {
					switch f.num {
					case 1:
						d.Value = int64(f.varint)
					case 2:
						d.Param = string(f.bytes)
					}
					return nil
				})
				vi.Dims = append(vi.Dims, d)
				return err
			})
		}
		return nil
	})
}
