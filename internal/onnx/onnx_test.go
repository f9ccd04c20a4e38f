package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ekisa-team/modelport/internal/onnx/onnxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func yolov8n() []byte {
	return onnxtest.Detector(onnxtest.Options{Opset: 12, ImageSize: 640, Classes: 80, Anchors: 8400})
}

func TestParse(t *testing.T) {
	m, err := Parse(yolov8n())
	require.NoError(t, err)

	assert.Equal(t, int64(8), m.IRVersion)
	assert.Equal(t, "pytorch", m.ProducerName)
	assert.Equal(t, "2.3.0", m.ProducerVersion)

	opset, ok := m.Opset(DefaultDomain)
	require.True(t, ok)
	assert.Equal(t, int64(12), opset)

	opset, ok = m.Opset("")
	require.True(t, ok)
	assert.Equal(t, int64(12), opset)

	_, ok = m.Opset("com.microsoft")
	assert.False(t, ok)

	assert.Equal(t, "main_graph", m.Graph.Name)
	assert.Equal(t, 2, m.Graph.NodeCount)
	assert.Equal(t, map[string]int{"Conv": 1, "Sigmoid": 1}, m.Graph.OpTypes)
	assert.Equal(t, 1, m.Graph.Initializers)

	require.Len(t, m.Graph.Inputs, 2)
	inputs := m.Graph.RealInputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, "images", inputs[0].Name)
	assert.Equal(t, "[1 3 640 640]", inputs[0].Shape())
	assert.Equal(t, "float32", ElemTypeName(inputs[0].ElemType))

	require.Len(t, m.Graph.Outputs, 1)
	assert.Equal(t, "[1 84 8400]", m.Graph.Outputs[0].Shape())

	assert.Equal(t, "detect", m.Task())
	names, err := m.Names()
	require.NoError(t, err)
	assert.Len(t, names, 80)
	assert.Equal(t, "class0", names[0])
}

func TestParse_SymbolicDim(t *testing.T) {
	m, err := Parse(onnxtest.Detector(onnxtest.Options{Opset: 17, ImageSize: 320, Classes: 2}))
	require.NoError(t, err)

	out := m.Graph.Outputs[0]
	assert.Equal(t, "[1 6 anchors]", out.Shape())
	assert.False(t, out.Dims[2].IsFixed())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = Parse([]byte{0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrInvalidModel)

	// Valid protobuf, but nothing that looks like a model.
	b := protowire.AppendTag(nil, 2, protowire.BytesType)
	b = protowire.AppendString(b, "x")
	_, err = Parse(b)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestParse_SkipsUnknownFields(t *testing.T) {
	b := yolov8n()
	b = protowire.AppendTag(b, 99, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)
	b = protowire.AppendTag(b, 100, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)

	m, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.IRVersion)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yolov8n.onnx")
	require.NoError(t, os.WriteFile(path, yolov8n(), 0o644))

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Opsets, 1)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseNames(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{name: "coco head", in: "{0: 'person', 1: 'bicycle', 2: 'car'}", want: []string{"person", "bicycle", "car"}},
		{name: "double quotes", in: `{0: "traffic light", 1: "stop sign"}`, want: []string{"traffic light", "stop sign"}},
		{name: "unordered", in: "{1: 'b', 0: 'a'}", want: []string{"a", "b"}},
		{name: "comma in name", in: "{0: 'a, b'}", want: []string{"a, b"}},
		{name: "empty", in: "{}", want: nil},
		{name: "not a map", in: "['a']", wantErr: true},
		{name: "gap", in: "{0: 'a', 2: 'c'}", wantErr: true},
		{name: "unquoted", in: "{0: a}", wantErr: true},
		{name: "unterminated", in: "{0: 'a}", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNames(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseImageSize(t *testing.T) {
	h, w, err := ParseImageSize("[640, 480]")
	require.NoError(t, err)
	assert.Equal(t, 640, h)
	assert.Equal(t, 480, w)

	h, w, err = ParseImageSize("320")
	require.NoError(t, err)
	assert.Equal(t, 320, h)
	assert.Equal(t, 320, w)

	_, _, err = ParseImageSize("[1, 2, 3]")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	m, err := Parse(yolov8n())
	require.NoError(t, err)

	assert.NoError(t, Verify(m, Expectation{Opset: 12, ImageSize: 640, Task: TaskDetect}))
	assert.NoError(t, Verify(m, Expectation{}))

	err = Verify(m, Expectation{Opset: 13})
	assert.ErrorIs(t, err, ErrVerification)
	assert.Contains(t, err.Error(), "opset is 12, requested 13")

	err = Verify(m, Expectation{ImageSize: 320})
	assert.ErrorIs(t, err, ErrVerification)
	assert.Contains(t, err.Error(), "expected [1 3 320 320]")

	assert.ErrorIs(t, Verify(nil, Expectation{}), ErrVerification)
}

func TestVerify_DetectOutput(t *testing.T) {
	m, err := Parse(yolov8n())
	require.NoError(t, err)

	m.Graph.Outputs[0].Dims[1].Value = 85
	err = Verify(m, Expectation{Opset: 12})
	assert.ErrorIs(t, err, ErrVerification)
	assert.Contains(t, err.Error(), "expected 84 for 80 classes")

	// Classification models carry no box channels.
	assert.NoError(t, Verify(m, Expectation{Opset: 12, Task: "classify"}))
}

func TestVerify_MultipleErrors(t *testing.T) {
	m, err := Parse(yolov8n())
	require.NoError(t, err)
	m.Opsets = nil
	m.Graph.Inputs = append(m.Graph.Inputs, ValueInfo{Name: "extra"})

	err = Verify(m, Expectation{Opset: 12})
	require.ErrorIs(t, err, ErrVerification)
	assert.Contains(t, err.Error(), "no ai.onnx opset imported")
	assert.Contains(t, err.Error(), "expected 1 input, found 2")
}

func TestDimension(t *testing.T) {
	assert.Equal(t, "batch", Dimension{Param: "batch"}.String())
	assert.Equal(t, "3", Dimension{Value: 3}.String())
	assert.True(t, Dimension{Value: 3}.IsFixed())
	assert.False(t, Dimension{}.IsFixed())
	assert.Equal(t, "type(42)", ElemTypeName(42))
}
