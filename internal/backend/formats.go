package backend

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Format describes an export target and the artifact name it produces.
type Format struct {
	// Name is the value passed as format=.
	Name string

	// Suffix is appended to the checkpoint stem to name the artifact.
	Suffix string

	// Dir reports whether the artifact is a directory.
	Dir bool

	// TakesOpset reports whether the format honours an operator-set version.
	TakesOpset bool
}

var formats = map[string]Format{
	"torchscript": {Name: "torchscript", Suffix: ".torchscript"},
	"onnx":        {Name: "onnx", Suffix: ".onnx", TakesOpset: true},
	"openvino":    {Name: "openvino", Suffix: "_openvino_model", Dir: true},
	"engine":      {Name: "engine", Suffix: ".engine", TakesOpset: true},
	"coreml":      {Name: "coreml", Suffix: ".mlpackage", Dir: true},
	"saved_model": {Name: "saved_model", Suffix: "_saved_model", Dir: true},
	"pb":          {Name: "pb", Suffix: ".pb"},
	"tfjs":        {Name: "tfjs", Suffix: "_web_model", Dir: true},
	"paddle":      {Name: "paddle", Suffix: "_paddle_model", Dir: true},
	"mnn":         {Name: "mnn", Suffix: ".mnn"},
	"ncnn":        {Name: "ncnn", Suffix: "_ncnn_model", Dir: true},
}

// LookupFormat returns the format named name (case-insensitive).
func LookupFormat(name string) (Format, error) {
	f, ok := formats[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Format{}, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedFormat, name, strings.Join(FormatNames(), ", "))
	}

	return f, nil
}

// FormatNames lists the supported format names.
func FormatNames() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// ArtifactName returns the artifact file name for a checkpoint path.
func (f Format) ArtifactName(checkpointPath string) string {
	base := filepath.Base(checkpointPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + f.Suffix
}
