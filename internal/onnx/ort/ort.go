// Package ort opens exported models with onnxruntime to confirm that the
// runtime the mobile app ships can load them.
package ort

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrDisabled is returned when no onnxruntime shared library is configured.
var ErrDisabled = errors.New("onnxruntime probe disabled")

// Tensor describes one model input or output as onnxruntime sees it.
type Tensor struct {
	Name     string  `json:"name"`
	DataType string  `json:"data_type"`
	Shape    []int64 `json:"shape"`
}

// Report is what onnxruntime reports for a model.
type Report struct {
	Inputs   []Tensor          `json:"inputs"`
	Outputs  []Tensor          `json:"outputs"`
	Producer string            `json:"producer,omitempty"`
	Version  int64             `json:"version,omitempty"`
	Custom   map[string]string `json:"custom,omitempty"`
}

// Prober owns the process-wide onnxruntime environment.
type Prober struct {
	mu          sync.Mutex
	library     string
	initialized bool
}

// New returns a Prober using the given shared library.
func New(library string) (*Prober, error) {
	if library == "" {
		return nil, ErrDisabled
	}
	if _, err := os.Stat(library); err != nil {
		return nil, fmt.Errorf("onnxruntime library: %w", err)
	}

	return &Prober{library: library}, nil
}

func (p *Prober) init() error {
	if p.initialized {
		return nil
	}

	ort.SetSharedLibraryPath(p.library)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime environment: %w", err)
	}
	p.initialized = true

	return nil
}

// Probe loads the model at path and returns its signature.
func (p *Prober) Probe(path string) (*Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.init(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("onnxruntime could not load %s: %w", path, err)
	}

	report := &Report{
		Inputs:  tensors(inputs),
		Outputs: tensors(outputs),
		Custom:  map[string]string{},
	}

	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		return report, nil
	}
	defer meta.Destroy()

	if producer, err := meta.GetProducerName(); err == nil {
		report.Producer = producer
	}
	if version, err := meta.GetVersion(); err == nil {
		report.Version = version
	}
	if keys, err := meta.GetCustomMetadataMapKeys(); err == nil {
		for _, k := range keys {
			if v, ok, err := meta.LookupCustomMetadataMap(k); err == nil && ok {
				report.Custom[k] = v
			}
		}
	}

	return report, nil
}

// Close tears down the onnxruntime environment.
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}
	p.initialized = false

	return ort.DestroyEnvironment()
}

func tensors(infos []ort.InputOutputInfo) []Tensor {
	out := make([]Tensor, len(infos))
	for i, info := range infos {
		out[i] = Tensor{
			Name:     info.Name,
			DataType: info.DataType.String(),
			Shape:    append([]int64(nil), info.Dimensions...),
		}
	}
	return out
}
