package onnx

import (
	"errors"
	"fmt"
)

// ErrVerification is returned when an artifact does not match what was requested.
var ErrVerification = errors.New("artifact verification failed")

// TaskDetect is the Ultralytics detection task.
const TaskDetect = "detect"

// Expectation describes what an exported artifact must look like.
// Zero values skip the corresponding check.
type Expectation struct {
	Opset     int
	ImageSize int
	Task      string
}

// Verify checks m against exp and returns every mismatch joined.
func Verify(m *Model, exp Expectation) error {
	if m == nil {
		return fmt.Errorf("%w: no model", ErrVerification)
	}

	var errs []error

	if exp.Opset > 0 {
		got, ok := m.Opset(DefaultDomain)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("no %s opset imported", DefaultDomain))
		case got != int64(exp.Opset):
			errs = append(errs, fmt.Errorf("opset is %d, requested %d", got, exp.Opset))
		}
	}

	inputs := m.Graph.RealInputs()
	if len(inputs) != 1 {
		errs = append(errs, fmt.Errorf("expected 1 input, found %d", len(inputs)))
	} else if err := checkImageInput(inputs[0], exp.ImageSize); err != nil {
		errs = append(errs, err)
	}

	task := exp.Task
	if task == "" {
		task = m.Task()
	}
	if task == TaskDetect {
		if err := checkDetectOutput(m); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrVerification, errors.Join(errs...))
	}

	return nil
}

// checkImageInput expects [1,3,S,S]; dynamic dims are accepted.
func checkImageInput(in ValueInfo, size int) error {
	if len(in.Dims) != 4 {
		return fmt.Errorf("input %q has shape %s, expected rank 4", in.Name, in.Shape())
	}

	want := []int64{1, 3, int64(size), int64(size)}
	for i, d := range in.Dims {
		if !d.IsFixed() || want[i] == 0 {
			continue
		}
		if d.Value != want[i] {
			return fmt.Errorf("input %q has shape %s, expected [1 3 %d %d]", in.Name, in.Shape(), size, size)
		}
	}

	return nil
}

// checkDetectOutput expects [1, 4+classes, N].
func checkDetectOutput(m *Model) error {
	if len(m.Graph.Outputs) == 0 {
		return errors.New("model has no outputs")
	}

	out := m.Graph.Outputs[0]
	if len(out.Dims) != 3 {
		return fmt.Errorf("output %q has shape %s, expected rank 3", out.Name, out.Shape())
	}

	names, err := m.Names()
	if err != nil {
		return err
	}
	if len(names) == 0 || !out.Dims[1].IsFixed() {
		return nil
	}
	if want := int64(4 + len(names)); out.Dims[1].Value != want {
		return fmt.Errorf("output %q has %d channels, expected %d for %d classes",
			out.Name, out.Dims[1].Value, want, len(names))
	}

	return nil
}
