package onnx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Metadata keys written by Ultralytics exports.
const (
	MetaNames  = "names"
	MetaImgsz  = "imgsz"
	MetaTask   = "task"
	MetaStride = "stride"
	MetaBatch  = "batch"
)

// ParseNames parses the class map Ultralytics stores in metadata,
// e.g. {0: 'person', 1: 'bicycle'}, into names ordered by index.
func ParseNames(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("names: expected a mapping, got %q", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return nil, nil
	}

	byIndex := map[int]string{}
	for len(body) > 0 {
		colon := strings.IndexByte(body, ':')
		if colon < 0 {
			return nil, fmt.Errorf("names: missing ':' in %q", body)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(body[:colon]))
		if err != nil {
			return nil, fmt.Errorf("names: bad index: %w", err)
		}

		rest := strings.TrimSpace(body[colon+1:])
		if rest == "" || (rest[0] != '\'' && rest[0] != '"') {
			return nil, fmt.Errorf("names: expected quoted name for index %d", idx)
		}
		quote := rest[0]
		end := strings.IndexByte(rest[1:], quote)
		if end < 0 {
			return nil, fmt.Errorf("names: unterminated name for index %d", idx)
		}
		byIndex[idx] = rest[1 : end+1]

		body = strings.TrimSpace(rest[end+2:])
		body = strings.TrimSpace(strings.TrimPrefix(body, ","))
	}

	indices := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	names := make([]string, len(indices))
	for i, idx := range indices {
		if idx != i {
			return nil, fmt.Errorf("names: indices are not contiguous at %d", i)
		}
		names[i] = byIndex[idx]
	}

	return names, nil
}

// ParseImageSize parses the imgsz metadata, e.g. [640, 640] or 640.
func ParseImageSize(s string) (height, width int, err error) {
	s = strings.Trim(strings.TrimSpace(s), "[]()")
	parts := strings.Split(s, ",")
	switch len(parts) {
	case 1:
		height, err = strconv.Atoi(strings.TrimSpace(parts[0]))
		return height, height, err
	case 2:
		if height, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
			return 0, 0, err
		}
		width, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		return height, width, err
	default:
		return 0, 0, fmt.Errorf("imgsz: unexpected value %q", s)
	}
}

// Names returns the class names stored in the model metadata, if any.
func (m *Model) Names() ([]string, error) {
	raw, ok := m.Metadata[MetaNames]
	if !ok {
		return nil, nil
	}
	return ParseNames(raw)
}

// Task returns the Ultralytics task recorded in metadata.
func (m *Model) Task() string {
	return m.Metadata[MetaTask]
}
