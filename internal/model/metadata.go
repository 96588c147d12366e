package model

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	defaultInputName  = "input"
	defaultOutputName = "output"
)

// LoadMetadata reads the model metadata JSON and fills in defaults.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if metadata.ImageSize == 0 {
		metadata.ImageSize = DefaultImageSize
	}
	if metadata.InputName == "" {
		metadata.InputName = defaultInputName
	}
	if metadata.OutputName == "" {
		metadata.OutputName = defaultOutputName
	}
	if len(metadata.InputShape) == 0 {
		size := int64(metadata.ImageSize)
		metadata.InputShape = []int64{1, size, size, 1}
	}
	if len(metadata.OutputShape) == 0 {
		metadata.OutputShape = []int64{1, int64(len(metadata.Classes))}
	}

	if err := metadata.Validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

// Validate checks that the metadata describes a single-image grayscale
// classifier whose output width matches the label catalog.
func (m Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata lists no classes")
	}
	seen := make(map[string]int, len(m.Classes))
	for i, name := range m.Classes {
		if name == "" {
			return fmt.Errorf("class %d has an empty name", i)
		}
		if j, dup := seen[name]; dup {
			return fmt.Errorf("class %q appears at index %d and %d", name, j, i)
		}
		seen[name] = i
	}

	size := int64(m.ImageSize)
	want := []int64{1, size, size, 1}
	if !(Tensor{Shape: m.InputShape}).SameShape(want) {
		return fmt.Errorf("input shape %v, expected %v", m.InputShape, want)
	}

	if len(m.OutputShape) == 0 || m.OutputShape[len(m.OutputShape)-1] != int64(len(m.Classes)) {
		return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	return nil
}

// InputSize is the number of float32 values a single input tensor holds.
func (m Metadata) InputSize() int {
	return elements(m.InputShape)
}
