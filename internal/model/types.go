package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultImageSize is the square side the classifier was trained on.
const DefaultImageSize = 128

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     LabelSet `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int64) Tensor {
	return Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  make([]float32, elements(shape)),
	}
}

// SameShape reports whether t has exactly the given dimensions.
func (t Tensor) SameShape(shape []int64) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i := range shape {
		if t.Shape[i] != shape[i] {
			return false
		}
	}
	return true
}

func elements(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return int(n)
}

// LabelSet maps a class index to its name. Index 0 is the first entry.
type LabelSet []string

// Name returns the label for class index i.
func (l LabelSet) Name(i int) (string, error) {
	if i < 0 || i >= len(l) {
		return "", fmt.Errorf("class index %d outside label set of size %d", i, len(l))
	}
	return l[i], nil
}

type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// RankedResult holds every class ordered by descending confidence. It
// encodes to a JSON object whose keys keep that order.
type RankedResult []Prediction

// Top returns the highest-confidence prediction.
func (r RankedResult) Top() (Prediction, bool) {
	if len(r) == 0 {
		return Prediction{}, false
	}
	return r[0], true
}

func (r RankedResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.Confidence)
		if err != nil {
			return nil, fmt.Errorf("confidence for %q: %w", p.Label, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *RankedResult) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("ranked result: expected object, got %v", tok)
	}

	out := RankedResult{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("ranked result: expected key, got %v", tok)
		}
		var conf float32
		if err := dec.Decode(&conf); err != nil {
			return fmt.Errorf("ranked result %q: %w", label, err)
		}
		out = append(out, Prediction{Label: label, Confidence: conf})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Class       string       `json:"class"`
	Confidence  float32      `json:"confidence"`
	Predictions RankedResult `json:"predictions"`
}
