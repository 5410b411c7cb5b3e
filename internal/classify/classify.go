// Package classify maps a preprocessed camera frame to a class label and
// confidence. The inference backend sits behind the Classifier interface;
// ONNXClassifier is the production implementation.
package classify

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// ErrLabelMismatch is returned when the model's class count differs from the
// number of labels.
var ErrLabelMismatch = errors.New("label count does not match model output")

// Tensor is a float32 image batch in NHWC layout with values in [-1, 1].
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of a single height x width RGB image.
func NewTensor(height, width int) Tensor {
	return Tensor{
		Shape: []int64{1, int64(height), int64(width), 3},
		Data:  make([]float32, height*width*3),
	}
}

// Len returns the number of elements implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return int(n)
}

// Prediction is the top class of one inference.
type Prediction struct {
	Index      int
	Label      string
	Confidence float64
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.2f)", p.Label, p.Confidence)
}

// Classifier runs inference on one frame.
type Classifier interface {
	Predict(Tensor) (Prediction, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(Tensor) (Prediction, error)

func (f ClassifierFunc) Predict(t Tensor) (Prediction, error) { return f(t) }

// Top picks the highest scoring class. The confidence is the maximum score
// and the label is the class name at that index.
func Top(scores []float32, labels LabelSet) (Prediction, error) {
	if len(scores) != labels.Len() {
		return Prediction{}, fmt.Errorf("%w: %d scores, %d labels", ErrLabelMismatch, len(scores), labels.Len())
	}
	if len(scores) == 0 {
		return Prediction{}, errors.New("empty score vector")
	}

	s := make([]float64, len(scores))
	for i, v := range scores {
		s[i] = float64(v)
	}
	idx := floats.MaxIdx(s)

	return Prediction{
		Index:      idx,
		Label:      labels.Label(idx),
		Confidence: s[idx],
	}, nil
}
