package classify

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions locates the model artifact and its tensors.
type ONNXOptions struct {
	ModelPath  string
	LabelsPath string
	// LibraryPath is the onnxruntime shared library; empty uses the
	// platform default search.
	LibraryPath string
	InputName   string
	OutputName  string
	Height      int
	Width       int
}

// ONNXClassifier runs a Keras-exported image classifier through ONNX Runtime.
type ONNXClassifier struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	labels       LabelSet
}

// NewONNXClassifier loads the labels and the model. Any failure here is
// fatal for the controller: it must not run without its decision source.
func NewONNXClassifier(opts ONNXOptions) (*ONNXClassifier, error) {
	labels, err := LoadLabels(opts.LabelsPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("failed to stat model: %w", err)
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	classes, err := outputClasses(opts.ModelPath, opts.OutputName)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}
	if classes > 0 && classes != int64(labels.Len()) {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("%w: model has %d classes, %s has %d labels",
			ErrLabelMismatch, classes, opts.LabelsPath, labels.Len())
	}

	inputShape := ort.NewShape(1, int64(opts.Height), int64(opts.Width), 3)
	outputShape := ort.NewShape(1, int64(labels.Len()))

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		labels:       labels,
	}, nil
}

// outputClasses returns the size of the last dimension of the named output,
// or 0 when the model leaves it dynamic.
func outputClasses(modelPath, outputName string) (int64, error) {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect model: %w", err)
	}
	for _, o := range outputs {
		if o.Name != outputName {
			continue
		}
		if len(o.Dimensions) == 0 {
			return 0, nil
		}
		n := o.Dimensions[len(o.Dimensions)-1]
		if n < 0 {
			return 0, nil
		}
		return n, nil
	}
	return 0, fmt.Errorf("model has no output named %q", outputName)
}

// Labels returns the class names the classifier was loaded with.
func (c *ONNXClassifier) Labels() LabelSet { return c.labels }

// Predict runs one inference.
func (c *ONNXClassifier) Predict(t Tensor) (Prediction, error) {
	in := c.inputTensor.GetData()
	if len(t.Data) != len(in) {
		return Prediction{}, fmt.Errorf("tensor has %d values, model expects %d", len(t.Data), len(in))
	}
	copy(in, t.Data)

	if err := c.session.Run(); err != nil {
		return Prediction{}, fmt.Errorf("inference failed: %w", err)
	}

	return Top(c.outputTensor.GetData(), c.labels)
}

// Close releases the session, its tensors and the runtime environment.
func (c *ONNXClassifier) Close() {
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
	if c.session != nil {
		c.session.Destroy()
	}
	ort.DestroyEnvironment()
}
