package backends

import (
	"context"
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// GoScorer runs the model with the pure Go gonnx runtime. It supports a
// smaller operator set than onnxruntime but needs no shared library.
type GoScorer struct {
	model   *gonnx.Model
	inputs  []InputOutputInfo
	outputs []InputOutputInfo
}

func NewGoScorer(onnxBytes []byte) (*GoScorer, error) {
	model, err := gonnx.NewModelFromBytes(onnxBytes)
	if err != nil {
		return nil, fmt.Errorf("loading onnx model with gonnx: %w", err)
	}
	s := &GoScorer{model: model}

	inputShapes := model.InputShapes()
	for _, name := range model.InputNames() {
		shape := inputShapes[name]
		dims := make(Shape, len(shape))
		for i, d := range shape {
			dims[i] = d.Size
		}
		s.inputs = append(s.inputs, InputOutputInfo{Name: name, Dimensions: dims})
	}
	outputShapes := model.OutputShapes()
	for _, name := range model.OutputNames() {
		shape := outputShapes[name]
		dims := make(Shape, len(shape))
		for i, d := range shape {
			dims[i] = d.Size
		}
		s.outputs = append(s.outputs, InputOutputInfo{Name: name, Dimensions: dims})
	}
	return s, nil
}

func (s *GoScorer) Inputs() []InputOutputInfo  { return s.inputs }
func (s *GoScorer) Outputs() []InputOutputInfo { return s.outputs }

// Run feeds only the tensors the model declares; the rest are ignored so
// span-mode inputs can be built once for models with and without span_idx.
func (s *GoScorer) Run(ctx context.Context, inputs Tensors) (Tensors, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feed := make(map[string]tensor.Tensor, len(s.inputs))
	for _, info := range s.inputs {
		t, ok := inputs[info.Name]
		if !ok {
			return nil, fmt.Errorf("model input %s was not provided", info.Name)
		}
		feed[info.Name] = t
	}
	outputs, err := s.model.Run(feed)
	if err != nil {
		return nil, err
	}
	return Tensors(outputs), nil
}

func (s *GoScorer) Destroy() error {
	return nil
}
