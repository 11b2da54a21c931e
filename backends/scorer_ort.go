//go:build ORT || ALL

package backends

import (
	"context"
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/knights-analytics/gliner/options"
)

// ORTScorer runs the model through onnxruntime.
type ORTScorer struct {
	session *ort.DynamicAdvancedSession
	inputs  []InputOutputInfo
	outputs []InputOutputInfo
}

func NewORTScorer(onnxBytes []byte, opts *options.Options) (Scorer, error) {
	sessionOptions, ok := opts.RuntimeOptions.(*ort.SessionOptions)
	if !ok {
		return nil, errors.New("ORT session options are not initialised, create the session with NewORTSession")
	}
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading model inputs and outputs: %w", err)
	}
	s := &ORTScorer{
		inputs:  convertORTInputOutputs(inputs),
		outputs: convertORTInputOutputs(outputs),
	}
	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		onnxBytes,
		GetNames(s.inputs),
		GetNames(s.outputs),
		sessionOptions,
	)
	if err != nil {
		return nil, fmt.Errorf("creating ORT session: %w", err)
	}
	s.session = session
	return s, nil
}

func convertORTInputOutputs(inputOutputs []ort.InputOutputInfo) []InputOutputInfo {
	converted := make([]InputOutputInfo, len(inputOutputs))
	for i, inputOutput := range inputOutputs {
		converted[i] = InputOutputInfo{
			Name:       inputOutput.Name,
			Dimensions: Shape(inputOutput.Dimensions),
		}
	}
	return converted
}

func (s *ORTScorer) Inputs() []InputOutputInfo  { return s.inputs }
func (s *ORTScorer) Outputs() []InputOutputInfo { return s.outputs }

func (s *ORTScorer) Run(ctx context.Context, inputs Tensors) (result Tensors, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	inputValues := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range inputValues {
			err = errors.Join(err, v.Destroy())
		}
	}()
	for _, info := range s.inputs {
		t, ok := inputs[info.Name]
		if !ok {
			return nil, fmt.Errorf("model input %s was not provided", info.Name)
		}
		v, convErr := toORTValue(t)
		if convErr != nil {
			return nil, fmt.Errorf("converting input %s: %w", info.Name, convErr)
		}
		inputValues = append(inputValues, v)
	}

	// nil outputs are allocated by onnxruntime with the dynamic shape it computes
	outputValues := make([]ort.Value, len(s.outputs))
	defer func() {
		for _, v := range outputValues {
			if v != nil {
				err = errors.Join(err, v.Destroy())
			}
		}
	}()
	if err = s.session.Run(inputValues, outputValues); err != nil {
		return nil, err
	}

	result = make(Tensors, len(s.outputs))
	for i, info := range s.outputs {
		var data any = outputValues[i]
		var dims []int64
		if out, ok := outputValues[i].(*ort.Tensor[float32]); ok {
			data, dims = out.GetData(), out.GetShape()
		}
		t, convErr := outputTensor(info.Name, data, dims)
		if convErr != nil {
			return nil, convErr
		}
		result[info.Name] = t
	}
	return result, nil
}

func toORTValue(t tensor.Tensor) (ort.Value, error) {
	dims := t.Shape()
	shape := make([]int64, len(dims))
	for i, d := range dims {
		shape[i] = int64(d)
	}
	switch data := t.Data().(type) {
	case []int64:
		return ort.NewTensor(ort.NewShape(shape...), data)
	case []float32:
		return ort.NewTensor(ort.NewShape(shape...), data)
	case []bool:
		raw := make([]byte, len(data))
		for i, b := range data {
			if b {
				raw[i] = 1
			}
		}
		return ort.NewCustomDataTensor(ort.NewShape(shape...), raw, ort.TensorElementDataTypeBool)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %v", t.Dtype())
	}
}

func (s *ORTScorer) Destroy() error {
	if s.session == nil {
		return nil
	}
	return s.session.Destroy()
}
