package backends

import (
	"context"
	"fmt"
	"slices"

	"gorgonia.org/tensor"
)

type InputOutputInfo struct {
	// The name of the input or output
	Name string
	// The input or output's dimensions, if it's a tensor. This should be
	// ignored for non-tensor types.
	Dimensions Shape
}

// Scorer runs the neural model: named tensors in, named tensors out.
type Scorer interface {
	Inputs() []InputOutputInfo
	Outputs() []InputOutputInfo
	Run(ctx context.Context, inputs Tensors) (Tensors, error)
	Destroy() error
}

func GetNames(info []InputOutputInfo) []string {
	names := make([]string, 0, len(info))
	for _, v := range info {
		names = append(names, v.Name)
	}
	return names
}

// ValidateScorer checks that the scorer declares every tensor a pipeline
// feeds and reads, so that mismatched models fail before the first batch.
func ValidateScorer(scorer Scorer, expectedInputs []string, expectedOutputs []string) error {
	if scorer == nil {
		return fmt.Errorf("no scorer configured")
	}
	if err := ValidateTensorNames("input", GetNames(scorer.Inputs()), expectedInputs); err != nil {
		return err
	}
	return ValidateTensorNames("output", GetNames(scorer.Outputs()), expectedOutputs)
}

// ScoreStage wraps a scorer call as a pipeline stage. The scorer only sees
// the tensors, the context travels alongside untouched.
type ScoreStage[C any] struct {
	Scorer  Scorer
	Ctx     context.Context
	Timings *Timings
}

// TensorBatch pairs tensors with the batch context they were computed for.
type TensorBatch[C any] struct {
	Tensors Tensors
	Context C
}

func (s ScoreStage[C]) Apply(input TensorBatch[C]) (TensorBatch[C], error) {
	ctx := s.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return TensorBatch[C]{}, err
	}
	var outputs Tensors
	err := s.Timings.Track(func() error {
		var runErr error
		outputs, runErr = s.Scorer.Run(ctx, input.Tensors)
		return runErr
	})
	if err != nil {
		return TensorBatch[C]{}, fmt.Errorf("running scorer: %w", err)
	}
	return TensorBatch[C]{Tensors: outputs, Context: input.Context}, nil
}

// outputTensor copies float32 scorer output into a tensor of the given shape.
// Runtimes free their buffers after a run, so the data is never aliased.
func outputTensor(name string, data any, dims []int64) (tensor.Tensor, error) {
	values, ok := data.([]float32)
	if !ok {
		return nil, fmt.Errorf("output %s has type %T, expected float32 data", name, data)
	}
	shape := make([]int, len(dims))
	total := 1
	for i, d := range dims {
		shape[i] = int(d)
		total *= int(d)
	}
	if total != len(values) {
		return nil, fmt.Errorf("output %s holds %d values for shape %v", name, len(values), dims)
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(slices.Clone(values))), nil
}
