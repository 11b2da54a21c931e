package backends

import (
	"fmt"
	"slices"

	"gorgonia.org/tensor"
)

// Shape holds tensor dimensions. -1 marks a dynamic axis in model metadata.
type Shape []int64

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

func (s Shape) ValuesInt() []int {
	output := make([]int, len(s))
	for i, v := range s {
		output[i] = int(v)
	}
	return output
}

// NewShape returns a Shape with the given dimensions.
func NewShape(dimensions ...int64) Shape {
	return dimensions
}

// ShapeOf returns the shape of a gorgonia tensor.
func ShapeOf(t tensor.Tensor) Shape {
	dims := t.Shape()
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = int64(d)
	}
	return s
}

// Tensors are named scorer inputs or outputs.
type Tensors map[string]tensor.Tensor

// Names returns the tensor names in sorted order.
func (t Tensors) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Float32 returns the flat row-major data of the named tensor after checking
// that it exists and has exactly the expected shape.
func (t Tensors) Float32(name string, expected Shape) ([]float32, error) {
	value, ok := t[name]
	if !ok || value == nil {
		return nil, &MissingTensorError{Tensor: name, Available: t.Names()}
	}
	actual := ShapeOf(value)
	if !slices.Equal(actual, expected) {
		return nil, &ShapeMismatchError{Tensor: name, Expected: expected, Actual: actual}
	}
	var data []float32
	switch d := value.Data().(type) {
	case []float32:
		data = d
	case float32:
		data = []float32{d}
	default:
		return nil, fmt.Errorf("tensor %s has dtype %v, expected float32", name, value.Dtype())
	}
	if len(data) != value.Shape().TotalSize() {
		return nil, fmt.Errorf("tensor %s holds %d values for shape %s", name, len(data), actual)
	}
	return data, nil
}

func NewFloat32Tensor(backing []float32, dims ...int) tensor.Tensor {
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

func NewInt64Tensor(backing []int64, dims ...int) tensor.Tensor {
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

func NewBoolTensor(backing []bool, dims ...int) tensor.Tensor {
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}
