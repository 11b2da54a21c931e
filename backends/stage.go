package backends

// Stage is a single transformation step of a pipeline.
type Stage[I, O any] interface {
	Apply(input I) (O, error)
}

// StageFunc adapts a plain function to a Stage.
type StageFunc[I, O any] func(input I) (O, error)

func (f StageFunc[I, O]) Apply(input I) (O, error) {
	return f(input)
}

type composed[I, M, O any] struct {
	first  Stage[I, M]
	second Stage[M, O]
}

func (c composed[I, M, O]) Apply(input I) (O, error) {
	mid, err := c.first.Apply(input)
	if err != nil {
		var zero O
		return zero, err
	}
	return c.second.Apply(mid)
}

// Compose chains a and b. The output type of a must be the input type of b,
// which the compiler checks at the call site. Errors from either stage are
// returned unchanged and b never runs if a fails.
func Compose[I, M, O any](a Stage[I, M], b Stage[M, O]) Stage[I, O] {
	return composed[I, M, O]{first: a, second: b}
}

func Compose3[I, M1, M2, O any](a Stage[I, M1], b Stage[M1, M2], c Stage[M2, O]) Stage[I, O] {
	return Compose(Compose(a, b), c)
}

func Compose4[I, M1, M2, M3, O any](a Stage[I, M1], b Stage[M1, M2], c Stage[M2, M3], d Stage[M3, O]) Stage[I, O] {
	return Compose(Compose3(a, b, c), d)
}
