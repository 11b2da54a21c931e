package pipelines

import (
	"cmp"
	"slices"
	"strings"
)

// SpanSorter orders each sequence's candidates for the resolver: highest
// score first, then shorter spans, then earlier starts. Class index and label
// close the remaining ties so equal scores always resolve the same way.
type SpanSorter struct{}

func compareCandidates(a, b Span) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Width(), b.Width()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TokenStart, b.TokenStart); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Class, b.Class); c != 0 {
		return c
	}
	return strings.Compare(a.Label, b.Label)
}

func (SpanSorter) Apply(input *SpanOutput) (*SpanOutput, error) {
	return sortEach(input, compareCandidates), nil
}

// PositionSorter orders each sequence's final spans by where they appear in the text.
type PositionSorter struct{}

func comparePositions(a, b Span) int {
	if c := cmp.Compare(a.Start, b.Start); c != 0 {
		return c
	}
	if c := cmp.Compare(a.End, b.End); c != 0 {
		return c
	}
	return compareCandidates(a, b)
}

func (PositionSorter) Apply(input *SpanOutput) (*SpanOutput, error) {
	return sortEach(input, comparePositions), nil
}

func sortEach(input *SpanOutput, compare func(a, b Span) int) *SpanOutput {
	output := &SpanOutput{Texts: input.Texts, Labels: input.Labels, Spans: make([][]Span, len(input.Spans))}
	for i, spans := range input.Spans {
		sorted := slices.Clone(spans)
		if sorted == nil {
			sorted = []Span{}
		}
		slices.SortStableFunc(sorted, compare)
		output.Spans[i] = sorted
	}
	return output
}
