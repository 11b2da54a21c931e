package pipelines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(start, end int, label string, score float32) Span {
	return Span{Text: label, Label: label, Score: score, Start: start * 10, End: end*10 + 5, TokenStart: start, TokenEnd: end}
}

func labelsOf(spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Label + "@" + string(rune('0'+s.TokenStart)) + string(rune('0'+s.TokenEnd))
	}
	return out
}

func TestGreedyResolverPolicies(t *testing.T) {
	candidates := []Span{
		candidate(0, 1, "person", 0.9),
		candidate(0, 1, "organization", 0.8),
		candidate(1, 2, "location", 0.7),
		candidate(3, 3, "location", 0.6),
	}
	tests := []struct {
		name     string
		resolver GreedyResolver
		expected []string
	}{
		{"flat", GreedyResolver{FlatNER: true}, []string{"person@01", "location@33"}},
		{"nested", GreedyResolver{}, []string{"person@01", "location@12", "location@33"}},
		{"dup label alone", GreedyResolver{DupLabel: true}, []string{"person@01", "location@12", "location@33"}},
		{"multi label alone", GreedyResolver{MultiLabel: true}, []string{"person@01", "location@12", "location@33"}},
		{"dup and multi label", GreedyResolver{DupLabel: true, MultiLabel: true}, []string{"person@01", "organization@01", "location@12", "location@33"}},
		{"flat with dup and multi label", GreedyResolver{FlatNER: true, DupLabel: true, MultiLabel: true}, []string{"person@01", "organization@01", "location@33"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, labelsOf(tt.resolver.Resolve(candidates)))
		})
	}
}

func TestGreedyResolverSameLabelSameWords(t *testing.T) {
	resolver := GreedyResolver{DupLabel: true, MultiLabel: true}
	kept := resolver.Resolve([]Span{candidate(0, 1, "person", 0.9), candidate(0, 1, "person", 0.6)})
	require.Len(t, kept, 1)
	assert.Equal(t, float32(0.9), kept[0].Score)
}

func TestGreedyResolverNested(t *testing.T) {
	candidates := []Span{candidate(0, 2, "a", 0.9), candidate(1, 3, "b", 0.8)}
	assert.Equal(t, []string{"a@02", "b@13"}, labelsOf(GreedyResolver{}.Resolve(candidates)))
	assert.Equal(t, []string{"a@02"}, labelsOf(GreedyResolver{FlatNER: true}.Resolve(candidates)))
}

// The resolver is a greedy heuristic: the top-scoring span wins even when
// two lower ones would carry more total score.
func TestGreedyResolverIsHeuristic(t *testing.T) {
	candidates := []Span{candidate(1, 2, "wide", 0.9), candidate(0, 1, "left", 0.8), candidate(2, 3, "right", 0.8)}
	assert.Equal(t, []string{"wide@12"}, labelsOf(GreedyResolver{FlatNER: true}.Resolve(candidates)))
}

func TestGreedyResolverDeterministic(t *testing.T) {
	candidates := []Span{
		candidate(0, 1, "person", 0.8),
		candidate(1, 2, "organization", 0.8),
		candidate(0, 0, "person", 0.8),
		candidate(2, 3, "location", 0.5),
		candidate(0, 1, "location", 0.8),
	}
	sorted, err := SpanSorter{}.Apply(&SpanOutput{Spans: [][]Span{candidates}})
	require.NoError(t, err)
	input := append([]Span(nil), sorted.Spans[0]...)

	for _, resolver := range []GreedyResolver{
		{FlatNER: true},
		{},
		{FlatNER: true, DupLabel: true, MultiLabel: true},
	} {
		first := resolver.Resolve(sorted.Spans[0])
		second := resolver.Resolve(sorted.Spans[0])
		assert.Equal(t, first, second)
		assert.Equal(t, input, sorted.Spans[0])
	}
}

func TestGreedyResolverApply(t *testing.T) {
	input := &SpanOutput{
		Texts:  []string{"a", "b"},
		Labels: []string{"x"},
		Spans:  [][]Span{{candidate(0, 0, "x", 0.9)}, nil},
	}
	output, err := GreedyResolver{FlatNER: true}.Apply(input)
	require.NoError(t, err)
	assert.Equal(t, input.Texts, output.Texts)
	require.Len(t, output.Spans, 2)
	assert.Len(t, output.Spans[0], 1)
	assert.NotNil(t, output.Spans[1])
	assert.Empty(t, output.Spans[1])
}

func TestSpanSorter(t *testing.T) {
	spans := []Span{
		{Label: "b", Class: 1, Score: 0.5, TokenStart: 2, TokenEnd: 2},
		{Label: "a", Class: 0, Score: 0.5, TokenStart: 2, TokenEnd: 2},
		{Label: "a", Class: 0, Score: 0.5, TokenStart: 0, TokenEnd: 0},
		{Label: "a", Class: 0, Score: 0.5, TokenStart: 0, TokenEnd: 1},
		{Label: "a", Class: 0, Score: 0.9, TokenStart: 3, TokenEnd: 5},
	}
	original := append([]Span(nil), spans...)
	output, err := SpanSorter{}.Apply(&SpanOutput{Spans: [][]Span{spans, nil}})
	require.NoError(t, err)

	sorted := output.Spans[0]
	assert.Equal(t, float32(0.9), sorted[0].Score)
	assert.Equal(t, Span{Label: "a", Class: 0, Score: 0.5, TokenStart: 0, TokenEnd: 0}, sorted[1])
	assert.Equal(t, Span{Label: "a", Class: 0, Score: 0.5, TokenStart: 2, TokenEnd: 2}, sorted[2])
	assert.Equal(t, Span{Label: "b", Class: 1, Score: 0.5, TokenStart: 2, TokenEnd: 2}, sorted[3])
	assert.Equal(t, 1, sorted[4].Width())
	assert.Equal(t, original, spans, "input must not be reordered")
	assert.NotNil(t, output.Spans[1])
}

func TestPositionSorter(t *testing.T) {
	spans := []Span{candidate(3, 3, "c", 0.9), candidate(0, 1, "a", 0.5), candidate(0, 0, "b", 0.7)}
	output, err := PositionSorter{}.Apply(&SpanOutput{Spans: [][]Span{spans}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b@00", "a@01", "c@33"}, labelsOf(output.Spans[0]))
}
