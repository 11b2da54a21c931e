package pipelines

// GreedyResolver selects the final spans of each sequence from candidates
// sorted by SpanSorter. Candidates are taken in order and kept unless they
// conflict with one already kept.
//
// This is a greedy heuristic for the maximum-weight independent set over the
// conflict graph, not an exact solver. Given the same sorted input it always
// returns the same spans in the same order.
//
// Conflict rules:
//   - same words and same label: always a conflict
//   - same words, different label: allowed only with both DupLabel and MultiLabel
//   - different but overlapping words: a conflict only with FlatNER
//   - disjoint words: never a conflict
type GreedyResolver struct {
	FlatNER    bool
	DupLabel   bool
	MultiLabel bool
}

func (r GreedyResolver) conflicts(candidate Span, accepted Span) bool {
	if candidate.SameBoundary(accepted) {
		if candidate.Label == accepted.Label {
			return true
		}
		return !(r.DupLabel && r.MultiLabel)
	}
	if !candidate.Overlaps(accepted) {
		return false
	}
	return r.FlatNER
}

// Resolve returns the kept spans in the order they were accepted.
func (r GreedyResolver) Resolve(candidates []Span) []Span {
	accepted := make([]Span, 0, len(candidates))
	for _, candidate := range candidates {
		keep := true
		for _, a := range accepted {
			if r.conflicts(candidate, a) {
				keep = false
				break
			}
		}
		if keep {
			accepted = append(accepted, candidate)
		}
	}
	return accepted
}

func (r GreedyResolver) Apply(input *SpanOutput) (*SpanOutput, error) {
	output := &SpanOutput{Texts: input.Texts, Labels: input.Labels, Spans: make([][]Span, len(input.Spans))}
	for i, spans := range input.Spans {
		output.Spans[i] = r.Resolve(spans)
	}
	return output, nil
}
