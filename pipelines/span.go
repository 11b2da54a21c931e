package pipelines

// Span is a labeled, scored word range of one input text. Start and End are
// byte offsets into the text (End exclusive); TokenStart and TokenEnd are the
// inclusive word indices the model scored.
type Span struct {
	Text       string    `json:"text"`
	Label      string    `json:"label"`
	Score      float32   `json:"score"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Sequence   int       `json:"-"`
	TokenStart int       `json:"-"`
	TokenEnd   int       `json:"-"`
	Class      int       `json:"-"`
}

// Width is the number of words covered minus one.
func (s Span) Width() int {
	return s.TokenEnd - s.TokenStart
}

func (s Span) SameBoundary(other Span) bool {
	return s.TokenStart == other.TokenStart && s.TokenEnd == other.TokenEnd
}

// Overlaps reports whether the inclusive word ranges share at least one word.
func (s Span) Overlaps(other Span) bool {
	return !(s.TokenStart > other.TokenEnd || other.TokenStart > s.TokenEnd)
}

// SpanOutput holds one span list per input text, in input order.
type SpanOutput struct {
	Texts  []string
	Labels []string
	Spans  [][]Span
}

func (o *SpanOutput) GetOutput() []any {
	out := make([]any, len(o.Spans))
	for i, spans := range o.Spans {
		out[i] = any(spans)
	}
	return out
}

func emptySpanOutput(texts []string, labels []string) *SpanOutput {
	spans := make([][]Span, len(texts))
	for i := range spans {
		spans[i] = []Span{}
	}
	return &SpanOutput{Texts: texts, Labels: labels, Spans: spans}
}
