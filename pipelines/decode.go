package pipelines

import (
	"math"

	"github.com/knights-analytics/gliner/backends"
)

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

// SpanDecoder decodes span-level logits shaped
// (batch, num_words, max_width, num_labels): one score per candidate span
// starting at a word, for every width and label.
type SpanDecoder struct {
	Threshold float32
	MaxWidth  int
}

func (d SpanDecoder) Apply(input backends.TensorBatch[*EntityContext]) (*SpanOutput, error) {
	ctx := input.Context
	batchSize := len(ctx.Texts)
	numWords := ctx.NumWords
	numLabels := len(ctx.Labels)
	expected := backends.NewShape(int64(batchSize), int64(numWords), int64(d.MaxWidth), int64(numLabels))
	logits, err := input.Tensors.Float32(TensorLogits, expected)
	if err != nil {
		return nil, err
	}

	output := &SpanOutput{Texts: ctx.Texts, Labels: ctx.Labels, Spans: make([][]Span, batchSize)}
	for seq := range batchSize {
		numTokens := ctx.NumTokens(seq)
		spans := []Span{}
		for start := range numWords {
			if start >= numTokens {
				break
			}
			for width := range d.MaxWidth {
				end := start + width
				if end >= numTokens {
					break
				}
				base := ((seq*numWords+start)*d.MaxWidth + width) * numLabels
				for class := range numLabels {
					score := sigmoid(logits[base+class])
					if score < d.Threshold {
						continue
					}
					span, spanErr := ctx.NewSpan(seq, start, end, class, score)
					if spanErr != nil {
						return nil, spanErr
					}
					spans = append(spans, span)
				}
			}
		}
		output.Spans[seq] = spans
	}
	return output, nil
}

// TokenDecoder decodes token-level logits shaped
// (3, batch, num_words, num_labels), holding start, end and inside scores.
// A span i..j is emitted when word i passes as a start, word j as an end,
// and every word in between as inside; its score is the mean inside score.
type TokenDecoder struct {
	Threshold float32
}

func (d TokenDecoder) Apply(input backends.TensorBatch[*EntityContext]) (*SpanOutput, error) {
	ctx := input.Context
	batchSize := len(ctx.Texts)
	numWords := ctx.NumWords
	numLabels := len(ctx.Labels)
	expected := backends.NewShape(3, int64(batchSize), int64(numWords), int64(numLabels))
	logits, err := input.Tensors.Float32(TensorLogits, expected)
	if err != nil {
		return nil, err
	}

	plane := batchSize * numWords * numLabels
	at := func(kind, seq, word, class int) float32 {
		return sigmoid(logits[kind*plane+(seq*numWords+word)*numLabels+class])
	}
	const (
		startScores = iota
		endScores
		insideScores
	)

	output := &SpanOutput{Texts: ctx.Texts, Labels: ctx.Labels, Spans: make([][]Span, batchSize)}
	for seq := range batchSize {
		numTokens := min(ctx.NumTokens(seq), numWords)
		spans := []Span{}
		for start := range numTokens {
			for class := range numLabels {
				if at(startScores, seq, start, class) < d.Threshold {
					continue
				}
				for end := start; end < numTokens; end++ {
					if at(endScores, seq, end, class) < d.Threshold {
						continue
					}
					var sum float32
					inside := true
					for k := start; k <= end; k++ {
						s := at(insideScores, seq, k, class)
						if s < d.Threshold {
							inside = false
							break
						}
						sum += s
					}
					if !inside {
						continue
					}
					span, spanErr := ctx.NewSpan(seq, start, end, class, sum/float32(end-start+1))
					if spanErr != nil {
						return nil, spanErr
					}
					spans = append(spans, span)
				}
			}
		}
		output.Spans[seq] = spans
	}
	return output, nil
}
