package pipelines

import (
	"fmt"
	"slices"

	"github.com/knights-analytics/gliner/text"
)

// EntityContext is the batch metadata every stage reads. It is built once
// per batch by the input stages and never modified afterwards.
type EntityContext struct {
	Texts  []string
	Tokens [][]text.Token
	Labels []string
	// NumWords is the longest word count in the batch, the padded word axis of the tensors.
	NumWords int
}

func (c *EntityContext) NumTokens(sequence int) int {
	if sequence < 0 || sequence >= len(c.Tokens) {
		return 0
	}
	return len(c.Tokens[sequence])
}

// NewSpan builds the span covering words start..end (inclusive) of a sequence.
func (c *EntityContext) NewSpan(sequence int, start int, end int, class int, score float32) (Span, error) {
	numTokens := c.NumTokens(sequence)
	if start < 0 || start > end || end >= numTokens {
		return Span{}, fmt.Errorf("span [%d, %d] out of range for sequence %d with %d words", start, end, sequence, numTokens)
	}
	if class < 0 || class >= len(c.Labels) {
		return Span{}, fmt.Errorf("class %d out of range for %d labels", class, len(c.Labels))
	}
	tokens := c.Tokens[sequence]
	startOffset := tokens[start].Start
	endOffset := tokens[end].End
	return Span{
		Text:       c.Texts[sequence][startOffset:endOffset],
		Label:      c.Labels[class],
		Score:      score,
		Start:      startOffset,
		End:        endOffset,
		Sequence:   sequence,
		TokenStart: start,
		TokenEnd:   end,
		Class:      class,
	}, nil
}

// Offsets locate an entity in its text.
type Offsets struct {
	Start int
	End   int
}

// RelationContext maps entity surface text to what the entity pass found for it.
// Keys are surface strings, so repeated strings share one entry: labels
// accumulate in first-seen order and offsets are those of the first occurrence.
type RelationContext struct {
	EntityLabels  map[string][]string
	EntityOffsets map[string]Offsets
}

func NewRelationContext() *RelationContext {
	return &RelationContext{
		EntityLabels:  map[string][]string{},
		EntityOffsets: map[string]Offsets{},
	}
}

func (c *RelationContext) AddEntity(span Span) {
	if !slices.Contains(c.EntityLabels[span.Text], span.Label) {
		c.EntityLabels[span.Text] = append(c.EntityLabels[span.Text], span.Label)
	}
	if _, ok := c.EntityOffsets[span.Text]; !ok {
		c.EntityOffsets[span.Text] = Offsets{Start: span.Start, End: span.End}
	}
}

// Label returns the first label recorded for the text.
func (c *RelationContext) Label(entity string) (string, bool) {
	labels := c.EntityLabels[entity]
	if len(labels) == 0 {
		return "", false
	}
	return labels[0], true
}

func (c *RelationContext) Labels(entity string) []string {
	return c.EntityLabels[entity]
}

// Offsets returns the recorded offsets for the text, or fallback when unknown.
func (c *RelationContext) Offsets(entity string, fallback Offsets) Offsets {
	if offsets, ok := c.EntityOffsets[entity]; ok {
		return offsets
	}
	return fallback
}
