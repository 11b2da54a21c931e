package pipelines

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knights-analytics/gliner/backends"
	"github.com/knights-analytics/gliner/text"
)

const (
	entityToken    = "<<ENT>>"
	separatorToken = "<<SEP>>"

	TensorInputIDs      = "input_ids"
	TensorAttentionMask = "attention_mask"
	TensorWordsMask     = "words_mask"
	TensorTextLengths   = "text_lengths"
	TensorSpanIdx       = "span_idx"
	TensorSpanMask      = "span_mask"
	TensorLogits        = "logits"
)

// TextInput is a batch of texts with the labels to extract from all of them.
type TextInput struct {
	Texts  []string
	Labels []string
}

func validateLabels(labels []string) error {
	if len(labels) == 0 {
		return errors.New("at least one label is required")
	}
	seen := make(map[string]struct{}, len(labels))
	var errs []error
	for _, label := range labels {
		if strings.TrimSpace(label) == "" {
			errs = append(errs, errors.New("labels must not be empty"))
			continue
		}
		if _, ok := seen[label]; ok {
			errs = append(errs, fmt.Errorf("duplicate label %q", label))
		}
		seen[label] = struct{}{}
	}
	return errors.Join(errs...)
}

// RawToTokenized splits every text into words.
type RawToTokenized struct {
	Splitter  text.Splitter
	MaxLength int
}

func (s RawToTokenized) Apply(input TextInput) (*EntityContext, error) {
	if err := validateLabels(input.Labels); err != nil {
		return nil, err
	}
	ctx := &EntityContext{
		Texts:  input.Texts,
		Tokens: make([][]text.Token, len(input.Texts)),
		Labels: input.Labels,
	}
	for i, t := range input.Texts {
		ctx.Tokens[i] = s.Splitter.Split(t, s.MaxLength)
		ctx.NumWords = max(ctx.NumWords, len(ctx.Tokens[i]))
	}
	return ctx, nil
}

// PromptInput is one word list per text: the label prompt followed by the text words.
type PromptInput struct {
	Context *EntityContext
	Prompts [][]string
	// PromptLength is the number of leading prompt words that belong to the labels.
	PromptLength int
}

// TokenizedToPrompt prepends "<<ENT>> label ... <<SEP>>" to the words of each text.
type TokenizedToPrompt struct{}

func (TokenizedToPrompt) Apply(ctx *EntityContext) (*PromptInput, error) {
	prefix := make([]string, 0, 2*len(ctx.Labels)+1)
	for _, label := range ctx.Labels {
		prefix = append(prefix, entityToken, label)
	}
	prefix = append(prefix, separatorToken)

	prompts := make([][]string, len(ctx.Texts))
	for i, tokens := range ctx.Tokens {
		prompt := make([]string, 0, len(prefix)+len(tokens))
		prompt = append(prompt, prefix...)
		for _, tok := range tokens {
			prompt = append(prompt, tok.Text)
		}
		prompts[i] = prompt
	}
	return &PromptInput{Context: ctx, Prompts: prompts, PromptLength: len(prefix)}, nil
}

// EncodedInput holds padded, row-major encodings of a batch.
type EncodedInput struct {
	Context        *EntityContext
	InputIDs       []int64
	AttentionMasks []int64
	WordMasks      []int64
	TextLengths    []int64
	SequenceLength int
}

// PromptsToEncoded encodes each prompt word on its own and marks the first
// sub-token of every text word with its 1-based word index in words_mask.
type PromptsToEncoded struct {
	Tokenizer backends.Tokenizer
	Special   backends.SpecialTokens
	Timings   *backends.Timings
}

func (s PromptsToEncoded) Apply(input *PromptInput) (*EncodedInput, error) {
	batchSize := len(input.Prompts)
	ids := make([][]int64, batchSize)
	wordMasks := make([][]int64, batchSize)
	maxLength := 0

	err := s.Timings.Track(func() error {
		for i, prompt := range input.Prompts {
			seqIDs := make([]int64, 0, len(prompt)*2+len(s.Special.Begin)+len(s.Special.End))
			seqMask := make([]int64, 0, cap(seqIDs))
			for _, id := range s.Special.Begin {
				seqIDs = append(seqIDs, int64(id))
				seqMask = append(seqMask, 0)
			}
			wordIndex := int64(0)
			for position, word := range prompt {
				encoded, err := s.Tokenizer.Encode(word, false)
				if err != nil {
					return fmt.Errorf("encoding %q: %w", word, err)
				}
				isTextWord := position >= input.PromptLength
				if isTextWord {
					wordIndex++
				}
				for k, id := range encoded {
					seqIDs = append(seqIDs, int64(id))
					if isTextWord && k == 0 {
						seqMask = append(seqMask, wordIndex)
					} else {
						seqMask = append(seqMask, 0)
					}
				}
				if isTextWord && len(encoded) == 0 {
					return fmt.Errorf("tokenizer produced no ids for word %q", word)
				}
			}
			for _, id := range s.Special.End {
				seqIDs = append(seqIDs, int64(id))
				seqMask = append(seqMask, 0)
			}
			ids[i] = seqIDs
			wordMasks[i] = seqMask
			maxLength = max(maxLength, len(seqIDs))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	encoded := &EncodedInput{
		Context:        input.Context,
		InputIDs:       make([]int64, batchSize*maxLength),
		AttentionMasks: make([]int64, batchSize*maxLength),
		WordMasks:      make([]int64, batchSize*maxLength),
		TextLengths:    make([]int64, batchSize),
		SequenceLength: maxLength,
	}
	for i := range ids {
		row := i * maxLength
		copy(encoded.InputIDs[row:], ids[i])
		copy(encoded.WordMasks[row:], wordMasks[i])
		for j := range ids[i] {
			encoded.AttentionMasks[row+j] = 1
		}
		encoded.TextLengths[i] = int64(input.Context.NumTokens(i))
	}
	return encoded, nil
}

// EncodedToTensors builds the scorer inputs. Span-level models also get the
// candidate span grid: every (start, start+width) pair, masked out when the
// end falls past the text.
type EncodedToTensors struct {
	TokenLevel bool
	MaxWidth   int
}

func (s EncodedToTensors) Apply(input *EncodedInput) (backends.TensorBatch[*EntityContext], error) {
	batchSize := len(input.TextLengths)
	seqLength := input.SequenceLength
	tensors := backends.Tensors{
		TensorInputIDs:      backends.NewInt64Tensor(input.InputIDs, batchSize, seqLength),
		TensorAttentionMask: backends.NewInt64Tensor(input.AttentionMasks, batchSize, seqLength),
		TensorWordsMask:     backends.NewInt64Tensor(input.WordMasks, batchSize, seqLength),
		TensorTextLengths:   backends.NewInt64Tensor(input.TextLengths, batchSize, 1),
	}
	if !s.TokenLevel {
		if s.MaxWidth <= 0 {
			return backends.TensorBatch[*EntityContext]{}, fmt.Errorf("max width must be positive, got %d", s.MaxWidth)
		}
		numWords := input.Context.NumWords
		numSpans := numWords * s.MaxWidth
		spanIdx := make([]int64, batchSize*numSpans*2)
		spanMask := make([]bool, batchSize*numSpans)
		for b := range batchSize {
			textLength := int(input.TextLengths[b])
			for start := range numWords {
				for width := range s.MaxWidth {
					end := start + width
					if end >= textLength {
						continue
					}
					k := b*numSpans + start*s.MaxWidth + width
					spanMask[k] = true
					spanIdx[2*k] = int64(start)
					spanIdx[2*k+1] = int64(end)
				}
			}
		}
		tensors[TensorSpanIdx] = backends.NewInt64Tensor(spanIdx, batchSize, numSpans, 2)
		tensors[TensorSpanMask] = backends.NewBoolTensor(spanMask, batchSize, numSpans)
	}
	return backends.TensorBatch[*EntityContext]{Tensors: tensors, Context: input.Context}, nil
}

// ExpectedInputs lists the tensors a model must accept in the given mode.
func ExpectedInputs(tokenLevel bool) []string {
	inputs := []string{TensorInputIDs, TensorAttentionMask, TensorWordsMask, TensorTextLengths}
	if !tokenLevel {
		inputs = append(inputs, TensorSpanIdx, TensorSpanMask)
	}
	return inputs
}

// ExpectedOutputs lists the tensors the decoders read.
func ExpectedOutputs() []string {
	return []string{TensorLogits}
}
