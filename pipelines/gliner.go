package pipelines

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/knights-analytics/gliner/backends"
	"github.com/knights-analytics/gliner/options"
	"github.com/knights-analytics/gliner/text"
)

// GLiNERPipeline extracts entities for labels given at inference time and,
// with a relation schema, the relations between them.
type GLiNERPipeline struct {
	Model        *backends.Model
	PipelineName string
	Splitter     text.Splitter
	Labels       []string
	Threshold    float32
	FlatNER      bool
	DupLabel     bool
	MultiLabel   bool
	MaxWidth     int
	MaxLength    int
	TokenLevel   bool

	// RelationThreshold applies to the relation pass.
	RelationThreshold float32
	Sink              RejectionSink

	logger          *zap.Logger
	special         backends.SpecialTokens
	tokenizerTiming *backends.Timings
	scorerTiming    *backends.Timings
	decoderTiming   *backends.Timings
	queries         atomic.Uint64
	documents       atomic.Uint64
	rejected        atomic.Uint64
}

type GLiNEROption = backends.PipelineOption[*GLiNERPipeline]

// WithGLiNERLabels sets the labels used by RunPipeline.
func WithGLiNERLabels(labels []string) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		if err := validateLabels(labels); err != nil {
			return err
		}
		p.Labels = labels
		return nil
	}
}

func WithGLiNERThreshold(threshold float32) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		if threshold < 0 || threshold > 1 {
			return errors.New("threshold must be between 0 and 1")
		}
		p.Threshold = threshold
		return nil
	}
}

func WithGLiNERRelationThreshold(threshold float32) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		if threshold < 0 || threshold > 1 {
			return errors.New("relation threshold must be between 0 and 1")
		}
		p.RelationThreshold = threshold
		return nil
	}
}

// WithGLiNERFlatNER forbids (true) or allows (false) overlapping spans.
func WithGLiNERFlatNER(flat bool) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		p.FlatNER = flat
		return nil
	}
}

// WithGLiNERDupLabel lets the same words carry several labels, together with WithGLiNERMultiLabel.
func WithGLiNERDupLabel(dup bool) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		p.DupLabel = dup
		return nil
	}
}

func WithGLiNERMultiLabel(multi bool) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		p.MultiLabel = multi
		return nil
	}
}

// WithGLiNERMaxWidth overrides the span width of the model config. It must
// match the width the model was exported with.
func WithGLiNERMaxWidth(maxWidth int) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		if maxWidth <= 0 {
			return errors.New("maxWidth must be positive")
		}
		p.MaxWidth = maxWidth
		return nil
	}
}

// WithGLiNERMaxLength caps the number of words read from each text.
func WithGLiNERMaxLength(maxLength int) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		if maxLength <= 0 {
			return errors.New("maxLength must be positive")
		}
		p.MaxLength = maxLength
		return nil
	}
}

func WithGLiNERSplitter(splitter text.Splitter) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		if splitter == nil {
			return errors.New("splitter must not be nil")
		}
		p.Splitter = splitter
		return nil
	}
}

// WithGLiNERRejectionSink receives the relations dropped by ExtractRelations.
func WithGLiNERRejectionSink(sink RejectionSink) GLiNEROption {
	return func(p *GLiNERPipeline) error {
		if sink == nil {
			return errors.New("rejection sink must not be nil")
		}
		p.Sink = sink
		return nil
	}
}

// NewGLiNERPipeline creates a GLiNER pipeline over a loaded model.
func NewGLiNERPipeline(config backends.PipelineConfig[*GLiNERPipeline], s *options.Options, model *backends.Model) (*GLiNERPipeline, error) {
	if model == nil {
		return nil, errors.New("GLiNER pipeline requires a model")
	}
	logger := zap.NewNop()
	if s != nil && s.Logger != nil {
		logger = s.Logger
	}
	modelConfig := model.Config
	pipeline := &GLiNERPipeline{
		Model:             model,
		PipelineName:      config.Name,
		Splitter:          text.DefaultSplitter(),
		Labels:            []string{"person", "organization", "location"},
		Threshold:         0.5,
		RelationThreshold: 0.5,
		FlatNER:           true,
		MaxWidth:          modelConfig.MaxWidth,
		MaxLength:         modelConfig.MaxLength,
		TokenLevel:        modelConfig.TokenLevel(),
		logger:            logger.With(zap.String("pipeline", config.Name)),
		tokenizerTiming:   &backends.Timings{},
		scorerTiming:      &backends.Timings{},
		decoderTiming:     &backends.Timings{},
	}
	if modelConfig.FlatNER != nil {
		pipeline.FlatNER = *modelConfig.FlatNER
	}
	if modelConfig.MultiLabel != nil {
		pipeline.MultiLabel = *modelConfig.MultiLabel
	}
	if pipeline.MaxWidth <= 0 {
		pipeline.MaxWidth = backends.DefaultMaxWidth
	}
	if pipeline.MaxLength <= 0 {
		pipeline.MaxLength = backends.DefaultMaxLength
	}
	pipeline.Sink = SinkFromEnv(pipeline.logger)

	for _, o := range config.Options {
		if err := o(pipeline); err != nil {
			return nil, err
		}
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}

	special, err := backends.GetSpecialTokens(model.Tokenizer)
	if err != nil {
		return nil, err
	}
	pipeline.special = special
	pipeline.logger.Debug("created GLiNER pipeline",
		zap.Bool("tokenLevel", pipeline.TokenLevel),
		zap.Int("maxWidth", pipeline.MaxWidth),
		zap.Float32("threshold", pipeline.Threshold),
		zap.Bool("flatNER", pipeline.FlatNER),
		zap.Bool("dupLabel", pipeline.DupLabel),
		zap.Bool("multiLabel", pipeline.MultiLabel))
	return pipeline, nil
}

func (p *GLiNERPipeline) GetModel() *backends.Model {
	return p.Model
}

func (p *GLiNERPipeline) GetStatistics() backends.PipelineStatistics {
	statistics := backends.PipelineStatistics{
		TotalQueries:      p.queries.Load(),
		TotalDocuments:    p.documents.Load(),
		RejectedRelations: p.rejected.Load(),
	}
	statistics.ComputeTokenizerStatistics(p.tokenizerTiming)
	statistics.ComputeScorerStatistics(p.scorerTiming)
	statistics.ComputeDecoderStatistics(p.decoderTiming)
	return statistics
}

func (p *GLiNERPipeline) GetStats() []string {
	return p.GetStatistics().Lines(p.PipelineName)
}

// Validate checks the configuration and that the model declares the tensors
// the pipeline feeds and reads.
func (p *GLiNERPipeline) Validate() error {
	var validationErrors []error
	if p.Model.Tokenizer == nil {
		validationErrors = append(validationErrors, errors.New("GLiNER pipeline requires a tokenizer"))
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		validationErrors = append(validationErrors, fmt.Errorf("threshold %v is not between 0 and 1", p.Threshold))
	}
	if !p.TokenLevel && p.MaxWidth <= 0 {
		validationErrors = append(validationErrors, errors.New("span-level models require a positive max width"))
	}
	if err := validateLabels(p.Labels); err != nil {
		validationErrors = append(validationErrors, err)
	}
	if err := backends.ValidateScorer(p.Model.Scorer, ExpectedInputs(p.TokenLevel), ExpectedOutputs()); err != nil {
		validationErrors = append(validationErrors, err)
	}
	return errors.Join(validationErrors...)
}

// RunPipeline extracts the configured labels from texts.
func (p *GLiNERPipeline) RunPipeline(ctx context.Context, texts []string) (*SpanOutput, error) {
	return p.RunPipelineWithLabels(ctx, texts, p.Labels)
}

// RunPipelineWithLabels extracts the given labels from texts. Spans of each
// text are returned ordered by position.
func (p *GLiNERPipeline) RunPipelineWithLabels(ctx context.Context, texts []string, labels []string) (*SpanOutput, error) {
	p.queries.Add(1)
	p.documents.Add(uint64(len(texts)))
	return p.extract(ctx, TextInput{Texts: texts, Labels: labels}, p.Threshold)
}

func (p *GLiNERPipeline) extract(ctx context.Context, input TextInput, threshold float32) (*SpanOutput, error) {
	if len(input.Texts) == 0 {
		return emptySpanOutput(input.Texts, input.Labels), nil
	}
	encode := backends.Compose3[TextInput, *EntityContext, *PromptInput, *EncodedInput](
		RawToTokenized{Splitter: p.Splitter, MaxLength: p.MaxLength},
		TokenizedToPrompt{},
		PromptsToEncoded{Tokenizer: p.Model.Tokenizer, Special: p.special, Timings: p.tokenizerTiming},
	)
	encoded, err := encode.Apply(input)
	if err != nil {
		return nil, err
	}
	if encoded.Context.NumWords == 0 {
		return emptySpanOutput(input.Texts, input.Labels), nil
	}

	score := backends.Compose[*EncodedInput, backends.TensorBatch[*EntityContext], backends.TensorBatch[*EntityContext]](
		EncodedToTensors{TokenLevel: p.TokenLevel, MaxWidth: p.MaxWidth},
		backends.ScoreStage[*EntityContext]{Scorer: p.Model.Scorer, Ctx: ctx, Timings: p.scorerTiming},
	)
	scored, err := score.Apply(encoded)
	if err != nil {
		return nil, err
	}

	decode := backends.Compose4[backends.TensorBatch[*EntityContext], *SpanOutput, *SpanOutput, *SpanOutput, *SpanOutput](
		p.decoder(threshold),
		SpanSorter{},
		GreedyResolver{FlatNER: p.FlatNER, DupLabel: p.DupLabel, MultiLabel: p.MultiLabel},
		PositionSorter{},
	)
	var output *SpanOutput
	err = p.decoderTiming.Track(func() error {
		var decodeErr error
		output, decodeErr = decode.Apply(scored)
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

func (p *GLiNERPipeline) decoder(threshold float32) backends.Stage[backends.TensorBatch[*EntityContext], *SpanOutput] {
	if p.TokenLevel {
		return TokenDecoder{Threshold: threshold}
	}
	return SpanDecoder{Threshold: threshold, MaxWidth: p.MaxWidth}
}

// ExtractRelations runs the entity pass with labels, then a relation pass
// whose labels pair every entity with each relation of the schema its label
// may be the subject of. Relations the schema does not allow are dropped and
// reported to the pipeline's rejection sink.
func (p *GLiNERPipeline) ExtractRelations(ctx context.Context, texts []string, labels []string, schema *RelationSchema) (*RelationOutput, error) {
	if schema == nil {
		return nil, errors.New("relation extraction requires a schema")
	}
	entities, err := p.RunPipelineWithLabels(ctx, texts, labels)
	if err != nil {
		return nil, err
	}
	relationInput, err := EntitiesToRelations{Schema: schema}.Apply(entities)
	if err != nil {
		return nil, err
	}
	if len(relationInput.Input.Labels) == 0 {
		p.logger.Debug("no entity matches a relation subject", zap.Int("texts", len(texts)))
		return &RelationOutput{Texts: texts, EntityLabels: labels, Relations: emptyRelations(len(texts))}, nil
	}
	spans, err := p.extract(ctx, relationInput.Input, p.RelationThreshold)
	if err != nil {
		return nil, fmt.Errorf("relation pass: %w", err)
	}
	decoder := RelationDecoder{Schema: schema, Sink: countingSink{next: p.Sink, count: &p.rejected}}
	return decoder.Apply(RelationSpans{Spans: spans, Input: relationInput})
}

func emptyRelations(n int) [][]Relation {
	relations := make([][]Relation, n)
	for i := range relations {
		relations[i] = []Relation{}
	}
	return relations
}
