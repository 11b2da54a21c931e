package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu         sync.Mutex
	rejections []Rejection
}

func (s *recordingSink) Reject(r Rejection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = append(s.rejections, r)
}

func locatedInSchema() *RelationSchema {
	return NewRelationSchema().Push("locatedIn", []string{"City"}, []string{"Country"})
}

const parisText = "Paris is in France. John lives there."

func parisEntities() *SpanOutput {
	return &SpanOutput{
		Texts:  []string{parisText},
		Labels: []string{"City", "Country", "Person"},
		Spans: [][]Span{{
			{Text: "Paris", Label: "City", Score: 0.9, Start: 0, End: 5, TokenStart: 0, TokenEnd: 0},
			{Text: "France", Label: "Country", Score: 0.8, Start: 12, End: 18, TokenStart: 3, TokenEnd: 3, Class: 1},
			{Text: "John", Label: "Person", Score: 0.7, Start: 20, End: 24, TokenStart: 5, TokenEnd: 5, Class: 2},
		}},
	}
}

func TestDecodeRelationLabel(t *testing.T) {
	subject, relation, err := DecodeRelationLabel("Paris <> locatedIn")
	require.NoError(t, err)
	assert.Equal(t, "Paris", subject)
	assert.Equal(t, "locatedIn", relation)
	assert.Equal(t, "Paris <> locatedIn", RelationLabel(subject, relation))

	for _, label := range []string{"Paris-locatedIn", "a <> b <> c", ""} {
		_, _, err = DecodeRelationLabel(label)
		var formatErr *RelationFormatError
		require.ErrorAs(t, err, &formatErr, label)
		assert.Equal(t, label, formatErr.Label)
	}
}

func TestEntitiesToRelations(t *testing.T) {
	schema := locatedInSchema().Push("livesIn", []string{"Person"}, []string{"City", "Country"})
	input, err := EntitiesToRelations{Schema: schema}.Apply(parisEntities())
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris <> locatedIn", "John <> livesIn"}, input.Input.Labels)
	assert.Equal(t, []string{parisText}, input.Input.Texts)
	assert.Equal(t, []string{"City", "Country", "Person"}, input.EntityLabels)
	assert.Equal(t, Offsets{Start: 12, End: 18}, input.Context.Offsets("France", Offsets{}))
}

func TestRelationDecoder(t *testing.T) {
	entities := parisEntities()
	input, err := EntitiesToRelations{Schema: locatedInSchema()}.Apply(entities)
	require.NoError(t, err)

	relationSpans := &SpanOutput{
		Texts:  entities.Texts,
		Labels: input.Input.Labels,
		Spans: [][]Span{{
			{Text: "France", Label: "Paris <> locatedIn", Score: 0.95, Start: 12, End: 18},
			{Text: "France", Label: "Paris-locatedIn", Score: 0.9, Start: 12, End: 18},
			{Text: "John", Label: "Paris <> locatedIn", Score: 0.85, Start: 20, End: 24},
			{Text: "France", Label: "Paris <> bornIn", Score: 0.8, Start: 12, End: 18},
			{Text: "Europe", Label: "Paris <> locatedIn", Score: 0.75, Start: 30, End: 36},
		}},
	}
	sink := &recordingSink{}
	output, err := RelationDecoder{Schema: locatedInSchema(), Sink: sink}.Apply(RelationSpans{Spans: relationSpans, Input: input})
	require.NoError(t, err)

	assert.Equal(t, entities.Texts, output.Texts)
	assert.Equal(t, entities.Labels, output.EntityLabels)
	require.Len(t, output.Relations, 1)
	require.Len(t, output.Relations[0], 1)
	relation := output.Relations[0][0]
	assert.Equal(t, "locatedIn", relation.Class)
	assert.Equal(t, float32(0.95), relation.Score)
	assert.Equal(t, RelationEntity{Text: "Paris", Label: "City", Score: 0.95, Start: 0, End: 5}, relation.Subject)
	assert.Equal(t, RelationEntity{Text: "France", Label: "Country", Score: 0.95, Start: 12, End: 18}, relation.Object)

	require.Len(t, sink.rejections, 4)
	var formatErr *RelationFormatError
	assert.ErrorAs(t, sink.rejections[0].Reason, &formatErr)
	assert.Equal(t, "Paris-locatedIn", sink.rejections[0].Label)

	var lookupErr *SchemaLookupError
	require.ErrorAs(t, sink.rejections[1].Reason, &lookupErr)
	assert.Equal(t, "Person", lookupErr.Label)
	assert.Equal(t, "Person", sink.rejections[1].Object.Label)
	assert.Equal(t, 20, sink.rejections[1].Object.Start)

	require.ErrorAs(t, sink.rejections[2].Reason, &lookupErr)
	assert.Equal(t, "bornIn", lookupErr.Relation)
	assert.Empty(t, lookupErr.Label)

	require.ErrorAs(t, sink.rejections[3].Reason, &lookupErr)
	assert.Equal(t, "<none>", lookupErr.Label)
}

func TestRelationDecoderFirstMatchWins(t *testing.T) {
	relationContext := NewRelationContext()
	relationContext.AddEntity(Span{Text: "Jordan", Label: "Person", Start: 0, End: 6})
	relationContext.AddEntity(Span{Text: "Jordan", Label: "Country", Start: 30, End: 36})
	assert.Equal(t, []string{"Person", "Country"}, relationContext.Labels("Jordan"))
	assert.Equal(t, Offsets{Start: 0, End: 6}, relationContext.Offsets("Jordan", Offsets{}))
	assert.Equal(t, Offsets{Start: 1, End: 2}, relationContext.Offsets("Amman", Offsets{Start: 1, End: 2}))

	schema := NewRelationSchema().Push("capitalOf", []string{"City"}, []string{"Country"})
	relationContext.AddEntity(Span{Text: "Amman", Label: "City", Start: 10, End: 15})
	spans := &SpanOutput{Texts: []string{"t"}, Spans: [][]Span{{{Text: "Jordan", Label: "Amman <> capitalOf", Score: 0.9, Start: 30, End: 36}}}}
	output, err := RelationDecoder{Schema: schema}.Apply(RelationSpans{Spans: spans, Input: &RelationInput{Context: relationContext}})
	require.NoError(t, err)
	require.Len(t, output.Relations[0], 1)
	object := output.Relations[0][0].Object
	// the full label set is checked, the reported label is the first one seen
	assert.Equal(t, "Person", object.Label)
	assert.Equal(t, 30, object.Start)
	assert.Equal(t, 10, output.Relations[0][0].Subject.Start)
}

func TestRelationSchema(t *testing.T) {
	schema := NewRelationSchema().
		Push("locatedIn", []string{"City"}, []string{"Country"}).
		Push("worksFor", []string{"Person"}, []string{"Organization"}).
		Push("locatedIn", []string{"Organization"}, []string{"City"})
	assert.Equal(t, []string{"locatedIn", "worksFor"}, schema.Relations())
	assert.Equal(t, 2, schema.Len())
	spec, ok := schema.Get("locatedIn")
	require.True(t, ok)
	assert.Equal(t, []string{"Organization"}, spec.Subjects)
	assert.False(t, spec.AllowsSubject("City"))
	assert.True(t, spec.AllowsOneOfObjects([]string{"Person", "City"}))
	_, ok = schema.Get("bornIn")
	assert.False(t, ok)
	assert.NoError(t, schema.Validate())

	assert.Error(t, NewRelationSchema().Validate())
	err := NewRelationSchema().Push("x", nil, []string{"A"}).Validate()
	assert.ErrorContains(t, err, "relation x has no subject labels")
}

func TestParseRelationSchema(t *testing.T) {
	schema, err := ParseRelationSchema([]byte(`
relations:
  - name: locatedIn
    subjects: [City]
    objects: [Country]
  - name: worksFor
    subjects: [Person]
    objects: [Organization, Company]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"locatedIn", "worksFor"}, schema.Relations())
	spec, _ := schema.Get("worksFor")
	assert.Equal(t, []string{"Organization", "Company"}, spec.Objects)

	_, err = ParseRelationSchema([]byte("relations: [{name: x, subjects: [A]}]"))
	assert.ErrorContains(t, err, "no object labels")
	_, err = ParseRelationSchema([]byte("relations: {"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relations:\n  - name: r\n    subjects: [A]\n    objects: [B]\n"), 0o600))
	loaded, err := LoadRelationSchema(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, loaded.Relations())
}

func TestSinks(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	t.Setenv(DebugRelationsEnv, "")
	assert.IsType(t, NopSink{}, SinkFromEnv(logger))
	t.Setenv(DebugRelationsEnv, "true")
	sink := SinkFromEnv(logger)
	require.IsType(t, ZapSink{}, sink)

	sink.Reject(Rejection{
		Label:    "Paris <> locatedIn",
		Relation: "locatedIn",
		Subject:  RelationEntity{Text: "Paris", Label: "City"},
		Object:   RelationEntity{Text: "John", Label: "Person", Start: 20, End: 24},
		Score:    0.8,
		Reason:   &SchemaLookupError{Relation: "locatedIn", Label: "Person"},
	})
	entries := logs.FilterMessage("relation rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "John", fields["object"])
	assert.Equal(t, "Person", fields["objectLabel"])
	assert.Equal(t, int64(20), fields["objectStart"])
	assert.Contains(t, fields["reason"], "does not accept object label Person")
}

func TestSinkFromEnvDisabledLoggers(t *testing.T) {
	t.Setenv(DebugRelationsEnv, "1")
	for name, logger := range map[string]*zap.Logger{"nil": nil, "nop": zap.NewNop()} {
		t.Run(name, func(t *testing.T) {
			sink := SinkFromEnv(logger)
			require.IsType(t, ZapSink{}, sink)
			assert.True(t, sink.(ZapSink).Logger.Core().Enabled(RejectionLevel))
		})
	}
}

func TestSinkFromEnvProductionLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejections.log")
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{path}
	logger, err := config.Build()
	require.NoError(t, err)

	t.Setenv(DebugRelationsEnv, "true")
	SinkFromEnv(logger).Reject(Rejection{
		Label:    "Paris <> bornIn",
		Relation: "bornIn",
		Reason:   &SchemaLookupError{Relation: "bornIn"},
	})
	_ = logger.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"relation rejected"`)
	assert.Contains(t, lines[0], `"relation":"bornIn"`)
}

func TestRelationDecoderIncompleteInput(t *testing.T) {
	decoder := RelationDecoder{Schema: locatedInSchema()}
	spans := &SpanOutput{Texts: []string{"t"}, Spans: [][]Span{{}}}

	for name, input := range map[string]RelationSpans{
		"no spans":   {Input: &RelationInput{Context: NewRelationContext()}},
		"no input":   {Spans: spans},
		"no context": {Spans: spans, Input: &RelationInput{}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := decoder.Apply(input)
				assert.Error(t, err)
			})
		})
	}

	_, err := RelationDecoder{}.Apply(RelationSpans{Spans: spans, Input: &RelationInput{Context: NewRelationContext()}})
	assert.ErrorContains(t, err, "requires a schema")
}
