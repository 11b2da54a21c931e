package pipelines

import (
	"errors"
	"fmt"
	"strings"
)

// RelationSeparator joins subject text and relation name in relation labels.
const RelationSeparator = " <> "

// RelationFormatError reports a relation label that does not split into
// exactly a subject and a relation.
type RelationFormatError struct {
	Label string
}

func (e *RelationFormatError) Error() string {
	return fmt.Sprintf("relation label %q is not of the form \"<subject>%s<relation>\"", e.Label, RelationSeparator)
}

// SchemaLookupError reports a relation unknown to the schema, or whose object
// label is not allowed for it.
type SchemaLookupError struct {
	Relation string
	Label    string
}

func (e *SchemaLookupError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("relation %s is not in the schema", e.Relation)
	}
	return fmt.Sprintf("relation %s does not accept object label %s", e.Relation, e.Label)
}

// RelationLabel builds the label the second pass scores for a subject and relation.
func RelationLabel(subject string, relation string) string {
	return subject + RelationSeparator + relation
}

// DecodeRelationLabel splits "<subject> <> <relation>".
func DecodeRelationLabel(label string) (subject string, relation string, err error) {
	parts := strings.Split(label, RelationSeparator)
	if len(parts) != 2 {
		return "", "", &RelationFormatError{Label: label}
	}
	return parts[0], parts[1], nil
}

type RelationEntity struct {
	Text  string  `json:"text"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
}

type Relation struct {
	Class    string         `json:"relation"`
	Score    float32        `json:"score"`
	Subject  RelationEntity `json:"subject"`
	Object   RelationEntity `json:"object"`
	Sequence int            `json:"-"`
	Start    int            `json:"-"`
	End      int            `json:"-"`
}

// RelationOutput holds one relation list per input text.
type RelationOutput struct {
	Texts        []string
	EntityLabels []string
	Relations    [][]Relation
}

func (o *RelationOutput) GetOutput() []any {
	out := make([]any, len(o.Relations))
	for i, relations := range o.Relations {
		out[i] = any(relations)
	}
	return out
}

// RelationInput is what the relation pass needs besides its own spans.
type RelationInput struct {
	Input        TextInput
	Context      *RelationContext
	EntityLabels []string
}

// EntitiesToRelations turns entity pass output into the relation pass input:
// for every entity and every relation whose subjects accept the entity label,
// one "<entity text> <> <relation>" label.
type EntitiesToRelations struct {
	Schema *RelationSchema
}

func (s EntitiesToRelations) Apply(entities *SpanOutput) (*RelationInput, error) {
	relationContext := NewRelationContext()
	var labels []string
	seen := map[string]struct{}{}
	for _, spans := range entities.Spans {
		for _, span := range spans {
			relationContext.AddEntity(span)
			for _, name := range s.Schema.Relations() {
				spec, _ := s.Schema.Get(name)
				if !spec.AllowsSubject(span.Label) {
					continue
				}
				label := RelationLabel(span.Text, name)
				if _, ok := seen[label]; ok {
					continue
				}
				seen[label] = struct{}{}
				labels = append(labels, label)
			}
		}
	}
	return &RelationInput{
		Input:        TextInput{Texts: entities.Texts, Labels: labels},
		Context:      relationContext,
		EntityLabels: entities.Labels,
	}, nil
}

// RelationSpans pairs the relation pass output with its input.
type RelationSpans struct {
	Spans *SpanOutput
	Input *RelationInput
}

// RelationDecoder turns relation pass spans into validated relations. Spans
// whose label cannot be decoded, or that the schema rejects, are dropped and
// handed to Sink.
type RelationDecoder struct {
	Schema *RelationSchema
	Sink   RejectionSink
}

func (d RelationDecoder) Apply(input RelationSpans) (*RelationOutput, error) {
	switch {
	case d.Schema == nil:
		return nil, errors.New("relation decoder requires a schema")
	case input.Spans == nil:
		return nil, errors.New("relation decoder requires relation pass spans")
	case input.Input == nil || input.Input.Context == nil:
		return nil, errors.New("relation decoder requires the relation context of the entity pass")
	}
	sink := d.Sink
	if sink == nil {
		sink = NopSink{}
	}
	output := &RelationOutput{
		Texts:        input.Spans.Texts,
		EntityLabels: input.Input.EntityLabels,
		Relations:    make([][]Relation, len(input.Spans.Spans)),
	}
	for seq, spans := range input.Spans.Spans {
		relations := []Relation{}
		for _, span := range spans {
			relation, err := d.decode(span, input.Input.Context)
			if err != nil {
				sink.Reject(Rejection{
					Sequence: seq,
					Label:    span.Label,
					Relation: relation.Class,
					Subject:  relation.Subject,
					Object:   relation.Object,
					Score:    span.Score,
					Reason:   err,
				})
				continue
			}
			relations = append(relations, relation)
		}
		output.Relations[seq] = relations
	}
	return output, nil
}

// decode builds the relation for a span. The object is the carrier span
// itself; the subject offsets are those recorded for its text. On error the
// returned relation is filled as far as decoding got, for the rejection record.
func (d RelationDecoder) decode(span Span, context *RelationContext) (Relation, error) {
	carrier := Offsets{Start: span.Start, End: span.End}
	objectLabel, _ := context.Label(span.Text)
	relation := Relation{
		Score:    span.Score,
		Sequence: span.Sequence,
		Start:    span.Start,
		End:      span.End,
		Object:   RelationEntity{Text: span.Text, Label: objectLabel, Score: span.Score, Start: carrier.Start, End: carrier.End},
	}
	subject, class, err := DecodeRelationLabel(span.Label)
	if err != nil {
		return relation, err
	}
	relation.Class = class
	subjectLabel, _ := context.Label(subject)
	subjectOffsets := context.Offsets(subject, carrier)
	relation.Subject = RelationEntity{Text: subject, Label: subjectLabel, Score: span.Score, Start: subjectOffsets.Start, End: subjectOffsets.End}

	spec, ok := d.Schema.Get(class)
	if !ok {
		return relation, &SchemaLookupError{Relation: class}
	}
	objectLabels := context.Labels(span.Text)
	if len(objectLabels) == 0 {
		objectLabels = []string{relation.Object.Label}
	}
	if !spec.AllowsOneOfObjects(objectLabels) {
		label := strings.Join(objectLabels, ",")
		if label == "" {
			label = "<none>"
		}
		return relation, &SchemaLookupError{Relation: class, Label: label}
	}
	return relation, nil
}
