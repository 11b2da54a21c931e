package pipelines

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/knights-analytics/gliner/util/fileutil"
)

// RelationSpec lists the entity labels a relation accepts on each side.
type RelationSpec struct {
	Subjects []string `yaml:"subjects"`
	Objects  []string `yaml:"objects"`
}

func (s RelationSpec) AllowsSubject(label string) bool {
	return slices.Contains(s.Subjects, label)
}

func (s RelationSpec) AllowsObject(label string) bool {
	return slices.Contains(s.Objects, label)
}

// AllowsOneOfObjects reports whether any of the labels is an allowed object.
func (s RelationSpec) AllowsOneOfObjects(labels []string) bool {
	return slices.ContainsFunc(labels, s.AllowsObject)
}

// RelationSchema maps relation names to their allowed subject and object labels.
// Pushing a relation name twice replaces the first entry; the name keeps its
// original position in Relations().
type RelationSchema struct {
	names []string
	specs map[string]RelationSpec
}

func NewRelationSchema() *RelationSchema {
	return &RelationSchema{specs: map[string]RelationSpec{}}
}

func (s *RelationSchema) Push(relation string, subjects []string, objects []string) *RelationSchema {
	if _, ok := s.specs[relation]; !ok {
		s.names = append(s.names, relation)
	}
	s.specs[relation] = RelationSpec{Subjects: slices.Clone(subjects), Objects: slices.Clone(objects)}
	return s
}

func (s *RelationSchema) Get(relation string) (RelationSpec, bool) {
	spec, ok := s.specs[relation]
	return spec, ok
}

// Relations returns relation names in declaration order.
func (s *RelationSchema) Relations() []string {
	return slices.Clone(s.names)
}

func (s *RelationSchema) Len() int {
	return len(s.names)
}

// Validate rejects empty names and relations without subjects or objects.
func (s *RelationSchema) Validate() error {
	if s.Len() == 0 {
		return errors.New("relation schema is empty")
	}
	var errs []error
	for _, name := range s.names {
		spec := s.specs[name]
		if name == "" {
			errs = append(errs, errors.New("relation name must not be empty"))
		}
		if len(spec.Subjects) == 0 {
			errs = append(errs, fmt.Errorf("relation %s has no subject labels", name))
		}
		if len(spec.Objects) == 0 {
			errs = append(errs, fmt.Errorf("relation %s has no object labels", name))
		}
	}
	return errors.Join(errs...)
}

type schemaFile struct {
	Relations []struct {
		Name         string `yaml:"name"`
		RelationSpec `yaml:",inline"`
	} `yaml:"relations"`
}

// ParseRelationSchema reads a YAML document of the form
//
//	relations:
//	  - name: locatedIn
//	    subjects: [City]
//	    objects: [Country]
func ParseRelationSchema(b []byte) (*RelationSchema, error) {
	var file schemaFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parsing relation schema: %w", err)
	}
	schema := NewRelationSchema()
	for _, r := range file.Relations {
		schema.Push(r.Name, r.Subjects, r.Objects)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func LoadRelationSchema(ctx context.Context, path string) (*RelationSchema, error) {
	b, err := fileutil.ReadFileBytes(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseRelationSchema(b)
}
