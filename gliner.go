package gliner

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/knights-analytics/gliner/backends"
	"github.com/knights-analytics/gliner/options"
	"github.com/knights-analytics/gliner/pipelines"
)

// Session loads models once and holds the pipelines created on them, so they
// can all be destroyed with session.Destroy().
type Session struct {
	pipelines          map[string]backends.Pipeline
	models             map[string]*backends.Model
	options            *options.Options
	environmentDestroy func() error
}

func newSession(backend string, opts ...options.WithOption) (*Session, error) {
	parsedOptions := options.Defaults()
	parsedOptions.Backend = backend
	for _, option := range opts {
		if err := option(parsedOptions); err != nil {
			return nil, err
		}
	}
	return &Session{
		pipelines: map[string]backends.Pipeline{},
		models:    map[string]*backends.Model{},
		options:   parsedOptions,
		environmentDestroy: func() error {
			return nil
		},
	}, nil
}

// GLiNERConfig is the configuration for a GLiNER pipeline.
type GLiNERConfig = backends.PipelineConfig[*pipelines.GLiNERPipeline]

// GLiNEROption is an option for a GLiNER pipeline.
type GLiNEROption = backends.PipelineOption[*pipelines.GLiNERPipeline]

type pipelineNotFoundError struct {
	pipelineName string
}

func (e *pipelineNotFoundError) Error() string {
	return fmt.Sprintf("Pipeline with name %s not found", e.pipelineName)
}

// NewPipeline creates a pipeline of type T and stores it in the session.
// Models are loaded on first use and shared between pipelines.
func NewPipeline[T backends.Pipeline](s *Session, pipelineConfig backends.PipelineConfig[T]) (T, error) {
	return NewPipelineContext(context.Background(), s, pipelineConfig)
}

// NewPipelineContext is NewPipeline with a context for reading the model files.
func NewPipelineContext[T backends.Pipeline](ctx context.Context, s *Session, pipelineConfig backends.PipelineConfig[T]) (T, error) {
	var pipeline T
	if pipelineConfig.Name == "" {
		return pipeline, errors.New("a name for the pipeline is required")
	}
	if _, exists := s.pipelines[pipelineConfig.Name]; exists {
		return pipeline, fmt.Errorf("pipeline %s has already been initialised", pipelineConfig.Name)
	}

	modelKey := pipelineConfig.ModelPath + ":" + pipelineConfig.OnnxFilename
	model, ok := s.models[modelKey]
	if !ok {
		var err error
		model, err = backends.LoadModel(ctx, pipelineConfig.ModelPath, pipelineConfig.OnnxFilename, s.options)
		if err != nil {
			return pipeline, err
		}
		s.models[modelKey] = model
	}

	pipeline, err := initializePipeline(pipelineConfig, s.options, model)
	if err != nil {
		return pipeline, err
	}
	model.Pipelines[pipelineConfig.Name] = pipeline
	s.pipelines[pipelineConfig.Name] = pipeline
	s.options.Logger.Info("pipeline created",
		zap.String("name", pipelineConfig.Name),
		zap.String("model", model.ID),
		zap.String("backend", s.options.Backend))
	return pipeline, nil
}

func initializePipeline[T backends.Pipeline](pipelineConfig backends.PipelineConfig[T], opts *options.Options, model *backends.Model) (T, error) {
	var pipeline T
	switch any(pipeline).(type) {
	case *pipelines.GLiNERPipeline:
		config := any(pipelineConfig).(backends.PipelineConfig[*pipelines.GLiNERPipeline])
		initialised, err := pipelines.NewGLiNERPipeline(config, opts, model)
		if err != nil {
			return pipeline, err
		}
		return any(initialised).(T), nil
	default:
		return pipeline, fmt.Errorf("pipeline type not supported: %T", pipeline)
	}
}

// GetPipeline retrieves a pipeline of type T with the given name from the session.
func GetPipeline[T backends.Pipeline](s *Session, name string) (T, error) {
	var pipeline T
	p, ok := s.pipelines[name]
	if !ok {
		return pipeline, &pipelineNotFoundError{pipelineName: name}
	}
	typed, ok := p.(T)
	if !ok {
		return pipeline, fmt.Errorf("pipeline %s is a %T, not a %T", name, p, pipeline)
	}
	return typed, nil
}

// ClosePipeline removes a pipeline from the session. The model is destroyed
// once no pipeline uses it.
func ClosePipeline[T backends.Pipeline](s *Session, name string) error {
	pipeline, err := GetPipeline[T](s, name)
	if err != nil {
		return err
	}
	delete(s.pipelines, name)
	model := pipeline.GetModel()
	delete(model.Pipelines, name)
	if len(model.Pipelines) > 0 {
		return nil
	}
	for key, m := range s.models {
		if m == model {
			delete(s.models, key)
		}
	}
	if model.Destroy == nil {
		return nil
	}
	return model.Destroy()
}

// GetStats returns the runtime statistics of all pipelines, ordered by pipeline name.
func (s *Session) GetStats() []string {
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	slices.Sort(names)
	var stats []string
	for _, name := range names {
		stats = append(stats, s.pipelines[name].GetStats()...)
	}
	return stats
}

// Destroy releases all models, the backend session options and the runtime environment.
func (s *Session) Destroy() error {
	var errs []error
	for _, model := range s.models {
		if model.Destroy != nil {
			errs = append(errs, model.Destroy())
		}
	}
	s.models = map[string]*backends.Model{}
	s.pipelines = map[string]backends.Pipeline{}
	errs = append(errs, s.options.Destroy(), s.environmentDestroy())
	return errors.Join(errs...)
}
