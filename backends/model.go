package backends

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/knights-analytics/gliner/options"
	"github.com/knights-analytics/gliner/util/fileutil"
)

const (
	ModeSpan  = "markerV0"
	ModeToken = "token_level"

	DefaultMaxWidth  = 12
	DefaultMaxLength = 512
)

// ModelConfig is the subset of gliner_config.json the pipelines depend on.
type ModelConfig struct {
	SpanMode   string `json:"span_mode"`
	MaxWidth   int    `json:"max_width"`
	MaxLength  int    `json:"max_len"`
	FlatNER    *bool  `json:"flat_ner"`
	MultiLabel *bool  `json:"multi_label"`
	ModelName  string `json:"model_name"`
}

// TokenLevel reports whether the model scores token boundaries instead of a span grid.
func (c ModelConfig) TokenLevel() bool {
	return c.SpanMode == ModeToken
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{SpanMode: ModeSpan, MaxWidth: DefaultMaxWidth, MaxLength: DefaultMaxLength}
}

// ParseModelConfig reads gliner_config.json content, filling unset fields with defaults.
func ParseModelConfig(b []byte) (ModelConfig, error) {
	config := DefaultModelConfig()
	if err := jsoniter.Unmarshal(b, &config); err != nil {
		return config, fmt.Errorf("parsing gliner_config.json: %w", err)
	}
	if config.SpanMode == "" {
		config.SpanMode = ModeSpan
	}
	if config.MaxWidth <= 0 {
		config.MaxWidth = DefaultMaxWidth
	}
	if config.MaxLength <= 0 {
		config.MaxLength = DefaultMaxLength
	}
	return config, nil
}

type Model struct {
	ID           string
	Path         string
	OnnxFilename string
	OnnxPath     string
	Config       ModelConfig
	Scorer       Scorer
	Tokenizer    Tokenizer
	Pipelines    map[string]Pipeline
	Destroy      func() error
}

// LoadModel reads the model folder (local or s3), creating the scorer and tokenizer for the session backend.
func LoadModel(ctx context.Context, path string, onnxFilename string, opts *options.Options) (*Model, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	model := &Model{
		ID:           path + ":" + onnxFilename,
		Path:         path,
		OnnxFilename: onnxFilename,
		Pipelines:    map[string]Pipeline{},
	}

	config, err := loadModelConfig(ctx, path)
	if err != nil {
		return nil, err
	}
	model.Config = config

	if err = resolveOnnxPath(ctx, model); err != nil {
		return nil, err
	}
	onnxBytes, err := fileutil.ReadFileBytes(ctx, model.OnnxPath)
	if err != nil {
		return nil, err
	}
	tokenizerBytes, err := fileutil.ReadFileBytes(ctx, fileutil.PathJoinSafe(path, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("GLiNER models require a tokenizer.json: %w", err)
	}

	switch opts.Backend {
	case "ORT":
		model.Scorer, err = NewORTScorer(onnxBytes, opts)
		if err != nil {
			return nil, err
		}
		model.Tokenizer, err = NewRustTokenizer(tokenizerBytes)
	case "GO":
		model.Scorer, err = NewGoScorer(onnxBytes)
		if err != nil {
			return nil, err
		}
		model.Tokenizer, err = NewGoTokenizer(tokenizerBytes)
	default:
		return nil, fmt.Errorf("backend %s not recognized", opts.Backend)
	}
	if err != nil {
		return nil, errors.Join(err, model.Scorer.Destroy())
	}

	model.Destroy = func() error {
		return errors.Join(model.Tokenizer.Destroy(), model.Scorer.Destroy())
	}
	logger.Debug("loaded model",
		zap.String("path", model.OnnxPath),
		zap.String("backend", opts.Backend),
		zap.String("spanMode", config.SpanMode),
		zap.Int("maxWidth", config.MaxWidth),
		zap.Strings("inputs", GetNames(model.Scorer.Inputs())),
		zap.Strings("outputs", GetNames(model.Scorer.Outputs())))
	return model, nil
}

func loadModelConfig(ctx context.Context, path string) (ModelConfig, error) {
	configPath := fileutil.PathJoinSafe(path, "gliner_config.json")
	exists, err := fileutil.FileExists(ctx, configPath)
	if err != nil {
		return ModelConfig{}, err
	}
	if !exists {
		return DefaultModelConfig(), nil
	}
	b, err := fileutil.ReadFileBytes(ctx, configPath)
	if err != nil {
		return ModelConfig{}, err
	}
	return ParseModelConfig(b)
}

func resolveOnnxPath(ctx context.Context, model *Model) error {
	onnxFiles, err := fileutil.FindFiles(ctx, model.Path, ".onnx")
	if err != nil {
		return err
	}
	switch {
	case len(onnxFiles) == 0:
		return fmt.Errorf("no .onnx file detected at %s. There should be exactly one .onnx file", model.Path)
	case len(onnxFiles) == 1 && model.OnnxFilename == "":
		model.OnnxPath = fileutil.PathJoinSafe(model.Path, onnxFiles[0])
		return nil
	case model.OnnxFilename == "":
		return fmt.Errorf("multiple .onnx files detected at %s and no OnnxFilename specified", model.Path)
	}
	for _, f := range onnxFiles {
		if filepath.Base(f) == model.OnnxFilename || f == model.OnnxFilename {
			model.OnnxPath = fileutil.PathJoinSafe(model.Path, f)
			return nil
		}
	}
	return fmt.Errorf("file %s not found at %s", model.OnnxFilename, model.Path)
}
